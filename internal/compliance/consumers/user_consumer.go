package consumers

import (
	"context"

	"github.com/fisioflow/fisioflow-backend/internal/compliance/repository"
	"github.com/fisioflow/fisioflow-backend/pkg/database"
	"github.com/fisioflow/fisioflow-backend/pkg/httputil"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
	"github.com/fisioflow/fisioflow-backend/pkg/messaging"
)

// UserEventConsumer keeps the local user cache in sync with the user
// service. The cache backs audit listings after the source user row is
// gone and lets the erasure engine evict stale entries in the same
// transaction as the rest of the erasure.
type UserEventConsumer struct {
	consumer      *messaging.Consumer
	db            *database.DB
	userCacheRepo *repository.UserCacheRepository
	logger        *logger.Logger
}

// NewUserEventConsumer creates a new user event consumer
func NewUserEventConsumer(
	rmq *messaging.RabbitMQ,
	db *database.DB,
	userCacheRepo *repository.UserCacheRepository,
	log *logger.Logger,
) (*UserEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "compliance-service.user-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeUserEvents, "user.#"); err != nil {
		return nil, err
	}

	c := &UserEventConsumer{
		consumer:      consumer,
		db:            db,
		userCacheRepo: userCacheRepo,
		logger:        log,
	}

	consumer.RegisterHandler(messaging.EventUserCreated, c.handleUserCreated)
	consumer.RegisterHandler(messaging.EventUserUpdated, c.handleUserUpdated)
	consumer.RegisterHandler(messaging.EventUserDeleted, c.handleUserDeleted)

	return c, nil
}

// Start starts consuming messages
func (c *UserEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *UserEventConsumer) handleUserCreated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserCreatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}
	// The tenant ID ends up in a SET LOCAL statement, so it must be a
	// well-formed UUID before it crosses the database boundary.
	if err := httputil.Validate(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Str("tenant_id", data.TenantID).
		Msg("received user created event")

	return c.db.WithTenantRLS(ctx, data.TenantID, func(ctx context.Context) error {
		return c.userCacheRepo.Set(ctx, &repository.CachedUser{
			UserID: data.UserID,
			Name:   data.Name,
			Email:  &data.Email,
			Role:   &data.Role,
		})
	})
}

func (c *UserEventConsumer) handleUserUpdated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserUpdatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}
	if err := httputil.Validate(&data); err != nil {
		return err
	}

	return c.db.WithTenantRLS(ctx, data.TenantID, func(ctx context.Context) error {
		existing, err := c.userCacheRepo.Get(ctx, data.UserID)
		if err != nil {
			// Not cached yet; nothing to refresh
			return nil
		}

		if name, ok := data.Fields["name"].(string); ok {
			existing.Name = name
		}
		if email, ok := data.Fields["email"].(string); ok {
			existing.Email = &email
		}
		if role, ok := data.Fields["role"].(string); ok {
			existing.Role = &role
		}

		return c.userCacheRepo.Set(ctx, existing)
	})
}

func (c *UserEventConsumer) handleUserDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}
	if err := httputil.Validate(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Str("tenant_id", data.TenantID).
		Msg("received user deleted event")

	return c.db.WithTenantRLS(ctx, data.TenantID, func(ctx context.Context) error {
		return c.userCacheRepo.Delete(ctx, data.UserID)
	})
}
