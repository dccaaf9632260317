package service

import (
	"context"
	"time"

	"github.com/fisioflow/fisioflow-backend/internal/compliance/domain"
	"github.com/fisioflow/fisioflow-backend/internal/compliance/repository"
	"github.com/fisioflow/fisioflow-backend/pkg/blob"
	"github.com/fisioflow/fisioflow-backend/pkg/config"
	"github.com/fisioflow/fisioflow-backend/pkg/database"
	apperrors "github.com/fisioflow/fisioflow-backend/pkg/errors"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
	"github.com/fisioflow/fisioflow-backend/pkg/messaging"
)

// Clock lets tests pin time. Production uses time.Now.
type Clock func() time.Time

// IdentityStore deletes a user's login identity.
type IdentityStore interface {
	DeleteUser(ctx context.Context, userID string) error
}

// BlobStore deletes a user's stored files.
type BlobStore interface {
	DeletePrefix(prefix string) (int, error)
}

// EventPublisher publishes compliance events.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// DeletionService implements the account deletion lifecycle: request with
// a grace window, cancellation, and the erasure run that applies the
// retention schedule to every user-linked table.
type DeletionService struct {
	db        *database.DB
	requests  *repository.RequestRepository
	audits    *repository.AuditRepository
	eraser    *repository.ErasureRepository
	userCache *repository.UserCacheRepository
	identity  IdentityStore
	blobs     BlobStore
	publisher EventPublisher
	schedule  []domain.CollectionPolicy
	grace     time.Duration
	logger    *logger.Logger
	now       Clock
}

// NewDeletionService creates a new deletion service
func NewDeletionService(
	db *database.DB,
	requests *repository.RequestRepository,
	audits *repository.AuditRepository,
	eraser *repository.ErasureRepository,
	userCache *repository.UserCacheRepository,
	identity IdentityStore,
	blobs BlobStore,
	publisher EventPublisher,
	cfg *config.RetentionConfig,
	log *logger.Logger,
) *DeletionService {
	return &DeletionService{
		db:        db,
		requests:  requests,
		audits:    audits,
		eraser:    eraser,
		userCache: userCache,
		identity:  identity,
		blobs:     blobs,
		publisher: publisher,
		schedule:  domain.RetentionSchedule(),
		grace:     cfg.GracePeriod,
		logger:    log.WithComponent("deletion"),
		now:       time.Now,
	}
}

// WithClock replaces the service clock. Used by tests.
func (s *DeletionService) WithClock(now Clock) *DeletionService {
	s.now = now
	return s
}

// RequestDeletion opens a deletion request with the configured grace
// window. A user who already has a pending request gets that request's
// schedule back unchanged; no duplicate row, audit entry or event is
// produced. The second return value reports whether the schedule existed
// before this call.
func (s *DeletionService) RequestDeletion(ctx context.Context, tenantID, userID string, ip, userAgent *string) (*domain.DeletionRequest, bool, error) {
	now := s.now()
	req := &domain.DeletionRequest{
		UserID:        userID,
		Status:        domain.StatusPending,
		RequestedAt:   now,
		ScheduledDate: now.Add(s.grace),
		IPAddress:     ip,
		UserAgent:     userAgent,
	}

	alreadyScheduled := false
	err := s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		existing, err := s.requests.FindPendingByUser(ctx, userID)
		if err == nil {
			alreadyScheduled = true
			req = existing
			return nil
		}
		if !apperrors.IsNotFound(err) {
			return err
		}

		if err := s.requests.Create(ctx, req); err != nil {
			return err
		}

		return s.audits.Create(ctx, &domain.AuditLog{
			UserID: userID,
			Action: domain.ActionDeletionRequested,
			Details: map[string]any{
				"request_id":     req.ID,
				"scheduled_date": req.ScheduledDate,
			},
			IPAddress: ip,
			UserAgent: userAgent,
		})
	})
	if err != nil {
		return nil, false, err
	}

	if alreadyScheduled {
		s.logger.Info().
			Str("user_id", userID).
			Str("request_id", req.ID).
			Msg("deletion already scheduled, returning existing request")
		return req, true, nil
	}

	s.publishEvent(ctx, messaging.EventDeletionRequested, messaging.DeletionRequestedEvent{
		RequestID:     req.ID,
		UserID:        userID,
		ScheduledDate: req.ScheduledDate,
		TenantID:      tenantID,
	})

	s.logger.Info().
		Str("user_id", userID).
		Str("request_id", req.ID).
		Time("scheduled_date", req.ScheduledDate).
		Msg("account deletion requested")

	return req, false, nil
}

// CancelDeletion withdraws the user's pending request during the grace
// window. Every pending request of the user flips to cancelled, so a
// stray duplicate cannot survive a cancellation.
func (s *DeletionService) CancelDeletion(ctx context.Context, tenantID, userID string, ip, userAgent *string) error {
	now := s.now()

	err := s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		cancelled, err := s.requests.CancelPending(ctx, userID, now)
		if err != nil {
			return err
		}
		if cancelled == 0 {
			return apperrors.NotFound("no pending deletion request to cancel")
		}

		return s.audits.Create(ctx, &domain.AuditLog{
			UserID:    userID,
			Action:    domain.ActionDeletionCancelled,
			Details:   map[string]any{"cancelled_requests": cancelled},
			IPAddress: ip,
			UserAgent: userAgent,
		})
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, messaging.EventDeletionCancelled, messaging.DeletionCancelledEvent{
		UserID:   userID,
		TenantID: tenantID,
	})

	s.logger.Info().Str("user_id", userID).Msg("account deletion cancelled")
	return nil
}

// DeletionStatus describes the user's most recent request.
type DeletionStatus struct {
	Request       *domain.DeletionRequest `json:"request"`
	DaysRemaining int                     `json:"days_remaining"`
}

// GetStatus returns the user's most recent deletion request with the
// remaining grace days.
func (s *DeletionService) GetStatus(ctx context.Context, tenantID, userID string) (*DeletionStatus, error) {
	var status *DeletionStatus
	err := s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		req, err := s.requests.FindLatestByUser(ctx, userID)
		if err != nil {
			return err
		}
		status = &DeletionStatus{
			Request:       req,
			DaysRemaining: req.DaysRemaining(s.now()),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// ListAuditLogs lists the tenant's compliance audit trail.
func (s *DeletionService) ListAuditLogs(ctx context.Context, tenantID string, filter *repository.AuditFilter, page, perPage int) ([]*domain.AuditLog, int64, error) {
	var logs []*domain.AuditLog
	var total int64
	err := s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		var err error
		logs, total, err = s.audits.List(ctx, filter, page, perPage)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// ExecuteNow runs the erasure for a user's pending request immediately,
// skipping the grace window. Admin only; the regular scheduler path goes
// through RunDue.
func (s *DeletionService) ExecuteNow(ctx context.Context, tenantID, userID string) (*domain.ErasureSummary, error) {
	var req *domain.DeletionRequest
	err := s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		var err error
		req, err = s.requests.FindPendingByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.executeRequest(ctx, tenantID, req)
}

// RunDue executes every request in the tenant whose grace window has
// elapsed. Each user's erasure runs in its own transaction; one failure
// does not stop the rest of the batch.
func (s *DeletionService) RunDue(ctx context.Context, tenantID string) (int, error) {
	var due []*domain.DeletionRequest
	err := s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		var err error
		due, err = s.requests.FindDue(ctx, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}

	executed := 0
	for _, req := range due {
		if _, err := s.executeRequest(ctx, tenantID, req); err != nil {
			s.logger.Error().Err(err).
				Str("tenant_id", tenantID).
				Str("user_id", req.UserID).
				Str("request_id", req.ID).
				Msg("erasure run failed for user")
			s.recordFailure(ctx, tenantID, req, err)
			continue
		}
		executed++
	}
	return executed, nil
}

// executeRequest applies the full retention schedule to one user. All
// table mutations, the cache eviction and the request status flip share
// one transaction; either the whole account is erased or nothing is. The
// identity delete, blob deletion, the audit entry and the published event
// happen after commit and never roll the erasure back.
func (s *DeletionService) executeRequest(ctx context.Context, tenantID string, req *domain.DeletionRequest) (*domain.ErasureSummary, error) {
	now := s.now()
	summary := &domain.ErasureSummary{}
	counts := map[string]int64{}

	err := s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		for _, cp := range s.schedule {
			rows, err := s.eraser.Apply(ctx, cp, req.UserID, now)
			if err != nil {
				return err
			}
			if rows == 0 {
				// The user never touched this table; listing it would
				// clutter the summary and the audit trail.
				continue
			}
			counts[cp.Table] = rows
			switch cp.Policy.Fate {
			case domain.FateDelete:
				summary.Deleted = append(summary.Deleted, cp.Table)
			case domain.FateAnonymize, domain.FateAnonymizeRetain:
				summary.Anonymized = append(summary.Anonymized, cp.Table)
			case domain.FateFlagOnly:
				summary.Retained = append(summary.Retained, cp.Table)
			}
		}

		if err := s.userCache.Delete(ctx, req.UserID); err != nil {
			return err
		}
		return s.requests.MarkCompleted(ctx, req.ID, now)
	})
	if err != nil {
		return nil, err
	}

	// The database state is committed; everything from here is best effort.
	// The auth record in particular must not hold the erasure hostage:
	// tenant data is already scrubbed, and a leftover login is cleaned up
	// on the next run.
	if err := s.identity.DeleteUser(ctx, req.UserID); err != nil {
		s.logger.Error().Err(err).Str("user_id", req.UserID).Msg("failed to delete identity record")
	}

	if deleted, err := s.blobs.DeletePrefix(blob.UserPrefix(req.UserID)); err != nil {
		s.logger.Error().Err(err).Str("user_id", req.UserID).Msg("failed to delete user blobs")
	} else {
		summary.BlobsDeleted = deleted
	}

	auditErr := s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return s.audits.Create(ctx, &domain.AuditLog{
			UserID: req.UserID,
			Action: domain.ActionDeletionExecuted,
			Details: map[string]any{
				"request_id":    req.ID,
				"deleted":       summary.Deleted,
				"anonymized":    summary.Anonymized,
				"retained":      summary.Retained,
				"blobs_deleted": summary.BlobsDeleted,
				"row_counts":    counts,
			},
		})
	})
	if auditErr != nil {
		s.logger.Error().Err(auditErr).Str("user_id", req.UserID).Msg("failed to record erasure audit entry")
	}

	s.publishEvent(ctx, messaging.EventAccountDeleted, messaging.AccountDeletedEvent{
		UserID:                req.UserID,
		TenantID:              tenantID,
		DeletedCollections:    summary.Deleted,
		AnonymizedCollections: summary.Anonymized,
		RetainedCollections:   summary.Retained,
	})

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("user_id", req.UserID).
		Str("request_id", req.ID).
		Int("blobs_deleted", summary.BlobsDeleted).
		Msg("account erased")

	return summary, nil
}

func (s *DeletionService) recordFailure(ctx context.Context, tenantID string, req *domain.DeletionRequest, cause error) {
	err := s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return s.audits.Create(ctx, &domain.AuditLog{
			UserID: req.UserID,
			Action: domain.ActionDeletionFailed,
			Details: map[string]any{
				"request_id": req.ID,
				"error":      cause.Error(),
			},
		})
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", req.UserID).Msg("failed to record erasure failure")
	}
}

func (s *DeletionService) publishEvent(ctx context.Context, eventType string, data interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, data); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to publish event")
	}
}
