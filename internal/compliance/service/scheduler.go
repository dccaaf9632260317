package service

import (
	"context"
	"errors"
	"time"

	"github.com/fisioflow/fisioflow-backend/internal/idempotency"
	"github.com/fisioflow/fisioflow-backend/pkg/database"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
)

// FeatureExecuteDeletions is the idempotency feature name for the bulk
// erasure sweep. One guard key per tenant per sweep payload.
const FeatureExecuteDeletions = "account_deletion_execute"

// RetentionScheduler runs the erasure sweep periodically across all
// tenants. Each tenant's sweep is wrapped in the idempotency guard so
// overlapping schedulers (multiple service replicas) never run the same
// tenant twice concurrently.
type RetentionScheduler struct {
	deletions *DeletionService
	guard     *idempotency.Guard
	store     *idempotency.Store
	db        *database.DB
	interval  time.Duration
	logger    *logger.Logger
	cancel    context.CancelFunc
}

// NewRetentionScheduler creates a new retention scheduler
func NewRetentionScheduler(
	deletions *DeletionService,
	guard *idempotency.Guard,
	store *idempotency.Store,
	db *database.DB,
	interval time.Duration,
	log *logger.Logger,
) *RetentionScheduler {
	return &RetentionScheduler{
		deletions: deletions,
		guard:     guard,
		store:     store,
		db:        db,
		interval:  interval,
		logger:    log.WithComponent("retention-scheduler"),
	}
}

// Start starts the scheduler in a background goroutine.
// On each tick it sweeps every active tenant and then prunes expired
// idempotency entries.
func (s *RetentionScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", s.interval).Msg("retention scheduler started")

		// Run an initial sweep immediately
		s.runSweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("retention scheduler stopped")
				return
			case <-ticker.C:
				s.runSweep(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine
func (s *RetentionScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// runSweep executes due deletion requests for every active tenant
func (s *RetentionScheduler) runSweep(ctx context.Context) {
	start := time.Now()
	s.logger.Info().Msg("starting retention sweep")

	tenantIDs, err := s.getActiveTenantIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query active tenants")
		return
	}

	for _, tenantID := range tenantIDs {
		s.sweepTenant(ctx, tenantID)
	}

	if pruned, err := s.store.CleanupExpired(ctx); err != nil {
		s.logger.Error().Err(err).Msg("idempotency cleanup failed")
	} else if pruned > 0 {
		s.logger.Info().Int64("pruned", pruned).Msg("pruned expired idempotency entries")
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("tenant_count", len(tenantIDs)).
		Msg("retention sweep completed")
}

func (s *RetentionScheduler) sweepTenant(ctx context.Context, tenantID string) {
	payload := map[string]any{"tenant_id": tenantID}

	_, cached, err := s.guard.Do(ctx, FeatureExecuteDeletions, tenantID, payload, func(ctx context.Context) (any, error) {
		executed, err := s.deletions.RunDue(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"executed": executed}, nil
	})
	if err != nil {
		if errors.Is(err, idempotency.ErrAlreadyInProgress) {
			s.logger.Info().Str("tenant_id", tenantID).Msg("sweep already running elsewhere, skipping tenant")
			return
		}
		s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("retention sweep failed for tenant")
		return
	}
	if cached {
		s.logger.Debug().Str("tenant_id", tenantID).Msg("sweep result served from cache, skipping tenant")
	}
}

// getActiveTenantIDs queries all active tenant IDs from public.tenants.
// The public schema has no RLS, so no tenant context is needed.
func (s *RetentionScheduler) getActiveTenantIDs(ctx context.Context) ([]string, error) {
	var tenantIDs []string
	query := `SELECT id FROM public.tenants WHERE is_active = TRUE`
	err := s.db.DB.SelectContext(ctx, &tenantIDs, query)
	if err != nil {
		return nil, err
	}
	return tenantIDs, nil
}
