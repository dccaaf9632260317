package repository_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisioflow/fisioflow-backend/internal/compliance/domain"
	"github.com/fisioflow/fisioflow-backend/internal/compliance/repository"
	apperrors "github.com/fisioflow/fisioflow-backend/pkg/errors"
	"github.com/fisioflow/fisioflow-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Printf("postgres container unavailable, integration tests will be skipped: %v", err)
		suite = nil
	}

	code := m.Run()
	if suite != nil {
		testutil.TerminateContainer(ctx)
	}
	os.Exit(code)
}

// integration skips the calling test when the shared Postgres container
// could not be started, typically because Docker is not available.
func integration(t *testing.T) {
	t.Helper()
	if suite == nil {
		t.Skip("postgres container unavailable")
	}
}

// withTenant runs fn inside a tenant-scoped RLS transaction
func withTenant(t *testing.T, ctx context.Context, tenantID string, fn func(ctx context.Context) error) {
	t.Helper()
	require.NoError(t, suite.DB.WithTenantRLS(ctx, tenantID, fn))
}

func pendingRequest(userID string) *domain.DeletionRequest {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.DeletionRequest{
		UserID:        userID,
		Status:        domain.StatusPending,
		RequestedAt:   now,
		ScheduledDate: now.Add(30 * 24 * time.Hour),
	}
}

func TestRequestRepository_CreateAndFind(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "req-create")
	repo := repository.NewRequestRepository(suite.DB)
	userID := uuid.New().String()

	req := pendingRequest(userID)
	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		if err := repo.Create(ctx, req); err != nil {
			return err
		}

		found, err := repo.FindPendingByUser(ctx, userID)
		if err != nil {
			return err
		}
		assert.Equal(t, req.ID, found.ID)
		assert.Equal(t, domain.StatusPending, found.Status)
		assert.WithinDuration(t, req.ScheduledDate, found.ScheduledDate, time.Second)
		return nil
	})

	assert.NotEmpty(t, req.ID)
	assert.False(t, req.CreatedAt.IsZero())
}

func TestRequestRepository_OnePendingPerUser(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "req-one-pending")
	repo := repository.NewRequestRepository(suite.DB)
	userID := uuid.New().String()

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		return repo.Create(ctx, pendingRequest(userID))
	})

	// The partial unique index rejects a second pending request even if
	// the application-level check is bypassed
	err := suite.DB.WithTenantRLS(ctx, tenant.ID, func(ctx context.Context) error {
		return repo.Create(ctx, pendingRequest(userID))
	})
	require.Error(t, err)

	// A cancelled request frees the slot
	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		if _, err := repo.CancelPending(ctx, userID, time.Now().UTC()); err != nil {
			return err
		}
		return repo.Create(ctx, pendingRequest(userID))
	})
}

func TestRequestRepository_CancelPending(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "req-cancel")
	repo := repository.NewRequestRepository(suite.DB)
	userID := uuid.New().String()

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		return repo.Create(ctx, pendingRequest(userID))
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		cancelled, err := repo.CancelPending(ctx, userID, time.Now().UTC())
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), cancelled)

		latest, err := repo.FindLatestByUser(ctx, userID)
		if err != nil {
			return err
		}
		assert.Equal(t, domain.StatusCancelled, latest.Status)
		assert.NotNil(t, latest.CancelledAt)
		return nil
	})

	// Nothing left to cancel
	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		cancelled, err := repo.CancelPending(ctx, userID, time.Now().UTC())
		if err != nil {
			return err
		}
		assert.Zero(t, cancelled)
		return nil
	})
}

func TestRequestRepository_FindDue(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "req-due")
	repo := repository.NewRequestRepository(suite.DB)

	dueUser := uuid.New().String()
	futureUser := uuid.New().String()

	dueReq := pendingRequest(dueUser)
	dueReq.RequestedAt = time.Now().UTC().Add(-31 * 24 * time.Hour)
	dueReq.ScheduledDate = time.Now().UTC().Add(-24 * time.Hour)

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		if err := repo.Create(ctx, dueReq); err != nil {
			return err
		}
		return repo.Create(ctx, pendingRequest(futureUser))
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		due, err := repo.FindDue(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		require.Len(t, due, 1)
		assert.Equal(t, dueUser, due[0].UserID)
		return nil
	})
}

func TestRequestRepository_FindDue_GraceBoundary(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "req-due-boundary")
	repo := repository.NewRequestRepository(suite.DB)

	scheduled := time.Now().UTC().Truncate(time.Millisecond)
	req := pendingRequest(uuid.New().String())
	req.ScheduledDate = scheduled

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		return repo.Create(ctx, req)
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		// A millisecond before the scheduled instant the window is still open.
		due, err := repo.FindDue(ctx, scheduled.Add(-time.Millisecond))
		if err != nil {
			return err
		}
		assert.Empty(t, due)

		// The moment the clock reaches it, the request is due.
		due, err = repo.FindDue(ctx, scheduled)
		if err != nil {
			return err
		}
		require.Len(t, due, 1)
		assert.Equal(t, req.ID, due[0].ID)
		return nil
	})
}

func TestRequestRepository_MarkCompletedOnlyOnce(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "req-complete")
	repo := repository.NewRequestRepository(suite.DB)

	req := pendingRequest(uuid.New().String())
	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		return repo.Create(ctx, req)
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		return repo.MarkCompleted(ctx, req.ID, time.Now().UTC())
	})

	// A second completion attempt hits the status guard
	err := suite.DB.WithTenantRLS(ctx, tenant.ID, func(ctx context.Context) error {
		return repo.MarkCompleted(ctx, req.ID, time.Now().UTC())
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
}

func TestRequestRepository_FindPendingByUser_NotFound(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "req-notfound")
	repo := repository.NewRequestRepository(suite.DB)

	err := suite.DB.WithTenantRLS(ctx, tenant.ID, func(ctx context.Context) error {
		_, err := repo.FindPendingByUser(ctx, uuid.New().String())
		return err
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}
