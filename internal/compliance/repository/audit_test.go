package repository_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisioflow/fisioflow-backend/internal/compliance/domain"
	"github.com/fisioflow/fisioflow-backend/internal/compliance/repository"
	"github.com/fisioflow/fisioflow-backend/pkg/testutil"
)

func TestAuditRepository_CreateAndList(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "audit-list")
	repo := repository.NewAuditRepository(suite.DB)

	alice := uuid.New().String()
	bob := uuid.New().String()

	entries := []*domain.AuditLog{
		{UserID: alice, Action: domain.ActionDeletionRequested, Details: map[string]any{"grace_days": 30}},
		{UserID: alice, Action: domain.ActionDeletionCancelled},
		{UserID: bob, Action: domain.ActionDeletionRequested, IPAddress: testutil.PtrString("203.0.113.9")},
	}

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		for _, e := range entries {
			if err := repo.Create(ctx, e); err != nil {
				return err
			}
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.CreatedAt.IsZero())
		}
		return nil
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		logs, total, err := repo.List(ctx, nil, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, logs, 3)
		return nil
	})

	// Filter by user
	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		logs, total, err := repo.List(ctx, &repository.AuditFilter{UserID: alice}, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		for _, l := range logs {
			assert.Equal(t, alice, l.UserID)
		}
		return nil
	})

	// Filter by user and action
	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		logs, total, err := repo.List(ctx, &repository.AuditFilter{
			UserID: alice,
			Action: domain.ActionDeletionRequested,
		}, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, logs, 1)
		assert.Equal(t, float64(30), logs[0].Details["grace_days"])
		return nil
	})
}

func TestAuditRepository_Pagination(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "audit-pages")
	repo := repository.NewAuditRepository(suite.DB)

	userID := uuid.New().String()

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		for i := 0; i < 5; i++ {
			if err := repo.Create(ctx, &domain.AuditLog{
				UserID: userID,
				Action: domain.ActionDeletionExecuted,
			}); err != nil {
				return err
			}
		}
		return nil
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		first, total, err := repo.List(ctx, nil, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, first, 2)

		last, _, err := repo.List(ctx, nil, 3, 2)
		require.NoError(t, err)
		assert.Len(t, last, 1)
		return nil
	})
}

func TestUserCacheRepository_SetGetDelete(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "user-cache")
	repo := repository.NewUserCacheRepository(suite.DB)

	userID := uuid.New().String()

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		err := repo.Set(ctx, &repository.CachedUser{
			UserID: userID,
			Name:   "Ana Costa",
			Email:  testutil.PtrString("ana@example.com"),
			Role:   testutil.PtrString("patient"),
		})
		require.NoError(t, err)

		got, err := repo.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "Ana Costa", got.Name)
		require.NotNil(t, got.Email)
		assert.Equal(t, "ana@example.com", *got.Email)
		return nil
	})

	// Upsert overwrites in place
	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		err := repo.Set(ctx, &repository.CachedUser{UserID: userID, Name: "Ana C. Costa"})
		require.NoError(t, err)

		got, err := repo.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "Ana C. Costa", got.Name)
		assert.Nil(t, got.Email)
		return nil
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		require.NoError(t, repo.Delete(ctx, userID))

		_, err := repo.Get(ctx, userID)
		assert.Error(t, err)
		return nil
	})
}
