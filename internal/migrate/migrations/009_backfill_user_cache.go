package migrations

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/fisioflow/fisioflow-backend/internal/migrate"
)

// Data migration: seed the user cache from existing user rows so audit
// listings resolve names for accounts created before the cache existed.
// Runs as a callback because it iterates tenants, which plain SQL in a
// single search_path cannot do with RLS in force.
var migration009 = &migrate.Migration{
	Name:     "009_backfill_user_cache",
	Database: DatabaseName,
	UpFn: func(ctx context.Context, tx *sqlx.Tx) error {
		var tenantIDs []string
		if err := tx.SelectContext(ctx, &tenantIDs, `SELECT id FROM public.tenants`); err != nil {
			return err
		}

		for _, tenantID := range tenantIDs {
			if _, err := tx.ExecContext(ctx, `SELECT set_config('app.current_tenant', $1, true)`, tenantID); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO compliance.user_cache (user_id, tenant_id, name, email, role, updated_at)
				SELECT u.id, u.tenant_id, u.name, u.email, u.role, NOW()
				FROM compliance.users u
				WHERE u.tenant_id = $1::uuid
				ON CONFLICT (user_id) DO NOTHING
			`, tenantID)
			if err != nil {
				return err
			}
		}
		return nil
	},
	DownFn: func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `TRUNCATE compliance.user_cache`)
		return err
	},
}
