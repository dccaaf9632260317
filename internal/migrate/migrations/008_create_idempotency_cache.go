package migrations

import "github.com/fisioflow/fisioflow-backend/internal/migrate"

// The cache lives in public because idempotency keys and locks span
// tenants (the sweep lock is per tenant but acquired outside any tenant
// transaction).
var migration008 = &migrate.Migration{
	Name:     "008_create_idempotency_cache",
	Database: DatabaseName,
	Up: `
		CREATE TABLE IF NOT EXISTS public.ai_idempotency_cache (
			cache_key  TEXT PRIMARY KEY,
			response   JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_idempotency_expires
			ON public.ai_idempotency_cache (expires_at);
	`,
	Down: `DROP TABLE IF EXISTS public.ai_idempotency_cache`,
}
