package migrations

import "github.com/fisioflow/fisioflow-backend/internal/migrate"

var migration001 = &migrate.Migration{
	Name:     "001_create_tenants",
	Database: DatabaseName,
	Up: `
		CREATE TABLE IF NOT EXISTS public.tenants (
			id         UUID PRIMARY KEY,
			name       TEXT NOT NULL,
			slug       TEXT NOT NULL UNIQUE,
			is_active  BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`,
	Down: `DROP TABLE IF EXISTS public.tenants`,
}
