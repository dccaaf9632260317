package migrations

import "github.com/fisioflow/fisioflow-backend/internal/migrate"

// Tenant columns default to the RLS setting so inserts inside
// WithTenantRLS never have to pass tenant_id explicitly.
var migration003 = &migrate.Migration{
	Name:     "003_create_users",
	Database: DatabaseName,
	Up: `
		CREATE TABLE IF NOT EXISTS compliance.users (
			id            UUID PRIMARY KEY,
			tenant_id     UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			email         TEXT NOT NULL,
			name          TEXT NOT NULL,
			phone_number  TEXT,
			role          TEXT NOT NULL DEFAULT 'patient',
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, email)
		);

		CREATE TABLE IF NOT EXISTS compliance.sessions (
			id         UUID PRIMARY KEY,
			tenant_id  UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id    UUID NOT NULL REFERENCES compliance.users (id) ON DELETE CASCADE,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user ON compliance.sessions (user_id);

		ALTER TABLE compliance.users ENABLE ROW LEVEL SECURITY;
		ALTER TABLE compliance.users FORCE ROW LEVEL SECURITY;
		ALTER TABLE compliance.sessions ENABLE ROW LEVEL SECURITY;
		ALTER TABLE compliance.sessions FORCE ROW LEVEL SECURITY;

		CREATE POLICY tenant_isolation ON compliance.users
			USING (tenant_id = current_setting('app.current_tenant')::uuid)
			WITH CHECK (tenant_id = current_setting('app.current_tenant')::uuid);
		CREATE POLICY tenant_isolation ON compliance.sessions
			USING (tenant_id = current_setting('app.current_tenant')::uuid)
			WITH CHECK (tenant_id = current_setting('app.current_tenant')::uuid);
	`,
	Down: `
		DROP TABLE IF EXISTS compliance.sessions;
		DROP TABLE IF EXISTS compliance.users;
	`,
}
