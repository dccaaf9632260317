package migrations

import "github.com/fisioflow/fisioflow-backend/internal/migrate"

var migration006 = &migrate.Migration{
	Name:     "006_create_user_cache",
	Database: DatabaseName,
	Up: `
		CREATE TABLE IF NOT EXISTS compliance.user_cache (
			user_id    UUID PRIMARY KEY,
			tenant_id  UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			name       TEXT NOT NULL,
			email      TEXT,
			role       TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		ALTER TABLE compliance.user_cache ENABLE ROW LEVEL SECURITY;
		ALTER TABLE compliance.user_cache FORCE ROW LEVEL SECURITY;
		CREATE POLICY tenant_isolation ON compliance.user_cache
			USING (tenant_id = current_setting('app.current_tenant')::uuid)
			WITH CHECK (tenant_id = current_setting('app.current_tenant')::uuid);
	`,
	Down: `DROP TABLE IF EXISTS compliance.user_cache`,
}
