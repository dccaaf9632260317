package migrations

import "github.com/fisioflow/fisioflow-backend/internal/migrate"

// user_id is deliberately not a foreign key: audit entries outlive the
// users they describe.
var migration005 = &migrate.Migration{
	Name:     "005_create_audit_logs",
	Database: DatabaseName,
	Up: `
		CREATE TABLE IF NOT EXISTS compliance.audit_logs (
			id         UUID PRIMARY KEY,
			tenant_id  UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id    UUID NOT NULL,
			action     TEXT NOT NULL,
			details    JSONB NOT NULL DEFAULT '{}',
			ip_address TEXT,
			user_agent TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON compliance.audit_logs (user_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON compliance.audit_logs (created_at DESC);

		ALTER TABLE compliance.audit_logs ENABLE ROW LEVEL SECURITY;
		ALTER TABLE compliance.audit_logs FORCE ROW LEVEL SECURITY;
		CREATE POLICY tenant_isolation ON compliance.audit_logs
			USING (tenant_id = current_setting('app.current_tenant')::uuid)
			WITH CHECK (tenant_id = current_setting('app.current_tenant')::uuid);
	`,
	Down: `DROP TABLE IF EXISTS compliance.audit_logs`,
}
