package migrations

import "github.com/fisioflow/fisioflow-backend/internal/migrate"

// The partial unique index is what makes "one pending request per user"
// hold under concurrent requests, not just under the service's own check.
var migration004 = &migrate.Migration{
	Name:     "004_create_deletion_requests",
	Database: DatabaseName,
	Up: `
		CREATE TABLE IF NOT EXISTS compliance.deletion_requests (
			id             UUID PRIMARY KEY,
			tenant_id      UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id        UUID NOT NULL,
			status         TEXT NOT NULL DEFAULT 'pending'
			               CONSTRAINT status_valid CHECK (status IN ('pending', 'cancelled', 'completed')),
			requested_at   TIMESTAMPTZ NOT NULL,
			scheduled_date TIMESTAMPTZ NOT NULL,
			ip_address     TEXT,
			user_agent     TEXT,
			cancelled_at   TIMESTAMPTZ,
			completed_at   TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_deletion_requests_one_pending
			ON compliance.deletion_requests (tenant_id, user_id)
			WHERE status = 'pending';
		CREATE INDEX IF NOT EXISTS idx_deletion_requests_due
			ON compliance.deletion_requests (scheduled_date)
			WHERE status = 'pending';

		ALTER TABLE compliance.deletion_requests ENABLE ROW LEVEL SECURITY;
		ALTER TABLE compliance.deletion_requests FORCE ROW LEVEL SECURITY;
		CREATE POLICY tenant_isolation ON compliance.deletion_requests
			USING (tenant_id = current_setting('app.current_tenant')::uuid)
			WITH CHECK (tenant_id = current_setting('app.current_tenant')::uuid);
	`,
	Down: `DROP TABLE IF EXISTS compliance.deletion_requests`,
}
