package migrations

import "github.com/fisioflow/fisioflow-backend/internal/migrate"

// Every table the retention schedule names. user_id is TEXT because
// anonymization rewrites it to a synthetic deleted_user_ identifier.
// Tables under an anonymizing policy carry anonymized_at; fiscal tables
// add marked_for_deletion; medical tables carry the user_deleted flag
// pair instead.
var migration007 = &migrate.Migration{
	Name:     "007_create_domain_tables",
	Database: DatabaseName,
	Up: `
		CREATE TABLE IF NOT EXISTS compliance.device_tokens (
			id         UUID PRIMARY KEY,
			tenant_id  UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id    TEXT NOT NULL,
			token      TEXT NOT NULL,
			platform   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS compliance.notifications (
			id         UUID PRIMARY KEY,
			tenant_id  UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL,
			body       TEXT,
			read_at    TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS compliance.crm_leads (
			id            UUID PRIMARY KEY,
			tenant_id     UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id       TEXT NOT NULL,
			email         TEXT,
			display_name  TEXT,
			phone_number  TEXT,
			stage         TEXT NOT NULL DEFAULT 'new',
			anonymized_at TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS compliance.appointments (
			id            UUID PRIMARY KEY,
			tenant_id     UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id       TEXT NOT NULL,
			therapist_id  UUID,
			email         TEXT,
			display_name  TEXT,
			phone_number  TEXT,
			starts_at     TIMESTAMPTZ NOT NULL,
			status        TEXT NOT NULL DEFAULT 'scheduled',
			anonymized_at TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS compliance.exercise_logs (
			id            UUID PRIMARY KEY,
			tenant_id     UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id       TEXT NOT NULL,
			exercise_id   UUID,
			performed_at  TIMESTAMPTZ NOT NULL,
			sets          INTEGER,
			reps          INTEGER,
			pain_level    INTEGER,
			anonymized_at TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS compliance.exercise_prescriptions (
			id            UUID PRIMARY KEY,
			tenant_id     UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id       TEXT NOT NULL,
			therapist_id  UUID,
			protocol      JSONB NOT NULL DEFAULT '{}',
			anonymized_at TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS compliance.pain_diary_entries (
			id            UUID PRIMARY KEY,
			tenant_id     UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id       TEXT NOT NULL,
			pain_level    INTEGER NOT NULL,
			notes         TEXT,
			recorded_at   TIMESTAMPTZ NOT NULL,
			anonymized_at TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS compliance.payments (
			id                  UUID PRIMARY KEY,
			tenant_id           UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id             TEXT NOT NULL,
			amount_cents        BIGINT NOT NULL,
			currency            TEXT NOT NULL DEFAULT 'BRL',
			paid_at             TIMESTAMPTZ,
			anonymized_at       TIMESTAMPTZ,
			marked_for_deletion TIMESTAMPTZ,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS compliance.invoices (
			id                  UUID PRIMARY KEY,
			tenant_id           UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id             TEXT NOT NULL,
			number              TEXT NOT NULL,
			amount_cents        BIGINT NOT NULL,
			issued_at           TIMESTAMPTZ NOT NULL,
			anonymized_at       TIMESTAMPTZ,
			marked_for_deletion TIMESTAMPTZ,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS compliance.medical_records (
			id              UUID PRIMARY KEY,
			tenant_id       UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id         TEXT NOT NULL,
			therapist_id    UUID,
			record          JSONB NOT NULL DEFAULT '{}',
			user_deleted    BOOLEAN NOT NULL DEFAULT FALSE,
			user_deleted_at TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS compliance.clinical_evolutions (
			id              UUID PRIMARY KEY,
			tenant_id       UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id         TEXT NOT NULL,
			therapist_id    UUID,
			notes           TEXT NOT NULL,
			user_deleted    BOOLEAN NOT NULL DEFAULT FALSE,
			user_deleted_at TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS compliance.body_assessments (
			id              UUID PRIMARY KEY,
			tenant_id       UUID NOT NULL DEFAULT current_setting('app.current_tenant')::uuid,
			user_id         TEXT NOT NULL,
			measurements    JSONB NOT NULL DEFAULT '{}',
			user_deleted    BOOLEAN NOT NULL DEFAULT FALSE,
			user_deleted_at TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		DO $$
		DECLARE
			t TEXT;
		BEGIN
			FOREACH t IN ARRAY ARRAY[
				'device_tokens', 'notifications', 'crm_leads', 'appointments',
				'exercise_logs', 'exercise_prescriptions', 'pain_diary_entries',
				'payments', 'invoices', 'medical_records', 'clinical_evolutions',
				'body_assessments'
			] LOOP
				EXECUTE format('CREATE INDEX IF NOT EXISTS idx_%s_user ON compliance.%I (user_id)', t, t);
				EXECUTE format('ALTER TABLE compliance.%I ENABLE ROW LEVEL SECURITY', t);
				EXECUTE format('ALTER TABLE compliance.%I FORCE ROW LEVEL SECURITY', t);
				EXECUTE format(
					'CREATE POLICY tenant_isolation ON compliance.%I
						USING (tenant_id = current_setting(''app.current_tenant'')::uuid)
						WITH CHECK (tenant_id = current_setting(''app.current_tenant'')::uuid)', t);
			END LOOP;
		END $$;
	`,
	Down: `
		DROP TABLE IF EXISTS compliance.body_assessments;
		DROP TABLE IF EXISTS compliance.clinical_evolutions;
		DROP TABLE IF EXISTS compliance.medical_records;
		DROP TABLE IF EXISTS compliance.invoices;
		DROP TABLE IF EXISTS compliance.payments;
		DROP TABLE IF EXISTS compliance.pain_diary_entries;
		DROP TABLE IF EXISTS compliance.exercise_prescriptions;
		DROP TABLE IF EXISTS compliance.exercise_logs;
		DROP TABLE IF EXISTS compliance.appointments;
		DROP TABLE IF EXISTS compliance.crm_leads;
		DROP TABLE IF EXISTS compliance.notifications;
		DROP TABLE IF EXISTS compliance.device_tokens;
	`,
}
