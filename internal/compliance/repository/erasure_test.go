package repository_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisioflow/fisioflow-backend/internal/compliance/domain"
	"github.com/fisioflow/fisioflow-backend/internal/compliance/repository"
)

func policyFor(t *testing.T, table string) domain.CollectionPolicy {
	t.Helper()
	for _, cp := range domain.RetentionSchedule() {
		if cp.Table == table {
			return cp
		}
	}
	t.Fatalf("table %s not in retention schedule", table)
	return domain.CollectionPolicy{}
}

func TestErasureRepository_Delete(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "erasure-delete")
	repo := repository.NewErasureRepository(suite.DB)

	victim := uuid.New().String()
	bystander := uuid.New().String()

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		for _, userID := range []string{victim, bystander} {
			_, err := suite.DB.ExecContext(ctx, `
				INSERT INTO notifications (id, user_id, title) VALUES ($1, $2, 'reminder')
			`, uuid.New().String(), userID)
			if err != nil {
				return err
			}
		}
		return nil
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		rows, err := repo.Apply(ctx, policyFor(t, "notifications"), victim, time.Now().UTC())
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), rows)
		return nil
	})

	// Only the victim's rows are gone
	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		var remaining []string
		if err := suite.DB.SelectContext(ctx, &remaining, `SELECT user_id FROM notifications WHERE user_id IN ($1, $2)`, victim, bystander); err != nil {
			return err
		}
		require.Len(t, remaining, 1)
		assert.Equal(t, bystander, remaining[0])
		return nil
	})
}

func TestErasureRepository_Anonymize(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "erasure-anon")
	repo := repository.NewErasureRepository(suite.DB)

	victim := uuid.New().String()
	leadID := uuid.New().String()

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		_, err := suite.DB.ExecContext(ctx, `
			INSERT INTO crm_leads (id, user_id, email, display_name, phone_number, stage)
			VALUES ($1, $2, 'lead@example.com', 'Maria Silva', '+55 11 99999-0000', 'contacted')
		`, leadID, victim)
		return err
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		rows, err := repo.Apply(ctx, policyFor(t, "crm_leads"), victim, time.Now().UTC())
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), rows)
		return nil
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		var row struct {
			UserID       string     `db:"user_id"`
			Email        *string    `db:"email"`
			DisplayName  *string    `db:"display_name"`
			PhoneNumber  *string    `db:"phone_number"`
			Stage        string     `db:"stage"`
			AnonymizedAt *time.Time `db:"anonymized_at"`
		}
		if err := suite.DB.GetContext(ctx, &row, `
			SELECT user_id, email, display_name, phone_number, stage, anonymized_at
			FROM crm_leads WHERE id = $1
		`, leadID); err != nil {
			return err
		}

		assert.True(t, strings.HasPrefix(row.UserID, "deleted_user_"))
		assert.Nil(t, row.Email)
		assert.Nil(t, row.DisplayName)
		assert.Nil(t, row.PhoneNumber)
		assert.NotNil(t, row.AnonymizedAt)
		assert.Equal(t, "contacted", row.Stage, "non-PII content survives anonymization")
		return nil
	})
}

func TestErasureRepository_AnonymizeAndMark(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "erasure-fiscal")
	repo := repository.NewErasureRepository(suite.DB)

	victim := uuid.New().String()
	paymentID := uuid.New().String()
	now := time.Now().UTC().Truncate(time.Second)

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		_, err := suite.DB.ExecContext(ctx, `
			INSERT INTO payments (id, user_id, amount_cents, paid_at) VALUES ($1, $2, 15000, NOW())
		`, paymentID, victim)
		return err
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		_, err := repo.Apply(ctx, policyFor(t, "payments"), victim, now)
		return err
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		var row struct {
			UserID            string     `db:"user_id"`
			AmountCents       int64      `db:"amount_cents"`
			MarkedForDeletion *time.Time `db:"marked_for_deletion"`
		}
		if err := suite.DB.GetContext(ctx, &row, `
			SELECT user_id, amount_cents, marked_for_deletion FROM payments WHERE id = $1
		`, paymentID); err != nil {
			return err
		}

		assert.True(t, strings.HasPrefix(row.UserID, "deleted_user_"))
		assert.Equal(t, int64(15000), row.AmountCents, "fiscal amount is retained")
		require.NotNil(t, row.MarkedForDeletion)
		assert.WithinDuration(t, now.AddDate(0, 0, 5*365), *row.MarkedForDeletion, time.Minute)
		return nil
	})
}

func TestErasureRepository_FlagOnly(t *testing.T) {
	integration(t)
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "erasure-medical")
	repo := repository.NewErasureRepository(suite.DB)

	victim := uuid.New().String()
	recordID := uuid.New().String()

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		_, err := suite.DB.ExecContext(ctx, `
			INSERT INTO medical_records (id, user_id, record) VALUES ($1, $2, '{"diagnosis": "lumbar strain"}')
		`, recordID, victim)
		return err
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		_, err := repo.Apply(ctx, policyFor(t, "medical_records"), victim, time.Now().UTC())
		return err
	})

	withTenant(t, ctx, tenant.ID, func(ctx context.Context) error {
		var row struct {
			UserID        string     `db:"user_id"`
			Record        string     `db:"record"`
			UserDeleted   bool       `db:"user_deleted"`
			UserDeletedAt *time.Time `db:"user_deleted_at"`
		}
		if err := suite.DB.GetContext(ctx, &row, `
			SELECT user_id, record::text AS record, user_deleted, user_deleted_at
			FROM medical_records WHERE id = $1
		`, recordID); err != nil {
			return err
		}

		assert.Equal(t, victim, row.UserID, "medical records keep the original user link")
		assert.Contains(t, row.Record, "lumbar strain", "medical content is untouched")
		assert.True(t, row.UserDeleted)
		assert.NotNil(t, row.UserDeletedAt)
		return nil
	})
}
