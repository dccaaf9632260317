package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/fisioflow/fisioflow-backend/internal/compliance/domain"
	"github.com/fisioflow/fisioflow-backend/pkg/database"
)

// ErasureRepository applies retention policies to the tenant's data tables.
// Table names come exclusively from the retention schedule, never from
// request input. All methods expect to run inside WithTenantRLS so the
// whole per-user erasure commits or rolls back as one unit.
type ErasureRepository struct {
	db *database.DB
}

// NewErasureRepository creates a new erasure repository
func NewErasureRepository(db *database.DB) *ErasureRepository {
	return &ErasureRepository{db: db}
}

// Apply runs one table's policy against one user and reports affected rows.
func (r *ErasureRepository) Apply(ctx context.Context, cp domain.CollectionPolicy, userID string, now time.Time) (int64, error) {
	switch cp.Policy.Fate {
	case domain.FateDelete:
		return r.deleteByUser(ctx, cp.Table, userID)
	case domain.FateAnonymize:
		return r.anonymizeByUser(ctx, cp.Table, cp.PIIColumns, userID, now)
	case domain.FateAnonymizeRetain:
		return r.anonymizeAndMark(ctx, cp.Table, userID, now, cp.Policy.MarkedForDeletion(now))
	case domain.FateFlagOnly:
		return r.flagDeleted(ctx, cp.Table, userID, now)
	default:
		return 0, fmt.Errorf("unknown data fate %d for table %s", cp.Policy.Fate, cp.Table)
	}
}

func (r *ErasureRepository) deleteByUser(ctx context.Context, table, userID string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, pq.QuoteIdentifier(table))
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ErasureRepository) anonymizeByUser(ctx context.Context, table string, piiColumns []string, userID string, now time.Time) (int64, error) {
	sets := []string{"user_id = $1", "anonymized_at = $2"}
	for _, col := range piiColumns {
		sets = append(sets, pq.QuoteIdentifier(col)+" = NULL")
	}
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE user_id = $3`,
		pq.QuoteIdentifier(table), strings.Join(sets, ", "))

	res, err := r.db.ExecContext(ctx, query, domain.AnonymousUserID(), now, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ErasureRepository) anonymizeAndMark(ctx context.Context, table, userID string, now, horizon time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET user_id = $1, anonymized_at = $2, marked_for_deletion = $3
		WHERE user_id = $4
	`, pq.QuoteIdentifier(table))

	res, err := r.db.ExecContext(ctx, query, domain.AnonymousUserID(), now, horizon, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ErasureRepository) flagDeleted(ctx context.Context, table, userID string, now time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET user_deleted = TRUE, user_deleted_at = $1
		WHERE user_id = $2
	`, pq.QuoteIdentifier(table))

	res, err := r.db.ExecContext(ctx, query, now, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
