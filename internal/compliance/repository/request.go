package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fisioflow/fisioflow-backend/internal/compliance/domain"
	"github.com/fisioflow/fisioflow-backend/pkg/database"
	apperrors "github.com/fisioflow/fisioflow-backend/pkg/errors"
)

// RequestRepository persists deletion requests inside the tenant schema.
// All methods are tenant-scoped and expect to run under WithTenantRLS.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new deletion request repository
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new pending deletion request
func (r *RequestRepository) Create(ctx context.Context, req *domain.DeletionRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	query := `
		INSERT INTO deletion_requests (id, user_id, status, requested_at, scheduled_date, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		req.ID,
		req.UserID,
		req.Status,
		req.RequestedAt,
		req.ScheduledDate,
		req.IPAddress,
		req.UserAgent,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// FindByID fetches a single request
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*domain.DeletionRequest, error) {
	var req domain.DeletionRequest
	query := `
		SELECT id, user_id, status, requested_at, scheduled_date, ip_address, user_agent,
		       cancelled_at, completed_at, created_at, updated_at
		FROM deletion_requests
		WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("deletion request not found")
		}
		return nil, err
	}
	return &req, nil
}

// FindPendingByUser returns the user's pending request, or a NotFound error.
// The partial unique index guarantees at most one row.
func (r *RequestRepository) FindPendingByUser(ctx context.Context, userID string) (*domain.DeletionRequest, error) {
	var req domain.DeletionRequest
	query := `
		SELECT id, user_id, status, requested_at, scheduled_date, ip_address, user_agent,
		       cancelled_at, completed_at, created_at, updated_at
		FROM deletion_requests
		WHERE user_id = $1 AND status = $2
	`
	if err := r.db.GetContext(ctx, &req, query, userID, domain.StatusPending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("no pending deletion request")
		}
		return nil, err
	}
	return &req, nil
}

// FindLatestByUser returns the user's most recent request regardless of status.
func (r *RequestRepository) FindLatestByUser(ctx context.Context, userID string) (*domain.DeletionRequest, error) {
	var req domain.DeletionRequest
	query := `
		SELECT id, user_id, status, requested_at, scheduled_date, ip_address, user_agent,
		       cancelled_at, completed_at, created_at, updated_at
		FROM deletion_requests
		WHERE user_id = $1
		ORDER BY requested_at DESC
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &req, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("no deletion request for user")
		}
		return nil, err
	}
	return &req, nil
}

// CancelPending flips every pending request of the user to cancelled.
// Returns the number of requests cancelled; zero means there was nothing
// to cancel.
func (r *RequestRepository) CancelPending(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `
		UPDATE deletion_requests
		SET status = $1, cancelled_at = $2, updated_at = $2
		WHERE user_id = $3 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query, domain.StatusCancelled, now, userID, domain.StatusPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FindDue lists pending requests whose grace window has elapsed.
func (r *RequestRepository) FindDue(ctx context.Context, now time.Time) ([]*domain.DeletionRequest, error) {
	query := `
		SELECT id, user_id, status, requested_at, scheduled_date, ip_address, user_agent,
		       cancelled_at, completed_at, created_at, updated_at
		FROM deletion_requests
		WHERE status = $1 AND scheduled_date <= $2
		ORDER BY scheduled_date ASC
	`
	var reqs []*domain.DeletionRequest
	if err := r.db.SelectContext(ctx, &reqs, query, domain.StatusPending, now); err != nil {
		return nil, err
	}
	return reqs, nil
}

// MarkCompleted flips a pending request to completed. The WHERE clause on
// status guards against double execution; zero rows affected means the
// request was already settled.
func (r *RequestRepository) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE deletion_requests
		SET status = $1, completed_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query, domain.StatusCompleted, now, id, domain.StatusPending)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.Conflict("deletion request already settled")
	}
	return nil
}
