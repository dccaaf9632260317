package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fisioflow/fisioflow-backend/internal/compliance/domain"
	"github.com/fisioflow/fisioflow-backend/pkg/database"
)

// AuditRepository handles compliance audit trail persistence
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an audit entry. Entries are never updated or deleted.
func (r *AuditRepository) Create(ctx context.Context, log *domain.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}

	detailsJSON, err := json.Marshal(log.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (id, user_id, action, details, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	return r.db.QueryRowxContext(ctx, query,
		log.ID,
		log.UserID,
		log.Action,
		detailsJSON,
		log.IPAddress,
		log.UserAgent,
	).Scan(&log.CreatedAt)
}

// AuditFilter contains filter options for the audit trail
type AuditFilter struct {
	UserID string
	Action string
}

// List lists audit entries with pagination, newest first.
func (r *AuditRepository) List(ctx context.Context, filter *AuditFilter, page, perPage int) ([]*domain.AuditLog, int64, error) {
	args := []interface{}{}
	argIndex := 1

	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`
	query := `
		SELECT id, user_id, action, details, ip_address, user_agent, created_at
		FROM audit_logs
		WHERE 1=1
	`

	if filter != nil {
		if filter.UserID != "" {
			countQuery += ` AND user_id = $` + string(rune('0'+argIndex))
			query += ` AND user_id = $` + string(rune('0'+argIndex))
			args = append(args, filter.UserID)
			argIndex++
		}
		if filter.Action != "" {
			countQuery += ` AND action = $` + string(rune('0'+argIndex))
			query += ` AND action = $` + string(rune('0'+argIndex))
			args = append(args, filter.Action)
			argIndex++
		}
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY created_at DESC`

	offset := (page - 1) * perPage
	query += ` LIMIT $` + string(rune('0'+argIndex)) + ` OFFSET $` + string(rune('0'+argIndex+1))
	args = append(args, perPage, offset)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var logs []*domain.AuditLog
	for rows.Next() {
		var log domain.AuditLog
		var detailsJSON []byte

		if err := rows.Scan(
			&log.ID, &log.UserID, &log.Action, &detailsJSON,
			&log.IPAddress, &log.UserAgent, &log.CreatedAt,
		); err != nil {
			return nil, 0, err
		}

		if len(detailsJSON) > 0 {
			json.Unmarshal(detailsJSON, &log.Details)
		}

		logs = append(logs, &log)
	}

	return logs, total, nil
}
