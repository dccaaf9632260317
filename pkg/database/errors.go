package database

import (
	stderrors "errors"
	"strings"

	"github.com/lib/pq"

	"github.com/fisioflow/fisioflow-backend/pkg/errors"
)

// MapPQError translates PostgreSQL constraint violations into AppErrors
// whose messages name the field at fault. Returns nil for anything that
// is not a pq.Error or not a constraint the service knows about.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.InvalidArgument("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: pending, cancelled, completed",
		})

	case strings.Contains(constraint, "migration_status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: pending, running, completed, failed, rolled_back",
		})

	default:
		return errors.InvalidArgument("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "cache_key"):
		return "an idempotency entry with this key already exists"
	case strings.Contains(constraint, "schema_migrations"):
		return "a migration with this id was already recorded"
	default:
		return "a record with these values already exists"
	}
}
