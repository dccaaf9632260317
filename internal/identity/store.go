// Package identity removes a user's login identity once their account
// erasure has been committed. It owns the users and sessions tables only;
// domain data is handled by the compliance erasure engine.
package identity

import (
	"context"

	"github.com/fisioflow/fisioflow-backend/pkg/database"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
)

// Store deletes login identities. Deletion is idempotent: a user that is
// already gone is not an error, so a retried erasure run converges.
type Store struct {
	db     *database.DB
	logger *logger.Logger
}

// NewStore creates a new identity store
func NewStore(db *database.DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log.WithComponent("identity")}
}

// DeleteUser removes the user's sessions and account row. Runs under the
// caller's tenant transaction when one is present.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		s.logger.Warn().Str("user_id", userID).Msg("identity already deleted, skipping")
	}
	return nil
}
