// Package idempotency deduplicates expensive operations and serializes
// concurrent runs through a Postgres-backed cache. One table doubles as
// the response cache and the lock store; locks are cache rows under a
// reserved key prefix with a short expiry.
package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fisioflow/fisioflow-backend/pkg/database"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
)

// lockPrefix keeps lock rows out of the normal cache key space.
const lockPrefix = "lock_"

// cleanupBatchSize bounds one expiry sweep so it never holds long locks.
const cleanupBatchSize = 500

// Store persists cache entries and advisory locks in
// public.ai_idempotency_cache, shared across all tenants.
type Store struct {
	db     *database.DB
	logger *logger.Logger
}

// NewStore creates a new idempotency store
func NewStore(db *database.DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log.WithComponent("idempotency")}
}

// Get returns the cached response for key, or a miss. Entries past their
// expiry are removed lazily on read.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var row struct {
		Response  json.RawMessage `db:"response"`
		ExpiresAt time.Time       `db:"expires_at"`
	}
	query := `SELECT response, expires_at FROM public.ai_idempotency_cache WHERE cache_key = $1`
	if err := s.db.GetContext(ctx, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if !time.Now().Before(row.ExpiresAt) {
		if err := s.Delete(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("cache_key", key).Msg("failed to evict expired entry")
		}
		return nil, false, nil
	}

	return row.Response, true, nil
}

// Set stores a response under key, overwriting any previous entry.
func (s *Store) Set(ctx context.Context, key string, response json.RawMessage, ttl time.Duration) error {
	query := `
		INSERT INTO public.ai_idempotency_cache (cache_key, response, created_at, expires_at)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT (cache_key)
		DO UPDATE SET response = $2, created_at = NOW(), expires_at = $3
	`
	_, err := s.db.ExecContext(ctx, query, key, response, time.Now().Add(ttl))
	return err
}

// Delete removes a cache entry
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM public.ai_idempotency_cache WHERE cache_key = $1`, key)
	return err
}

// AcquireLock tries to take the named lock for timeout. Returns false when
// another holder owns an unexpired lock. The row-level FOR UPDATE makes
// concurrent acquisition attempts serialize on the same row, so exactly
// one caller wins a contested lock.
func (s *Store) AcquireLock(ctx context.Context, name, owner string, timeout time.Duration) (bool, error) {
	key := lockPrefix + name
	payload, _ := json.Marshal(map[string]string{"owner": owner})
	expiresAt := time.Now().Add(timeout)

	acquired := false
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var current time.Time
		query := `SELECT expires_at FROM public.ai_idempotency_cache WHERE cache_key = $1 FOR UPDATE`
		err := tx.GetContext(ctx, &current, query, key)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Two callers can both see no row before either inserts. DO
			// NOTHING keeps the loser's transaction healthy; zero rows
			// affected means the lock is held, not that the store broke.
			insert := `
				INSERT INTO public.ai_idempotency_cache (cache_key, response, created_at, expires_at)
				VALUES ($1, $2, NOW(), $3)
				ON CONFLICT (cache_key) DO NOTHING
			`
			res, err := tx.ExecContext(ctx, insert, key, payload, expiresAt)
			if err != nil {
				return err
			}
			rows, err := res.RowsAffected()
			if err != nil {
				return err
			}
			acquired = rows > 0
			return nil
		case err != nil:
			return err
		}

		// Row exists: take over only if the previous holder expired.
		if time.Now().Before(current) {
			return nil
		}
		update := `
			UPDATE public.ai_idempotency_cache
			SET response = $2, created_at = NOW(), expires_at = $3
			WHERE cache_key = $1
		`
		if _, err := tx.ExecContext(ctx, update, key, payload, expiresAt); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// ReleaseLock drops the named lock. Releasing a lock that no longer
// exists is not an error.
func (s *Store) ReleaseLock(ctx context.Context, name string) error {
	return s.Delete(ctx, lockPrefix+name)
}

// CleanupExpired removes a bounded batch of expired entries and locks.
// Called periodically by the scheduler; repeated runs drain a backlog.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM public.ai_idempotency_cache
		WHERE cache_key IN (
			SELECT cache_key FROM public.ai_idempotency_cache
			WHERE expires_at <= NOW()
			LIMIT $1
		)
	`
	res, err := s.db.ExecContext(ctx, query, cleanupBatchSize)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
