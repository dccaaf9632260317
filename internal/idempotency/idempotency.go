package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fisioflow/fisioflow-backend/pkg/logger"
)

// ErrAlreadyInProgress is returned when the same operation is running
// elsewhere and no cached result appeared after a short wait.
var ErrAlreadyInProgress = errors.New("operation already in progress")

// contentionRecheckDelay is how long Do waits before re-checking the cache
// when the lock is held by someone else. Long enough for fast operations
// to land their result, short enough not to stall the caller.
const contentionRecheckDelay = 500 * time.Millisecond

// Key derives a deterministic cache key from the operation, its subject
// and its payload. json.Marshal sorts map keys, so equal payloads always
// hash identically regardless of insertion order.
func Key(feature, userID string, payload map[string]any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s:%s:%s", feature, userID, hex.EncodeToString(sum[:])[:16])
}

// Guard wraps an operation with cache lookup and lock acquisition so the
// same logical request executes at most once per TTL window.
type Guard struct {
	store       *Store
	logger      *logger.Logger
	cacheTTL    time.Duration
	lockTimeout time.Duration
}

// NewGuard creates a new idempotency guard
func NewGuard(store *Store, log *logger.Logger, cacheTTL, lockTimeout time.Duration) *Guard {
	return &Guard{
		store:       store,
		logger:      log.WithComponent("idempotency"),
		cacheTTL:    cacheTTL,
		lockTimeout: lockTimeout,
	}
}

// Option adjusts a single Do invocation.
type Option func(*doConfig)

type doConfig struct {
	skipCache bool
}

// SkipCache makes Do ignore any cached response and run the operation
// again. The lock is still taken and the fresh result still cached, so
// forced reruns stay serialized with regular ones.
func SkipCache() Option {
	return func(c *doConfig) { c.skipCache = true }
}

// Do executes fn at most once per key per TTL window. The returned bool
// reports whether the response came from the cache. Cache and lock
// infrastructure failures are logged and fail open: the operation runs
// rather than being blocked by a broken cache.
func (g *Guard) Do(ctx context.Context, feature, userID string, payload map[string]any, fn func(context.Context) (any, error), opts ...Option) (json.RawMessage, bool, error) {
	var cfg doConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	key := Key(feature, userID, payload)
	log := g.logger.WithUserID(userID)

	if cfg.skipCache {
		log.Info().Str("cache_key", key).Msg("cache check skipped, forcing execution")
	} else if cached, hit, err := g.store.Get(ctx, key); err != nil {
		log.Warn().Err(err).Str("cache_key", key).Msg("idempotency cache read failed, proceeding")
	} else if hit {
		log.Info().Str("cache_key", key).Msg("idempotency cache hit")
		return cached, true, nil
	}

	owner := uuid.New().String()
	acquired, err := g.store.AcquireLock(ctx, key, owner, g.lockTimeout)
	if err != nil {
		log.Warn().Err(err).Str("cache_key", key).Msg("lock acquisition failed, proceeding without lock")
		acquired = true
	} else if !acquired {
		// Another run holds the lock. Give it a moment to finish and
		// publish its result before telling the caller to back off.
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(contentionRecheckDelay):
		}
		if !cfg.skipCache {
			if cached, hit, err := g.store.Get(ctx, key); err == nil && hit {
				return cached, true, nil
			}
		}
		return nil, false, ErrAlreadyInProgress
	} else {
		defer func() {
			if err := g.store.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
				log.Warn().Err(err).Str("cache_key", key).Msg("failed to release lock")
			}
		}()
	}

	result, err := fn(ctx)
	if err != nil {
		return nil, false, err
	}

	response, err := json.Marshal(result)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode result: %w", err)
	}
	if err := g.store.Set(ctx, key, response, g.cacheTTL); err != nil {
		log.Warn().Err(err).Str("cache_key", key).Msg("failed to cache result")
	}

	return response, false, nil
}
