package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fisioflow/fisioflow-backend/pkg/database"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
)

// Migration ledger states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Record is one ledger row in public.schema_migrations.
type Record struct {
	ID           int        `db:"id"`
	Name         string     `db:"name"`
	Database     string     `db:"database"`
	Status       Status     `db:"status"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	ErrorMessage *string    `db:"error_message"`
	Checksum     string     `db:"checksum"`
}

// ErrNothingToRollback is returned when no completed migration exists.
var ErrNothingToRollback = errors.New("no completed migration to roll back")

const ledgerDDL = `
	CREATE TABLE IF NOT EXISTS public.schema_migrations (
		id            INTEGER PRIMARY KEY,
		name          TEXT NOT NULL,
		database      TEXT NOT NULL,
		status        TEXT NOT NULL
		              CHECK (status IN ('pending', 'running', 'completed', 'failed', 'rolled_back')),
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ,
		error_message TEXT,
		checksum      TEXT NOT NULL DEFAULT ''
	)
`

// Runner executes registered migrations against one database and keeps
// the ledger current. A run is fail-fast: the first failing migration
// stops the run with its ledger row marked failed, and nothing after it
// executes.
type Runner struct {
	db       *database.DB
	registry *Registry
	database string
	logger   *logger.Logger
}

// NewRunner creates a new migration runner
func NewRunner(db *database.DB, registry *Registry, databaseName string, log *logger.Logger) *Runner {
	return &Runner{
		db:       db,
		registry: registry,
		database: databaseName,
		logger:   log.WithComponent("migrate"),
	}
}

// ensureLedger creates the ledger table on first use.
func (r *Runner) ensureLedger(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, ledgerDDL); err != nil {
		return fmt.Errorf("failed to create migration ledger: %w", err)
	}
	return nil
}

// Result is the outcome of one migration within a run.
type Result struct {
	ID       int           `json:"id"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Summary reports one whole run. A failed migration shows up in Failed
// and Results; migrations after it were never attempted and appear in
// neither.
type Summary struct {
	Total    int           `json:"total"`
	Executed int           `json:"executed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Results  []Result      `json:"results"`
	Duration time.Duration `json:"duration"`
}

// Ok reports whether every attempted migration succeeded.
func (s *Summary) Ok() bool { return s.Failed == 0 }

// Run applies every registered migration that has not completed yet, in
// order. Each migration executes inside its own transaction. A failing
// migration stops the run but is reported through the summary, not as an
// error; the error return covers ledger access problems only.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sorted := r.registry.Sorted()
	summary := &Summary{Total: len(sorted)}

	if err := r.ensureLedger(ctx); err != nil {
		return nil, err
	}

	for _, m := range sorted {
		id, err := m.ID()
		if err != nil {
			return nil, err
		}

		rec, err := r.findRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.Status == StatusCompleted {
			if rec.Checksum != "" && rec.Checksum != m.Checksum() {
				r.logger.Warn().
					Str("migration", m.Name).
					Str("recorded", rec.Checksum).
					Str("current", m.Checksum()).
					Msg("completed migration content changed since it ran")
			}
			summary.Skipped++
			summary.Results = append(summary.Results, Result{ID: id, Name: m.Name, Status: StatusCompleted})
			continue
		}

		began := time.Now()
		if err := r.apply(ctx, id, m); err != nil {
			summary.Failed++
			summary.Results = append(summary.Results, Result{
				ID:       id,
				Name:     m.Name,
				Status:   StatusFailed,
				Error:    err.Error(),
				Duration: time.Since(began),
			})
			break
		}
		summary.Executed++
		summary.Results = append(summary.Results, Result{
			ID:       id,
			Name:     m.Name,
			Status:   StatusCompleted,
			Duration: time.Since(began),
		})
	}

	summary.Duration = time.Since(start)
	return summary, nil
}

// apply runs one migration and settles its ledger row.
func (r *Runner) apply(ctx context.Context, id int, m *Migration) error {
	now := time.Now()
	if err := r.upsertRecord(ctx, id, m, StatusRunning, &now, nil, nil); err != nil {
		return err
	}

	r.logger.Info().Str("migration", m.Name).Msg("applying migration")

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if m.Up != "" {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
		}
		if m.UpFn != nil {
			return m.UpFn(ctx, tx)
		}
		return nil
	})

	done := time.Now()
	if err != nil {
		msg := err.Error()
		if recErr := r.upsertRecord(ctx, id, m, StatusFailed, &now, &done, &msg); recErr != nil {
			r.logger.Error().Err(recErr).Str("migration", m.Name).Msg("failed to record migration failure")
		}
		return err
	}

	if err := r.upsertRecord(ctx, id, m, StatusCompleted, &now, &done, nil); err != nil {
		return err
	}

	r.logger.Info().Str("migration", m.Name).Dur("duration", done.Sub(now)).Msg("migration completed")
	return nil
}

// Rollback reverses one completed migration. id <= 0 selects the most
// recently completed one.
func (r *Runner) Rollback(ctx context.Context, id int) error {
	if err := r.ensureLedger(ctx); err != nil {
		return err
	}

	if id <= 0 {
		latest, err := r.latestCompleted(ctx)
		if err != nil {
			return err
		}
		id = latest
	}

	rec, err := r.findRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status != StatusCompleted {
		return fmt.Errorf("migration %d is not in completed state", id)
	}

	m, ok := r.registry.Get(id)
	if !ok {
		return fmt.Errorf("migration %d exists in ledger but is not registered", id)
	}
	if m.Down == "" && m.DownFn == nil {
		return fmt.Errorf("migration %s has no down step", m.Name)
	}

	r.logger.Info().Str("migration", m.Name).Msg("rolling back migration")

	err = r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if m.Down != "" {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return err
			}
		}
		if m.DownFn != nil {
			return m.DownFn(ctx, tx)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rollback of %s failed: %w", m.Name, err)
	}

	now := time.Now()
	return r.upsertRecord(ctx, id, m, StatusRolledBack, rec.StartedAt, &now, nil)
}

// StatusEntry cross-references a registered migration with its ledger row.
type StatusEntry struct {
	ID      int        `json:"id"`
	Name    string     `json:"name"`
	Status  Status     `json:"status"`
	Drifted bool       `json:"drifted,omitempty"`
	Unknown bool       `json:"unknown,omitempty"`
	Error   string     `json:"error,omitempty"`
	Applied *time.Time `json:"applied,omitempty"`
}

// Status reports every registered migration with its ledger state, plus
// any ledger rows that no longer correspond to a registered migration.
func (r *Runner) Status(ctx context.Context) ([]StatusEntry, error) {
	if err := r.ensureLedger(ctx); err != nil {
		return nil, err
	}

	records, err := r.allRecords(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]*Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	var entries []StatusEntry
	for _, m := range r.registry.Sorted() {
		id, err := m.ID()
		if err != nil {
			return nil, err
		}
		entry := StatusEntry{ID: id, Name: m.Name, Status: StatusPending}
		if rec, ok := byID[id]; ok {
			entry.Status = rec.Status
			entry.Applied = rec.CompletedAt
			if rec.ErrorMessage != nil {
				entry.Error = *rec.ErrorMessage
			}
			if rec.Status == StatusCompleted && rec.Checksum != "" && rec.Checksum != m.Checksum() {
				entry.Drifted = true
			}
			delete(byID, id)
		}
		entries = append(entries, entry)
	}

	// Ledger rows without a registered migration (removed from code)
	for id, rec := range byID {
		entries = append(entries, StatusEntry{
			ID:      id,
			Name:    rec.Name,
			Status:  rec.Status,
			Unknown: true,
		})
	}

	return entries, nil
}

func (r *Runner) findRecord(ctx context.Context, id int) (*Record, error) {
	var rec Record
	query := `
		SELECT id, name, database, status, started_at, completed_at, error_message, checksum
		FROM public.schema_migrations
		WHERE id = $1 AND database = $2
	`
	if err := r.db.GetContext(ctx, &rec, query, id, r.database); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *Runner) allRecords(ctx context.Context) ([]*Record, error) {
	var recs []*Record
	query := `
		SELECT id, name, database, status, started_at, completed_at, error_message, checksum
		FROM public.schema_migrations
		WHERE database = $1
		ORDER BY id ASC
	`
	if err := r.db.SelectContext(ctx, &recs, query, r.database); err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *Runner) latestCompleted(ctx context.Context) (int, error) {
	var id int
	// Most recently completed, not highest id: a re-run of an earlier
	// migration after a rollback makes it the newest completed one.
	query := `
		SELECT id FROM public.schema_migrations
		WHERE database = $1 AND status = $2
		ORDER BY completed_at DESC NULLS LAST
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &id, query, r.database, StatusCompleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNothingToRollback
		}
		return 0, err
	}
	return id, nil
}

func (r *Runner) upsertRecord(ctx context.Context, id int, m *Migration, status Status, startedAt, completedAt *time.Time, errMsg *string) error {
	query := `
		INSERT INTO public.schema_migrations (id, name, database, status, started_at, completed_at, error_message, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id)
		DO UPDATE SET status = $4, started_at = $5, completed_at = $6, error_message = $7, checksum = $8
	`
	_, err := r.db.ExecContext(ctx, query, id, m.Name, r.database, status, startedAt, completedAt, errMsg, m.Checksum())
	return err
}
