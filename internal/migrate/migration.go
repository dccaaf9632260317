// Package migrate is a code-first schema migration runner. Migrations are
// Go values registered in an in-memory registry, ordered by the numeric
// prefix of their name, and tracked in a persistent ledger table so every
// environment can tell exactly which migrations ran, when, and how they
// ended.
package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

// MigrationFn is a programmatic migration step running inside the
// migration's transaction. Used for data backfills that plain SQL cannot
// express.
type MigrationFn func(ctx context.Context, tx *sqlx.Tx) error

// Migration is one schema change. Name must follow NNN_description; the
// numeric prefix defines execution order. Either the SQL strings or the
// Fn callbacks may be set per direction; when both are set the SQL runs
// first.
type Migration struct {
	Name     string
	Database string

	Up   string
	Down string

	UpFn   MigrationFn
	DownFn MigrationFn
}

// ID returns the numeric order prefix of the migration name.
func (m *Migration) ID() (int, error) {
	prefix, _, found := strings.Cut(m.Name, "_")
	if !found {
		return 0, fmt.Errorf("migration name %q has no numeric prefix", m.Name)
	}
	id, err := strconv.Atoi(prefix)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("migration name %q has invalid numeric prefix", m.Name)
	}
	return id, nil
}

// Checksum fingerprints the migration content. Recorded in the ledger so
// a migration edited after it ran can be detected.
func (m *Migration) Checksum() string {
	h := sha256.New()
	h.Write([]byte(m.Name))
	h.Write([]byte(m.Up))
	h.Write([]byte(m.Down))
	if m.UpFn != nil {
		h.Write([]byte("upfn"))
	}
	if m.DownFn != nil {
		h.Write([]byte("downfn"))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Registry holds the known migrations for one service. Registries are
// plain values wired at startup, so tests build their own without
// touching global state.
type Registry struct {
	byID map[int]*Migration
}

// NewRegistry creates an empty migration registry
func NewRegistry() *Registry {
	return &Registry{byID: make(map[int]*Migration)}
}

// Register adds a migration. A malformed name or an order prefix that is
// already taken is rejected; two migrations can never race for the same
// slot silently.
func (r *Registry) Register(m *Migration) error {
	id, err := m.ID()
	if err != nil {
		return err
	}
	if existing, ok := r.byID[id]; ok {
		return fmt.Errorf("duplicate migration id %d: %q conflicts with %q", id, m.Name, existing.Name)
	}
	r.byID[id] = m
	return nil
}

// MustRegister is Register for package-init wiring; it panics on error
// so a bad migration set fails at startup, not mid-run.
func (r *Registry) MustRegister(m *Migration) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Sorted returns the registered migrations in execution order.
func (r *Registry) Sorted() []*Migration {
	ids := make([]int, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]*Migration, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	return out
}

// Get returns the migration with the given order id.
func (r *Registry) Get(id int) (*Migration, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// NextID returns the first free order prefix.
func (r *Registry) NextID() int {
	max := 0
	for id := range r.byID {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// CreateTemplate renders the source skeleton for a new migration file.
// Pure string construction; the caller decides where to write it. The new
// value still has to be added to the migration list by hand.
func CreateTemplate(id int, name string) (filename, contents string) {
	full := fmt.Sprintf("%03d_%s", id, name)
	varName := "migration" + fmt.Sprintf("%03d", id)
	filename = full + ".go"
	contents = fmt.Sprintf(`package migrations

import "github.com/fisioflow/fisioflow-backend/internal/migrate"

var %s = &migrate.Migration{
	Name:     %q,
	Database: "compliance",
	Up: `+"`"+`
		-- forward migration
	`+"`"+`,
	Down: `+"`"+`
		-- reverse migration
	`+"`"+`,
}
`, varName, full)
	return filename, contents
}
