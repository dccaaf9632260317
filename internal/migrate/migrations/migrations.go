// Package migrations holds the schema history of the compliance service.
// Each migration is a plain value; BuildRegistry wires them into a fresh
// registry so callers and tests never share mutable state.
package migrations

import (
	"github.com/fisioflow/fisioflow-backend/internal/migrate"
)

// DatabaseName labels ledger rows written by this service.
const DatabaseName = "compliance"

// BuildRegistry assembles the full migration set in order. A new
// migration is added here after its file is created.
func BuildRegistry() (*migrate.Registry, error) {
	r := migrate.NewRegistry()
	all := []*migrate.Migration{
		migration001,
		migration002,
		migration003,
		migration004,
		migration005,
		migration006,
		migration007,
		migration008,
		migration009,
	}
	for _, m := range all {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}
