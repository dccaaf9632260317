package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// WithTenantRLS executes a function with RLS-based tenant isolation.
// This is the isolation mechanism for pooled multi-tenancy: every clinic's
// rows carry a tenant_id and PostgreSQL RLS policies filter on
// current_setting('app.current_tenant').
//
// Usage in repositories:
//
//	tenantID, err := tenant.TenantID(ctx)
//	if err != nil { return err }
//	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
//	    return r.db.GetContext(ctx, &req, "SELECT * FROM deletion_requests WHERE id = $1", id)
//	})
//
// How it works:
//  1. Starts a transaction
//  2. Sets "SET LOCAL search_path TO <service_schema>, public"
//  3. Sets "SET LOCAL app.current_tenant = '<tenant-uuid>'"
//  4. Stores the transaction in ctx so DB query methods route through it
//  5. Commits (SET LOCAL is transaction-scoped, so pooled connections stay clean)
//
// Because everything inside fn runs on one transaction, a multi-statement
// mutation (the per-user erasure batch) commits or rolls back as a unit.
func (db *DB) WithTenantRLS(ctx context.Context, tenantID string, fn func(context.Context) error) error {
	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		searchPath := db.searchPath
		if searchPath == "" {
			searchPath = "public"
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL search_path TO %s", searchPath)); err != nil {
			return fmt.Errorf("failed to set search_path to %s: %w", searchPath, err)
		}

		// SET LOCAL doesn't support bind parameters; tenantID is a UUID
		// validated upstream, never raw user input.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL app.current_tenant = '%s'", tenantID)); err != nil {
			return fmt.Errorf("failed to set app.current_tenant to %s: %w", tenantID, err)
		}

		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// getTx extracts the transaction from context if present
func (db *DB) getTx(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}
