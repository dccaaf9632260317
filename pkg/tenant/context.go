// Package tenant carries clinic identity through request contexts. The
// auth middleware stores it after verifying the JWT; repositories read it
// back to scope queries under row level security.
package tenant

import (
	"context"
	"errors"
)

type contextKey string

const (
	idKey   contextKey = "tenant_id"
	slugKey contextKey = "tenant_slug"
)

// ErrNoTenantInContext means a handler ran outside an authenticated,
// tenant-scoped request.
var ErrNoTenantInContext = errors.New("no tenant in context")

// WithTenantContext stamps ctx with the clinic's ID and slug.
func WithTenantContext(ctx context.Context, id, slug string) context.Context {
	ctx = context.WithValue(ctx, idKey, id)
	return context.WithValue(ctx, slugKey, slug)
}

// TenantID returns the clinic ID stored on ctx.
func TenantID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(idKey).(string)
	if !ok || id == "" {
		return "", ErrNoTenantInContext
	}
	return id, nil
}

// TenantSlug returns the clinic's URL slug stored on ctx.
func TenantSlug(ctx context.Context) (string, error) {
	slug, ok := ctx.Value(slugKey).(string)
	if !ok || slug == "" {
		return "", ErrNoTenantInContext
	}
	return slug, nil
}
