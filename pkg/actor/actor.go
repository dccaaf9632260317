// Package actor provides a universal pattern for identifying and tracking
// the user/system performing actions across the backend.
//
// This package is used for:
// - Audit logging (who performed an action)
// - Authorization decisions (role checks)
// - Provenance metadata on compliance records
package actor

import (
	"context"
	"fmt"
)

// Actor represents the entity performing an action in the system.
type Actor struct {
	// ID is the unique identifier of the actor (user ID)
	ID string `json:"id"`

	// Name is the actor's display name
	Name string `json:"name"`

	// Email is the actor's email address
	Email string `json:"email"`

	// TenantID is the clinic the actor belongs to
	TenantID string `json:"tenant_id"`

	// Role is the actor's role (admin, professional, patient)
	Role string `json:"role,omitempty"`

	// Permissions are the dotted permission grants carried by the
	// actor's access token
	Permissions []string `json:"permissions,omitempty"`
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	return fmt.Sprintf("%s (%s)", a.Name, a.Email)
}

// IsAdmin returns true if the actor has the admin role.
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == "admin"
}

// contextKey is the type for context keys to avoid collisions
type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context.
// Returns nil if no actor is present (e.g., system operations).
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	actor, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return actor
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// SystemActor returns an Actor representing the system itself.
// Use this for background jobs and scheduler-initiated operations.
func SystemActor() *Actor {
	return &Actor{
		ID:    "00000000-0000-0000-0000-000000000000",
		Name:  "System",
		Email: "system@fisioflow.local",
	}
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.ID == "00000000-0000-0000-0000-000000000000"
}
