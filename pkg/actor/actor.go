// Package actor identifies who performed a stock-changing action. Every
// ledger movement is stamped with an actor ID for audit traceability.
package actor

import (
	"context"
)

// SystemActorID is the well-known actor ID for background jobs and
// system-initiated corrections.
const SystemActorID = "00000000-0000-0000-0000-000000000000"

// Actor represents the entity performing an action in the system.
type Actor struct {
	// UserID is the unique identifier of the actor (user or terminal ID)
	UserID string `json:"user_id"`

	// Name is the actor's display name, if known
	Name string `json:"name,omitempty"`
}

// ID returns the actor's identifier, or "" for a nil actor.
func (a *Actor) ID() string {
	if a == nil {
		return ""
	}
	return a.UserID
}

// String returns a representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	if a.Name != "" {
		return a.Name
	}
	return a.UserID
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.UserID == SystemActorID
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
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// SystemActor returns an Actor representing the system itself.
// Use this for scheduled sweeps, outbox flushes and auto-corrections.
func SystemActor() *Actor {
	return &Actor{
		UserID: SystemActorID,
		Name:   "system",
	}
}

// IDFromContext returns the actor ID from the context, falling back to the
// system actor for background operations.
func IDFromContext(ctx context.Context) string {
	if a := FromContext(ctx); a != nil {
		return a.UserID
	}
	return SystemActorID
}
