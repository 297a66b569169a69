package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/posadmin/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const storeContextKey contextKey = "auth_store"

// WithStore returns a context carrying s.
func WithStore(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, storeContextKey, s)
}

// FromContext returns the store carried by ctx, or nil.
//
// Usage:
//
//	store := auth.FromContext(r.Context())
//	if store == nil {
//	    // Route is not behind the SessionContext middleware
//	}
func FromContext(ctx context.Context) *Store {
	s, ok := ctx.Value(storeContextKey).(*Store)
	if !ok {
		return nil
	}
	return s
}

// GetUser returns the signed-in session for ctx, or nil when there is no
// store or it is not Authenticated.
func GetUser(ctx context.Context) *domain.Session {
	s := FromContext(ctx)
	if s == nil {
		return nil
	}
	return s.Snapshot().User
}

// GetUserFromRequest is GetUser for a request.
func GetUserFromRequest(r *http.Request) *domain.Session {
	return GetUser(r.Context())
}
