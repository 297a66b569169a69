// Package middleware contains HTTP middleware for the POS admin front-end.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/posadmin/internal/auth"
	"github.com/DukeRupert/posadmin/internal/gate"
	"github.com/DukeRupert/posadmin/internal/handler"
	"github.com/DukeRupert/posadmin/internal/metrics"
	"github.com/DukeRupert/posadmin/internal/notify"
	"github.com/DukeRupert/posadmin/internal/session"
)

// =============================================================================
// Route Gate
// =============================================================================

// RouteGate redirects requests for protected paths that carry no auth cookie.
//
// It only checks that a cookie is present. Whether the token is still valid
// is settled later by the session store and the protected-page guard, so a
// forged cookie gets past the gate but never past a protected page.
//
// Flow:
//
//	Request -> RouteGate -> SessionContext -> Handler
//	           |
//	           +-> Public path: pass through
//	           +-> Protected, no cookie: 303 to /login?returnUrl=<path> (401 for API)
//	           +-> Protected, cookie present: pass through
type RouteGate struct {
	logger *slog.Logger
}

// NewRouteGate creates a new RouteGate.
func NewRouteGate(logger *slog.Logger) *RouteGate {
	return &RouteGate{logger: logger}
}

// Handler wraps next with the gate.
func (g *RouteGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := gate.Classify(r.URL.Path)
		decision := gate.Decide(r.URL.Path, session.HasAuthCookie(r))
		metrics.GateDecisions.WithLabelValues(decision.Outcome.String(), class.String()).Inc()

		if decision.Outcome == gate.Redirect {
			g.logger.Debug("gate redirect", "path", r.URL.Path, "location", decision.Location)
			if handler.WantsJSON(r) {
				handler.UnauthorizedResponse(w, r, g.logger)
				return
			}
			http.Redirect(w, r, decision.Location, http.StatusSeeOther)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Session Context
// =============================================================================

// SessionContext gives every request its own session store.
//
// The store is bound to the request's cookies, initialized before the
// handler runs (verifying any token with the backend), and disposed when
// the handler returns. Notifications raised during the request are recorded
// for the renderer and logged.
//
// Retrieve the store in handlers with auth.FromContext(r.Context()).
type SessionContext struct {
	client   auth.Authenticator
	logger   *slog.Logger
	isSecure bool
}

// NewSessionContext creates a new SessionContext.
//
// Parameters:
// - client: Backend used to verify tokens and log in
// - logger: Structured logger for session events
// - isSecure: Set to true in production to enable Secure cookie flag
func NewSessionContext(client auth.Authenticator, logger *slog.Logger, isSecure bool) *SessionContext {
	return &SessionContext{
		client:   client,
		logger:   logger,
		isSecure: isSecure,
	}
}

// Handler wraps next with a per-request store.
func (m *SessionContext) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := notify.NewRecorder()
		store, err := auth.New(auth.Config{
			Client:   m.client,
			Jar:      session.NewRequestJar(w, r, m.isSecure),
			Notifier: notify.Multi{recorder, notify.NewLogNotifier(m.logger)},
			Logger:   m.logger,
		})
		if err != nil {
			handler.InternalErrorResponse(w, r, m.logger, err)
			return
		}
		defer store.Dispose()

		// A network failure leaves the store Unauthenticated with the cookie
		// intact; the warning toast is already recorded.
		if err := store.Init(r.Context()); err != nil {
			m.logger.Debug("session init incomplete", "path", r.URL.Path, "error", err)
		}

		ctx := auth.WithStore(r.Context(), store)
		ctx = notify.WithRecorder(ctx, recorder)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(RequestID, logging, gate.Handler, sessions.Handler)
//	mux.Handle("/", stack(app))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var (
	_ func(http.Handler) http.Handler = (&RouteGate{}).Handler
	_ func(http.Handler) http.Handler = (&SessionContext{}).Handler
)
