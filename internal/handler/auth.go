// Package handler contains HTTP handlers for the POS admin front-end.
//
// This file implements the public account pages: login, logout, and the
// registration and password-recovery stubs.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/DukeRupert/posadmin/internal/auth"
	"github.com/DukeRupert/posadmin/internal/csrf"
	"github.com/DukeRupert/posadmin/internal/domain"
	"github.com/DukeRupert/posadmin/internal/gate"
	"github.com/DukeRupert/posadmin/internal/guard"
)

// MinPasswordLength applies to the registration and reset stubs.
const MinPasswordLength = 8

// =============================================================================
// Handler Configuration
// =============================================================================

// TemplateRenderer is the interface for rendering HTML templates.
// This interface allows for mocking in tests.
type TemplateRenderer interface {
	RenderHTTP(w http.ResponseWriter, r *http.Request, name string, data any)
	RenderStatus(w http.ResponseWriter, r *http.Request, status int, name string, data any)
}

// Throttle limits form submissions per client. middleware.AuthRateLimiter
// implements it.
type Throttle interface {
	LimitLogin(next http.Handler) http.Handler
	LimitRegister(next http.Handler) http.Handler
	LimitPasswordReset(next http.Handler) http.Handler
	RecordFailedLogin(r *http.Request)
	ResetLogin(r *http.Request)
}

// AuthHandler handles the public account pages.
//
// The session itself lives in the per-request auth.Store installed by the
// SessionContext middleware; this handler only drives it.
//
// Routes handled:
// - GET/POST /login
// - POST     /logout
// - GET/POST /register
// - GET/POST /forgot-password
// - GET/POST /reset-password
type AuthHandler struct {
	renderer TemplateRenderer
	throttle Throttle
	logger   *slog.Logger
	isSecure bool
}

// NewAuthHandler creates a new AuthHandler with the required dependencies.
func NewAuthHandler(renderer TemplateRenderer, throttle Throttle, logger *slog.Logger, isSecure bool) *AuthHandler {
	return &AuthHandler{
		renderer: renderer,
		throttle: throttle,
		logger:   logger,
		isSecure: isSecure,
	}
}

// RegisterRoutes registers all auth routes on the provided ServeMux.
// Form submissions are throttled per client IP.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /login", h.ShowLogin)
	mux.Handle("POST /login", h.throttle.LimitLogin(http.HandlerFunc(h.Login)))
	mux.HandleFunc("POST /logout", h.Logout)

	mux.HandleFunc("GET /register", h.ShowRegister)
	mux.Handle("POST /register", h.throttle.LimitRegister(http.HandlerFunc(h.Register)))

	mux.HandleFunc("GET /forgot-password", h.ShowForgotPassword)
	mux.Handle("POST /forgot-password", h.throttle.LimitPasswordReset(http.HandlerFunc(h.ForgotPassword)))
	mux.HandleFunc("GET /reset-password", h.ShowResetPassword)
	mux.Handle("POST /reset-password", h.throttle.LimitPasswordReset(http.HandlerFunc(h.ResetPassword)))
}

// =============================================================================
// Template Data Types
// =============================================================================

// Flash represents a one-off message rendered inline on a form page.
// Notifications from the session store are shown as toasts instead.
type Flash struct {
	Type    string // "success", "error", or "info"
	Message string
}

// AuthPageData contains common data for the public pages.
type AuthPageData struct {
	CSRFToken string
	Form      map[string]string // Field values for re-populating on error (never passwords)
	Errors    map[string]string // Field-level validation errors
	Flash     *Flash
	ReturnURL string // Where to go after a successful login
	Token     string // Reset token (reset-password only)
	Sent      bool   // Recovery request accepted (forgot-password only)
}

// =============================================================================
// GET /login
// =============================================================================

// ShowLogin renders the login form.
//
// Query Parameters:
// - returnUrl (optional): where to go after login
// - registered, reset, logout (optional): "1" shows the matching flash
//
// A visitor whose cookie was verified by SessionContext is sent on to the
// return URL straight away.
func (h *AuthHandler) ShowLogin(w http.ResponseWriter, r *http.Request) {
	returnURL := r.URL.Query().Get(gate.ReturnURLParam)

	if store := auth.FromContext(r.Context()); store != nil {
		if target, ok := guard.LoginTarget(store.Snapshot(), returnURL); ok {
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
	}

	var flash *Flash
	switch {
	case r.URL.Query().Get("registered") == "1":
		flash = &Flash{Type: "success", Message: "Registration received. Please sign in."}
	case r.URL.Query().Get("reset") == "1":
		flash = &Flash{Type: "success", Message: "Password reset. Please sign in with your new password."}
	case r.URL.Query().Get("logout") == "1":
		flash = &Flash{Type: "success", Message: "You have been signed out."}
	}

	h.renderForm(w, r, http.StatusOK, "auth/login", AuthPageData{
		Flash:     flash,
		ReturnURL: returnURL,
	})
}

// =============================================================================
// POST /login
// =============================================================================

// Login processes the login form submission.
//
// Form Fields:
// - email, password (required)
// - returnUrl (optional)
// - csrf_token (required)
//
// On success the store has committed the session (and written the auth
// cookie) before the redirect is issued. Failures re-render the form; the
// store has already queued a toast that tells credential problems apart from
// connectivity problems.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("failed to parse login form", "error", err)
		h.renderForm(w, r, http.StatusBadRequest, "auth/login", AuthPageData{
			Flash: &Flash{Type: "error", Message: "Invalid form submission. Please try again."},
		})
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	returnURL := r.FormValue(gate.ReturnURLParam)
	data := AuthPageData{
		Form:      map[string]string{"Email": email},
		ReturnURL: returnURL,
	}

	if !csrf.ValidateRequest(r) {
		data.Flash = &Flash{Type: "error", Message: "Your form expired. Please try again."}
		h.renderForm(w, r, http.StatusForbidden, "auth/login", data)
		return
	}

	store := auth.FromContext(r.Context())
	if store == nil {
		InternalErrorResponse(w, r, h.logger, domain.Errorf(domain.EINTERNAL, "handler.login", "no session store in context"))
		return
	}

	err := store.Login(r.Context(), email, password)
	if err != nil {
		code := domain.ErrorCode(err)
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			data.Errors = ve.Fields
		}
		if code == domain.EUNAUTHORIZED {
			h.throttle.RecordFailedLogin(r)
		}
		h.renderForm(w, r, ErrorCodeToHTTPStatus(code), "auth/login", data)
		return
	}

	h.throttle.ResetLogin(r)
	if _, err := csrf.RefreshToken(w, h.isSecure); err != nil {
		h.logger.Warn("failed to refresh csrf token", "error", err)
	}

	target, ok := guard.LoginTarget(store.Snapshot(), returnURL)
	if !ok {
		// A concurrent logout on this request won; start over.
		target = gate.LoginURL(returnURL)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// =============================================================================
// POST /logout
// =============================================================================

// Logout clears the session and the auth cookie, then redirects to the
// login page. It always redirects, even if the store reports an error.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if store := auth.FromContext(r.Context()); store != nil {
		if err := store.Logout(); err != nil {
			h.logger.Warn("logout failed", "error", err)
		}
	}
	http.Redirect(w, r, gate.LoginPath+"?logout=1", http.StatusSeeOther)
}

// =============================================================================
// Registration (stub)
// =============================================================================

// ShowRegister renders the registration form.
func (h *AuthHandler) ShowRegister(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, "auth/register", AuthPageData{})
}

// Register validates the form and acknowledges it. Accounts are provisioned
// by the backend operators; nothing is stored here.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.parseProtectedForm(w, r, "auth/register") {
		return
	}

	email := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
	errs := make(map[string]string)
	if !isValidEmail(email) {
		errs["email"] = "Please enter a valid email address"
	}
	validateNewPassword(errs, r.FormValue("password"), r.FormValue("password_confirmation"))

	if len(errs) > 0 {
		h.renderForm(w, r, http.StatusBadRequest, "auth/register", AuthPageData{
			Form:   map[string]string{"Email": email},
			Errors: errs,
		})
		return
	}

	h.logger.Info("registration request accepted", "email", email)
	http.Redirect(w, r, gate.LoginPath+"?registered=1", http.StatusSeeOther)
}

// =============================================================================
// Password recovery (stub)
// =============================================================================

// ShowForgotPassword renders the password recovery form.
func (h *AuthHandler) ShowForgotPassword(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, "auth/forgot-password", AuthPageData{})
}

// ForgotPassword acknowledges a recovery request. The response is the same
// whether or not the address is known, and no email is sent from here.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	if !h.parseProtectedForm(w, r, "auth/forgot-password") {
		return
	}

	email := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
	if !isValidEmail(email) {
		h.renderForm(w, r, http.StatusBadRequest, "auth/forgot-password", AuthPageData{
			Form:   map[string]string{"Email": email},
			Errors: map[string]string{"email": "Please enter a valid email address"},
		})
		return
	}

	h.logger.Info("password recovery requested", "email", email)
	h.renderForm(w, r, http.StatusOK, "auth/forgot-password", AuthPageData{
		Sent: true,
		Flash: &Flash{
			Type:    "info",
			Message: "If an account exists for that email, reset instructions are on their way.",
		},
	})
}

// ShowResetPassword renders the new-password form for the token in the query.
func (h *AuthHandler) ShowResetPassword(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	data := AuthPageData{Token: token}
	if token == "" {
		data.Flash = &Flash{Type: "error", Message: "This reset link is invalid or has expired."}
	}
	h.renderForm(w, r, http.StatusOK, "auth/reset-password", data)
}

// ResetPassword validates the new password and sends the user to log in.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if !h.parseProtectedForm(w, r, "auth/reset-password") {
		return
	}

	token := r.FormValue("token")
	errs := make(map[string]string)
	if token == "" {
		errs["token"] = "This reset link is invalid or has expired."
	}
	validateNewPassword(errs, r.FormValue("password"), r.FormValue("password_confirmation"))

	if len(errs) > 0 {
		h.renderForm(w, r, http.StatusBadRequest, "auth/reset-password", AuthPageData{
			Token:  token,
			Errors: errs,
		})
		return
	}

	h.logger.Info("password reset accepted")
	http.Redirect(w, r, gate.LoginPath+"?reset=1", http.StatusSeeOther)
}

// =============================================================================
// Helpers
// =============================================================================

// renderForm fills in the CSRF token and nil maps, then renders.
func (h *AuthHandler) renderForm(w http.ResponseWriter, r *http.Request, status int, name string, data AuthPageData) {
	token, err := csrf.EnsureToken(w, r, h.isSecure)
	if err != nil {
		InternalErrorResponse(w, r, h.logger, err)
		return
	}
	data.CSRFToken = token
	if data.Form == nil {
		data.Form = make(map[string]string)
	}
	if data.Errors == nil {
		data.Errors = make(map[string]string)
	}
	h.renderer.RenderStatus(w, r, status, name, data)
}

// parseProtectedForm parses the body and checks the CSRF token, rendering
// the form again when either fails.
func (h *AuthHandler) parseProtectedForm(w http.ResponseWriter, r *http.Request, name string) bool {
	if err := r.ParseForm(); err != nil {
		h.renderForm(w, r, http.StatusBadRequest, name, AuthPageData{
			Flash: &Flash{Type: "error", Message: "Invalid form submission. Please try again."},
		})
		return false
	}
	if !csrf.ValidateRequest(r) {
		h.renderForm(w, r, http.StatusForbidden, name, AuthPageData{
			Token: r.FormValue("token"),
			Flash: &Flash{Type: "error", Message: "Your form expired. Please try again."},
		})
		return false
	}
	return true
}

func validateNewPassword(errs map[string]string, password, confirmation string) {
	switch {
	case password == "":
		errs["password"] = "Password is required"
	case len(password) < MinPasswordLength:
		errs["password"] = "Password must be at least 8 characters"
	case password != confirmation:
		errs["password_confirmation"] = "Passwords do not match"
	}
}

// isValidEmail accepts a bare address (no display name).
func isValidEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email, ".")
}
