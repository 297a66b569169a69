package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/DukeRupert/posadmin/internal/auth"
	"github.com/DukeRupert/posadmin/internal/domain"
	"github.com/DukeRupert/posadmin/internal/gate"
	"github.com/DukeRupert/posadmin/internal/guard"
	"github.com/DukeRupert/posadmin/internal/notify"
)

// OrderFetcher loads orders from the backend. backend.Client implements it.
type OrderFetcher interface {
	GetOrderByID(ctx context.Context, token, id string) (*domain.OrderRecord, error)
}

// PageHandler serves the protected pages.
//
// Routes handled:
// - GET /              -> redirect to /dashboard
// - GET /dashboard
// - GET /orders?id=    -> redirect to /orders/{id}
// - GET /orders/{id}
// - GET /payments/{id} (payments of order {id})
type PageHandler struct {
	orders   OrderFetcher
	renderer TemplateRenderer
	logger   *slog.Logger
}

// NewPageHandler creates a new PageHandler.
func NewPageHandler(orders OrderFetcher, renderer TemplateRenderer, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		orders:   orders,
		renderer: renderer,
		logger:   logger,
	}
}

// RegisterRoutes registers the protected page routes on the provided ServeMux.
func (h *PageHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("GET /dashboard", h.Dashboard)
	mux.HandleFunc("GET /orders", h.LookupOrder)
	mux.HandleFunc("GET /orders/{id}", h.ShowOrder)
	mux.HandleFunc("GET /payments/{id}", h.ShowPayments)
}

// OrderPageData is shared by the order and payments pages.
type OrderPageData struct {
	ID    string
	Order *domain.OrderRecord
	Error string // Set instead of Order when the fetch failed
}

// ErrorPageData is rendered by the generic error page.
type ErrorPageData struct {
	Title   string
	Message string
}

// Index sends the root path to the dashboard.
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, gate.DefaultReturnPath, http.StatusSeeOther)
}

// Dashboard renders the landing page for signed-in users.
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w, r); !ok {
		return
	}
	h.renderer.RenderHTTP(w, r, "dashboard", nil)
}

// LookupOrder turns the dashboard lookup form into an order URL.
func (h *PageHandler) LookupOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w, r); !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Redirect(w, r, gate.DefaultReturnPath, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/orders/"+url.PathEscape(id), http.StatusSeeOther)
}

// ShowOrder renders a single order.
func (h *PageHandler) ShowOrder(w http.ResponseWriter, r *http.Request) {
	h.showOrder(w, r, "orders/show")
}

// ShowPayments renders the payments applied to an order.
func (h *PageHandler) ShowPayments(w http.ResponseWriter, r *http.Request) {
	h.showOrder(w, r, "payments/show")
}

// NotFound renders the error page for unknown app routes.
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	if WantsJSON(r) {
		NotFoundResponse(w, r, h.logger)
		return
	}
	h.renderer.RenderStatus(w, r, http.StatusNotFound, "error", ErrorPageData{
		Title:   "Page not found",
		Message: "The page you are looking for does not exist.",
	})
}

func (h *PageHandler) showOrder(w http.ResponseWriter, r *http.Request, page string) {
	user, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	order, err := h.orders.GetOrderByID(r.Context(), user.Token, id)
	if err == nil {
		h.renderer.RenderHTTP(w, r, page, OrderPageData{ID: id, Order: order})
		return
	}

	code := domain.ErrorCode(err)
	if code == domain.EUNAUTHORIZED {
		// The backend no longer accepts the token: end the session here too.
		h.logger.Info("backend rejected session token", "path", r.URL.Path)
		if store := auth.FromContext(r.Context()); store != nil {
			if err := store.Logout(); err != nil {
				h.logger.Warn("logout after rejected token failed", "error", err)
			}
		}
		h.redirectToLogin(w, r, guard.RedirectTarget(r.URL.Path))
		return
	}

	if code == domain.EINTERNAL {
		h.logger.Error("order fetch failed", "id", id, "error", err)
	} else {
		h.logger.Warn("order fetch failed", "id", id, "code", code, "error", err)
	}

	message := domain.ErrorMessage(err)
	if rec := notify.RecorderFrom(r.Context()); rec != nil {
		rec.Notify(r.Context(), notify.Error("Could not load order", message))
	}
	h.renderer.RenderStatus(w, r, ErrorCodeToHTTPStatus(code), page, OrderPageData{ID: id, Error: message})
}

// requireSession resolves the protected-page guard for this request. When it
// returns false a response has already been written.
func (h *PageHandler) requireSession(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	store := auth.FromContext(r.Context())
	if store == nil {
		InternalErrorResponse(w, r, h.logger, errors.New("no session store in request context"))
		return nil, false
	}

	action, target, err := guard.Await(r.Context(), store, r.URL.Path)
	if err != nil {
		// Client went away or the store was released; nothing useful to send.
		h.logger.Debug("guard wait aborted", "path", r.URL.Path, "error", err)
		return nil, false
	}
	if action == guard.Redirect {
		h.redirectToLogin(w, r, target)
		return nil, false
	}

	user := store.Snapshot().User
	if user == nil {
		h.redirectToLogin(w, r, guard.RedirectTarget(r.URL.Path))
		return nil, false
	}
	return user, true
}

// redirectToLogin sends browsers to the login page and API clients a 401.
func (h *PageHandler) redirectToLogin(w http.ResponseWriter, r *http.Request, target string) {
	if WantsJSON(r) {
		UnauthorizedResponse(w, r, h.logger)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
