package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/posadmin/internal/auth"
	"github.com/DukeRupert/posadmin/internal/domain"
	"github.com/DukeRupert/posadmin/internal/notify"
	"github.com/DukeRupert/posadmin/internal/session"
)

// mockOrderFetcher implements OrderFetcher for testing.
type mockOrderFetcher struct {
	GetOrderByIDFunc func(ctx context.Context, token, id string) (*domain.OrderRecord, error)
	calls            int
}

func (m *mockOrderFetcher) GetOrderByID(ctx context.Context, token, id string) (*domain.OrderRecord, error) {
	m.calls++
	if m.GetOrderByIDFunc != nil {
		return m.GetOrderByIDFunc(ctx, token, id)
	}
	return nil, errors.New("GetOrderByIDFunc not implemented")
}

func sampleOrder(id string) *domain.OrderRecord {
	return &domain.OrderRecord{
		ID:         id,
		Status:     domain.OrderStatusPaid,
		TotalCents: 1250,
		Currency:   "USD",
		Items:      []domain.OrderItem{{Name: "Latte", Quantity: 2, PriceCents: 625}},
		Payments:   []domain.PaymentEntry{{ID: "p-1", Method: domain.PaymentMethodCard, AmountCents: 1250, PaidAt: time.Now()}},
		CreatedAt:  time.Now().Add(-time.Hour),
	}
}

func newTestPageMux(orders OrderFetcher) (*http.ServeMux, *mockRenderer) {
	renderer := &mockRenderer{}
	h := NewPageHandler(orders, renderer, newTestLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, renderer
}

func TestProtectedPages_UnauthenticatedRedirectsWithReturnURL(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/dashboard", "/login?returnUrl=%2Fdashboard"},
		{"/orders/42", "/login?returnUrl=%2Forders%2F42"},
		{"/payments/42", "/login?returnUrl=%2Fpayments%2F42"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			orders := &mockOrderFetcher{}
			mux, renderer := newTestPageMux(orders)
			tr := newSessionRequest(t, acceptAll(), http.MethodGet, tt.path, nil, "")

			mux.ServeHTTP(tr.w, tr.r)

			assert.Equal(t, http.StatusSeeOther, tr.w.Code)
			assert.Equal(t, tt.want, tr.w.Header().Get("Location"))
			assert.Empty(t, renderer.calls, "protected content must not render")
			assert.Zero(t, orders.calls)
		})
	}
}

func TestProtectedPages_APIClientsGet401(t *testing.T) {
	mux, _ := newTestPageMux(&mockOrderFetcher{})
	tr := newSessionRequest(t, acceptAll(), http.MethodGet, "/orders/42", nil, "")
	tr.r.Header.Set("Accept", "application/json")

	mux.ServeHTTP(tr.w, tr.r)

	assert.Equal(t, http.StatusUnauthorized, tr.w.Code)
	assert.Contains(t, tr.w.Body.String(), `"unauthorized"`)
}

func TestProtectedPages_InvalidCookieRedirects(t *testing.T) {
	mux, _ := newTestPageMux(&mockOrderFetcher{})
	client := &mockAuthenticator{VerifyFunc: func(context.Context, string) (bool, error) { return false, nil }}
	tr := newSessionRequest(t, client, http.MethodGet, "/dashboard", nil, "stale-token")

	mux.ServeHTTP(tr.w, tr.r)

	assert.Equal(t, http.StatusSeeOther, tr.w.Code)
	assert.Equal(t, "/login?returnUrl=%2Fdashboard", tr.w.Header().Get("Location"))
	cookie := findCookie(tr.w, session.CookieName)
	require.NotNil(t, cookie, "rejected token should be cleared")
	assert.Equal(t, "", cookie.Value)
}

func TestDashboard_Authenticated(t *testing.T) {
	mux, renderer := newTestPageMux(&mockOrderFetcher{})
	tr := newSessionRequest(t, acceptAll(), http.MethodGet, "/dashboard", nil, "tok-123")

	mux.ServeHTTP(tr.w, tr.r)

	assert.Equal(t, http.StatusOK, tr.w.Code)
	assert.Equal(t, "dashboard", renderer.last(t).Name)
}

func TestIndex_RedirectsToDashboard(t *testing.T) {
	mux, _ := newTestPageMux(&mockOrderFetcher{})
	tr := newSessionRequest(t, acceptAll(), http.MethodGet, "/", nil, "tok-123")

	mux.ServeHTTP(tr.w, tr.r)

	assert.Equal(t, http.StatusSeeOther, tr.w.Code)
	assert.Equal(t, "/dashboard", tr.w.Header().Get("Location"))
}

func TestLookupOrder(t *testing.T) {
	mux, _ := newTestPageMux(&mockOrderFetcher{})
	tr := newSessionRequest(t, acceptAll(), http.MethodGet, "/orders?id=+42+", nil, "tok-123")

	mux.ServeHTTP(tr.w, tr.r)

	assert.Equal(t, http.StatusSeeOther, tr.w.Code)
	assert.Equal(t, "/orders/42", tr.w.Header().Get("Location"))
}

func TestShowOrder_RendersOrderWithSessionToken(t *testing.T) {
	var gotToken, gotID string
	orders := &mockOrderFetcher{GetOrderByIDFunc: func(_ context.Context, token, id string) (*domain.OrderRecord, error) {
		gotToken, gotID = token, id
		return sampleOrder(id), nil
	}}
	mux, renderer := newTestPageMux(orders)
	tr := newSessionRequest(t, acceptAll(), http.MethodGet, "/orders/42", nil, "tok-123")

	mux.ServeHTTP(tr.w, tr.r)

	assert.Equal(t, "tok-123", gotToken)
	assert.Equal(t, "42", gotID)
	call := renderer.last(t)
	assert.Equal(t, "orders/show", call.Name)
	assert.Equal(t, http.StatusOK, call.Status)
	data := call.Data.(OrderPageData)
	require.NotNil(t, data.Order)
	assert.Equal(t, "42", data.Order.ID)
	assert.Empty(t, data.Error)
}

func TestShowPayments_UsesPaymentsTemplate(t *testing.T) {
	orders := &mockOrderFetcher{GetOrderByIDFunc: func(_ context.Context, _, id string) (*domain.OrderRecord, error) {
		return sampleOrder(id), nil
	}}
	mux, renderer := newTestPageMux(orders)
	tr := newSessionRequest(t, acceptAll(), http.MethodGet, "/payments/7", nil, "tok-123")

	mux.ServeHTTP(tr.w, tr.r)

	assert.Equal(t, "payments/show", renderer.last(t).Name)
}

func TestShowOrder_FetchFailuresRenderErrorState(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", domain.NotFound("backend.get_order", "Order", "999"), http.StatusNotFound},
		{"backend down", domain.Network(errors.New("refused"), "backend.get_order", "Unable to reach the server"), http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &mockOrderFetcher{GetOrderByIDFunc: func(context.Context, string, string) (*domain.OrderRecord, error) {
				return nil, tt.err
			}}
			mux, renderer := newTestPageMux(orders)
			tr := newSessionRequest(t, acceptAll(), http.MethodGet, "/orders/999", nil, "tok-123")

			mux.ServeHTTP(tr.w, tr.r)

			call := renderer.last(t)
			assert.Equal(t, "orders/show", call.Name)
			assert.Equal(t, tt.wantStatus, call.Status)
			data := call.Data.(OrderPageData)
			assert.Nil(t, data.Order)
			assert.NotEmpty(t, data.Error)
			assert.NotContains(t, data.Error, "boom")

			notes := tr.recorder.Drain()
			require.NotEmpty(t, notes)
			assert.Equal(t, notify.SeverityError, notes[len(notes)-1].Severity)
			assert.Equal(t, auth.StatusAuthenticated, tr.store.Snapshot().Status, "session survives a failed fetch")
		})
	}
}

func TestShowOrder_RejectedTokenEndsSession(t *testing.T) {
	orders := &mockOrderFetcher{GetOrderByIDFunc: func(context.Context, string, string) (*domain.OrderRecord, error) {
		return nil, domain.Unauthorized("backend.get_order", "Session expired")
	}}
	mux, renderer := newTestPageMux(orders)
	tr := newSessionRequest(t, acceptAll(), http.MethodGet, "/orders/42", nil, "tok-123")

	mux.ServeHTTP(tr.w, tr.r)

	assert.Equal(t, http.StatusSeeOther, tr.w.Code)
	assert.Equal(t, "/login?returnUrl=%2Forders%2F42", tr.w.Header().Get("Location"))
	assert.Equal(t, auth.StatusUnauthenticated, tr.store.Snapshot().Status)
	assert.Empty(t, renderer.calls)
}

func TestNotFound_RendersErrorPage(t *testing.T) {
	renderer := &mockRenderer{}
	h := NewPageHandler(&mockOrderFetcher{}, renderer, newTestLogger())
	tr := newSessionRequest(t, acceptAll(), http.MethodGet, "/nope", nil, "tok-123")

	h.NotFound(tr.w, tr.r)

	call := renderer.last(t)
	assert.Equal(t, "error", call.Name)
	assert.Equal(t, http.StatusNotFound, call.Status)
}
