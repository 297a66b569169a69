package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/DukeRupert/posadmin/internal/authority"
	"github.com/DukeRupert/posadmin/internal/backend"
	"github.com/DukeRupert/posadmin/internal/csrf"
	"github.com/DukeRupert/posadmin/internal/handler"
	"github.com/DukeRupert/posadmin/internal/middleware"
	"github.com/DukeRupert/posadmin/internal/session"
)

const (
	testEmail    = "cashier@example.com"
	testPassword = "correct-horse"
)

type testEnv struct {
	app    *httptest.Server
	client *http.Client
}

// newTestEnv runs the full front-end against an in-memory authority.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	auth, err := authority.New(authority.Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, logger)
	require.NoError(t, err)
	_, err = auth.AddUser(testEmail, testPassword)
	require.NoError(t, err)
	auth.SeedDemoOrders()
	backendSrv := httptest.NewServer(auth.Handler())
	t.Cleanup(backendSrv.Close)

	client, err := backend.New(backend.Config{
		BaseURL:       backendSrv.URL,
		Timeout:       2 * time.Second,
		VerifyTimeout: time.Second,
	}, logger)
	require.NoError(t, err)

	renderer, err := handler.NewRenderer(handler.RendererConfig{Logger: logger})
	require.NoError(t, err)

	throttle := middleware.NewAuthRateLimiter(middleware.AuthRateLimitConfig{LoginAttempts: 5, LoginWindow: time.Minute}, logger)
	t.Cleanup(throttle.Close)

	appSrv := httptest.NewServer(newApp(appDeps{
		Client:   client,
		Renderer: renderer,
		Throttle: throttle,
		Logger:   logger,
	}))
	t.Cleanup(appSrv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{
		app: appSrv,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := e.client.Get(e.app.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := e.client.PostForm(e.app.URL+path, form)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp
}

func (e *testEnv) cookie(t *testing.T, name string) string {
	t.Helper()
	u, err := url.Parse(e.app.URL)
	require.NoError(t, err)
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// login walks the browser flow: load the form for its CSRF cookie, then submit.
func (e *testEnv) login(t *testing.T, returnURL, password string) *http.Response {
	t.Helper()
	resp, _ := e.get(t, "/login?returnUrl="+url.QueryEscape(returnURL))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := e.cookie(t, csrf.CookieName)
	require.NotEmpty(t, token)

	return e.postForm(t, "/login", url.Values{
		"email":            {testEmail},
		"password":         {password},
		"returnUrl":        {returnURL},
		csrf.FormFieldName: {token},
	})
}

func TestApp_LoginRoundTripsReturnURL(t *testing.T) {
	env := newTestEnv(t)

	// 1. Unauthenticated visit to a protected page is gated.
	resp, _ := env.get(t, "/orders/42")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?returnUrl=%2Forders%2F42", resp.Header.Get("Location"))

	// 2. Logging in returns to the original page.
	resp = env.login(t, "/orders/42", testPassword)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/orders/42", resp.Header.Get("Location"))
	assert.NotEmpty(t, env.cookie(t, session.CookieName))

	// 3. The page now renders with data from the backend.
	resp, body := env.get(t, "/orders/42")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Order 42")
	assert.Contains(t, body, "Flat white")

	// 4. Login page for a signed-in user forwards to the return URL.
	resp, _ = env.get(t, "/login?returnUrl=%2Fpayments%2F42")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/payments/42", resp.Header.Get("Location"))
}

func TestApp_WrongPasswordStaysOnLogin(t *testing.T) {
	env := newTestEnv(t)

	resp := env.login(t, "/orders/42", "wrong")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, env.cookie(t, session.CookieName))
}

func TestApp_LogoutEndsSession(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusSeeOther, env.login(t, "/dashboard", testPassword).StatusCode)

	resp := env.postForm(t, "/logout", url.Values{})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?logout=1", resp.Header.Get("Location"))
	assert.Empty(t, env.cookie(t, session.CookieName))

	resp, _ = env.get(t, "/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?returnUrl=%2Fdashboard", resp.Header.Get("Location"))
}

func TestApp_ForgedCookiePassesGateButNotGuard(t *testing.T) {
	env := newTestEnv(t)
	u, err := url.Parse(env.app.URL)
	require.NoError(t, err)
	env.client.Jar.SetCookies(u, []*http.Cookie{{Name: session.LegacyCookieName, Value: "forged.token.value", Path: "/"}})

	resp, body := env.get(t, "/orders/42")

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?returnUrl=%2Forders%2F42", resp.Header.Get("Location"))
	assert.NotContains(t, body, "Flat white")
	assert.Empty(t, env.cookie(t, session.LegacyCookieName), "rejected token is cleared")
}

func TestApp_PublicPagesNeverRedirect(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/login", "/register", "/forgot-password", "/reset-password?token=abc"} {
		resp, body := env.get(t, path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.True(t, strings.Contains(body, "<form") || strings.Contains(body, "reset"), path)
	}
}

func TestApp_InfrastructureRoutes(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)

	resp, body = env.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "posadmin_")

	resp, _ = env.get(t, "/login")
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}
