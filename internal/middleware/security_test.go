package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serveSecurity(isSecure bool, path string) *httptest.ResponseRecorder {
	h := NewSecurityHeadersMiddleware(isSecure).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestSecurityHeaders_Common(t *testing.T) {
	w := serveSecurity(false, "/dashboard")

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"), "HSTS only in production")
}

func TestSecurityHeaders_CSPIsSameOriginOnly(t *testing.T) {
	csp := serveSecurity(false, "/login").Header().Get("Content-Security-Policy")

	assert.Contains(t, csp, "default-src 'self'")
	assert.Contains(t, csp, "frame-ancestors 'none'")
	assert.Contains(t, csp, "form-action 'self'")
	assert.NotContains(t, csp, "unsafe-inline")
	assert.NotContains(t, csp, "https:")
	assert.Equal(t, 9, len(strings.Split(csp, "; ")))
}

func TestSecurityHeaders_HSTSInProduction(t *testing.T) {
	w := serveSecurity(true, "/dashboard")

	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
}

func TestSecurityHeaders_StaticAssetsCacheable(t *testing.T) {
	assert.Empty(t, serveSecurity(false, "/static/css/app.css").Header().Get("Cache-Control"))
	assert.Empty(t, serveSecurity(false, "/health").Header().Get("Cache-Control"))
}
