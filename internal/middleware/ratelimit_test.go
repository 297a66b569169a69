package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, maxHits int, window time.Duration) (*RateLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(maxHits, window)
	rl.now = clock.Now
	t.Cleanup(rl.Close)
	return rl, clock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// RateLimiter Tests
// =============================================================================

func TestRateLimiter_Allow_UnderLimit(t *testing.T) {
	rl, _ := newTestLimiter(t, 5, time.Minute)

	for i := 0; i < 5; i++ {
		if !rl.Allow("192.168.1.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
}

func TestRateLimiter_Allow_AtLimit(t *testing.T) {
	rl, _ := newTestLimiter(t, 5, time.Minute)

	for i := 0; i < 5; i++ {
		rl.Allow("192.168.1.1")
	}

	if rl.Allow("192.168.1.1") {
		t.Error("6th request should be denied")
	}
}

func TestRateLimiter_Allow_DifferentIPs(t *testing.T) {
	rl, _ := newTestLimiter(t, 2, time.Minute)

	rl.Allow("192.168.1.1")
	rl.Allow("192.168.1.1")

	if rl.Allow("192.168.1.1") {
		t.Error("IP1 should be rate limited")
	}
	if !rl.Allow("192.168.1.2") {
		t.Error("IP2 should not be affected by IP1's limit")
	}
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	rl, clock := newTestLimiter(t, 1, time.Minute)

	rl.Allow("10.0.0.1")
	if rl.Allow("10.0.0.1") {
		t.Fatal("second request inside the window should be denied")
	}

	clock.Advance(time.Minute + time.Second)

	if !rl.Allow("10.0.0.1") {
		t.Error("request after the window should be allowed")
	}
}

func TestRateLimiter_BlockedDoesNotCount(t *testing.T) {
	rl, _ := newTestLimiter(t, 2, time.Minute)

	for i := 0; i < 10; i++ {
		if rl.Blocked("10.0.0.1") {
			t.Fatalf("check %d: Blocked must not record hits", i+1)
		}
	}

	rl.RecordFailure("10.0.0.1")
	rl.RecordFailure("10.0.0.1")

	if !rl.Blocked("10.0.0.1") {
		t.Error("expected key to be blocked after two failures")
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, time.Minute)

	rl.RecordFailure("10.0.0.1")
	if !rl.Blocked("10.0.0.1") {
		t.Fatal("expected key to be blocked")
	}

	rl.Reset("10.0.0.1")

	if rl.Blocked("10.0.0.1") {
		t.Error("expected key to be cleared by Reset")
	}
}

func TestRateLimiter_TimeUntilReset(t *testing.T) {
	rl, clock := newTestLimiter(t, 1, time.Minute)

	if got := rl.TimeUntilReset("unknown"); got != 0 {
		t.Errorf("expected 0 for unknown key, got %v", got)
	}

	rl.Allow("10.0.0.1")
	clock.Advance(20 * time.Second)

	if got := rl.TimeUntilReset("10.0.0.1"); got != 40*time.Second {
		t.Errorf("expected 40s, got %v", got)
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl, clock := newTestLimiter(t, 1, time.Minute)

	rl.Allow("10.0.0.1")
	clock.Advance(2 * time.Minute)
	rl.sweep()

	rl.mu.Lock()
	n := len(rl.entries)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("expected expired entries to be swept, %d left", n)
	}
}

func TestRateLimiter_CloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Close()
	rl.Close()
}

// =============================================================================
// AuthRateLimiter Tests
// =============================================================================

func newTestAuthLimiter(t *testing.T, attempts int) *AuthRateLimiter {
	t.Helper()
	a := NewAuthRateLimiter(AuthRateLimitConfig{LoginAttempts: attempts, LoginWindow: 15 * time.Minute}, discardLogger())
	t.Cleanup(a.Close)
	return a
}

func loginRequest(ip string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	r.RemoteAddr = ip + ":12345"
	return r
}

func TestAuthRateLimiter_LoginCountsOnlyFailures(t *testing.T) {
	a := newTestAuthLimiter(t, 2)
	handler := a.LimitLogin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSeeOther)
	}))

	// Successful submissions never trip the limit.
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("10.0.0.1"))
		if w.Code != http.StatusSeeOther {
			t.Fatalf("submission %d: expected 303, got %d", i+1, w.Code)
		}
	}

	a.RecordFailedLogin(loginRequest("10.0.0.1"))
	a.RecordFailedLogin(loginRequest("10.0.0.1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("10.0.0.1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after two failures, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Another client is unaffected.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("10.0.0.2"))
	if w.Code != http.StatusSeeOther {
		t.Errorf("expected other IP to pass, got %d", w.Code)
	}
}

func TestAuthRateLimiter_ResetLogin(t *testing.T) {
	a := newTestAuthLimiter(t, 1)
	a.RecordFailedLogin(loginRequest("10.0.0.1"))
	a.ResetLogin(loginRequest("10.0.0.1"))

	if a.login.Blocked("10.0.0.1") {
		t.Error("expected successful login to clear failures")
	}
}

func TestAuthRateLimiter_RegisterCountsEverySubmission(t *testing.T) {
	a := newTestAuthLimiter(t, 5)
	handler := a.LimitRegister(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("10.0.0.1"))
		if w.Code != http.StatusOK {
			t.Fatalf("submission %d: expected 200, got %d", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("10.0.0.1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 4th registration to be limited, got %d", w.Code)
	}
}

func TestAuthRateLimiter_JSONResponse(t *testing.T) {
	a := newTestAuthLimiter(t, 1)
	a.RecordFailedLogin(loginRequest("10.0.0.1"))
	handler := a.LimitLogin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	r := loginRequest("10.0.0.1")
	r.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}

// =============================================================================
// getClientIP Tests
// =============================================================================

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr with port", "192.0.2.1:1234", nil, "192.0.2.1"},
		{"remote addr without port", "192.0.2.1", nil, "192.0.2.1"},
		{"x-forwarded-for first hop", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"}, "203.0.113.5"},
		{"x-real-ip", "10.0.0.1:1", map[string]string{"X-Real-IP": " 203.0.113.9 "}, "203.0.113.9"},
		{"empty forwarded falls through", "192.0.2.7:80", map[string]string{"X-Forwarded-For": " , 10.0.0.2"}, "192.0.2.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := getClientIP(r); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
