package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/posadmin/internal/domain"
	"github.com/DukeRupert/posadmin/internal/handler"
)

// =============================================================================
// Rate Limiter
// =============================================================================

// RateLimiter counts hits per key in a fixed window that starts with the
// key's first hit. Call Close to stop the background cleanup.
type RateLimiter struct {
	maxHits int
	window  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*rateLimitEntry

	done      chan struct{}
	closeOnce sync.Once
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing maxHits per window per key.
func NewRateLimiter(maxHits int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		maxHits: maxHits,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*rateLimitEntry),
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow records a hit and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry := rl.entryLocked(key)
	if entry.count >= rl.maxHits {
		return false
	}
	entry.count++
	return true
}

// Blocked reports whether key has used up its window, without recording a hit.
func (rl *RateLimiter) Blocked(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[key]
	if !ok || rl.expired(entry) {
		return false
	}
	return entry.count >= rl.maxHits
}

// RecordFailure records a hit without checking the limit.
func (rl *RateLimiter) RecordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.entryLocked(key).count++
}

// Reset forgets key.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, key)
}

// TimeUntilReset returns how long until key's window ends.
func (rl *RateLimiter) TimeUntilReset(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[key]
	if !ok {
		return 0
	}
	remaining := rl.window - rl.now().Sub(entry.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.done) })
}

// entryLocked returns key's entry, starting a fresh window when needed.
func (rl *RateLimiter) entryLocked(key string) *rateLimitEntry {
	entry, ok := rl.entries[key]
	if !ok {
		entry = &rateLimitEntry{windowStart: rl.now()}
		rl.entries[key] = entry
		return entry
	}
	if rl.expired(entry) {
		entry.count = 0
		entry.windowStart = rl.now()
	}
	return entry
}

func (rl *RateLimiter) expired(entry *rateLimitEntry) bool {
	return rl.now().Sub(entry.windowStart) > rl.window
}

// cleanup periodically removes expired entries to prevent memory leaks.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.entries {
		if rl.expired(entry) {
			delete(rl.entries, key)
		}
	}
}

// =============================================================================
// Auth Rate Limiter
// =============================================================================

// AuthRateLimitConfig sets the login throttle. Registration and password
// recovery use fixed limits.
type AuthRateLimitConfig struct {
	LoginAttempts int           // Failed logins allowed per window
	LoginWindow   time.Duration
}

// AuthRateLimiter throttles the public account forms per client IP.
//
// Login counts only failed attempts (the handler reports them through
// RecordFailedLogin) and a successful login clears the count. Registration
// and password recovery count every submission.
//
// It implements handler.Throttle.
type AuthRateLimiter struct {
	login         *RateLimiter
	register      *RateLimiter
	passwordReset *RateLimiter
	logger        *slog.Logger
}

// NewAuthRateLimiter creates the limiters.
// - Login: cfg.LoginAttempts failures per cfg.LoginWindow
// - Register: 3 per hour
// - Password recovery: 3 per hour
func NewAuthRateLimiter(cfg AuthRateLimitConfig, logger *slog.Logger) *AuthRateLimiter {
	return &AuthRateLimiter{
		login:         NewRateLimiter(cfg.LoginAttempts, cfg.LoginWindow),
		register:      NewRateLimiter(3, time.Hour),
		passwordReset: NewRateLimiter(3, time.Hour),
		logger:        logger,
	}
}

// LimitLogin rejects login submissions from clients with too many failures.
func (a *AuthRateLimiter) LimitLogin(next http.Handler) http.Handler {
	return a.limit(a.login, false, next)
}

// LimitRegister returns middleware for rate limiting registration attempts.
func (a *AuthRateLimiter) LimitRegister(next http.Handler) http.Handler {
	return a.limit(a.register, true, next)
}

// LimitPasswordReset returns middleware for rate limiting password recovery.
func (a *AuthRateLimiter) LimitPasswordReset(next http.Handler) http.Handler {
	return a.limit(a.passwordReset, true, next)
}

// RecordFailedLogin counts a rejected login against the client.
func (a *AuthRateLimiter) RecordFailedLogin(r *http.Request) {
	a.login.RecordFailure(getClientIP(r))
}

// ResetLogin clears the client's failures after a successful login.
func (a *AuthRateLimiter) ResetLogin(r *http.Request) {
	a.login.Reset(getClientIP(r))
}

// Close stops all limiters.
func (a *AuthRateLimiter) Close() {
	a.login.Close()
	a.register.Close()
	a.passwordReset.Close()
}

func (a *AuthRateLimiter) limit(rl *RateLimiter, countHit bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIP(r)

		var allowed bool
		if countHit {
			allowed = rl.Allow(clientIP)
		} else {
			allowed = !rl.Blocked(clientIP)
		}
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		a.logger.Warn("rate limit exceeded",
			"ip", clientIP,
			"path", r.URL.Path,
			"method", r.Method,
		)

		retryAfter := int(rl.TimeUntilReset(clientIP).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		handler.ErrorResponse(w, r, a.logger, domain.RateLimit("middleware.rate_limit"))
	})
}

// =============================================================================
// Helpers
// =============================================================================

// getClientIP extracts the client IP from the request, considering proxy headers.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For: client, proxy1, proxy2
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	// Check X-Real-IP (nginx)
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return ip
}

var _ handler.Throttle = (*AuthRateLimiter)(nil)
