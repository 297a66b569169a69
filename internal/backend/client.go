// Package backend is the HTTP client for the external POS backend: the
// credential verifier, the login endpoint, and the order data-fetch API.
//
// Every failure is classified into one of the domain error codes so callers
// never have to guess whether a problem was the user's credentials
// (EUNAUTHORIZED) or connectivity (ENETWORK).
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/DukeRupert/posadmin/internal/domain"
	"github.com/DukeRupert/posadmin/internal/metrics"
)

const (
	// DefaultTimeout bounds login and order calls.
	DefaultTimeout = 10 * time.Second

	// DefaultVerifyTimeout bounds token verification.
	DefaultVerifyTimeout = 5 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// Config contains configuration for the backend client.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	VerifyTimeout time.Duration
	HTTPClient    *http.Client // Optional; a client with Timeout is built when nil
}

// Client talks to the backend. It is stateless and safe for concurrent use.
// It never retries; callers decide what to do with a NetworkFailure.
type Client struct {
	baseURL       *url.URL
	httpClient    *http.Client
	verifyTimeout time.Duration
	logger        *slog.Logger
}

// New creates a backend client.
func New(config Config, logger *slog.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend base URL %q is not an absolute URL", config.BaseURL)
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.VerifyTimeout <= 0 {
		config.VerifyTimeout = DefaultVerifyTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		baseURL:       base,
		httpClient:    httpClient,
		verifyTimeout: config.VerifyTimeout,
		logger:        logger,
	}, nil
}

// =============================================================================
// Credential Verifier
// =============================================================================

// Verify asks the backend whether token is still valid.
//
// Only the status code is interpreted: 2xx is valid, 401/403 is invalid, and
// anything else (including transport errors) is reported as invalid together
// with an ENETWORK error. A malformed token is invalid without a network call.
func (c *Client) Verify(ctx context.Context, token string) (bool, error) {
	const op = "backend.verify"

	if !wellFormedToken(token) {
		metrics.BackendRequests.WithLabelValues("verify", "malformed").Inc()
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/auth/verify", nil)
	if err != nil {
		return false, domain.Internal(err, op, "could not build verify request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.do(req, "verify")
	if err != nil {
		return false, domain.Network(err, op, "Unable to reach the authentication server")
	}
	defer drain(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, domain.Network(
			fmt.Errorf("unexpected status %d", resp.StatusCode), op,
			"The authentication server is unavailable")
	}
}

// =============================================================================
// Login
// =============================================================================

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string     `json:"token"`
	UserID    string     `json:"userId"`
	Email     string     `json:"email"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Login exchanges credentials for a session.
// Returns EUNAUTHORIZED for rejected credentials, ERATELIMIT when throttled,
// and ENETWORK for everything the user cannot fix by retyping a password.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	const op = "backend.login"

	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, domain.Internal(err, op, "could not encode credentials")
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, domain.Internal(err, op, "could not build login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, "login")
	if err != nil {
		return nil, domain.Network(err, op, "Unable to reach the authentication server")
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return nil, domain.Unauthorized(op, "Invalid email or password")
	case http.StatusTooManyRequests:
		return nil, domain.RateLimit(op)
	default:
		return nil, domain.Network(
			fmt.Errorf("unexpected status %d", resp.StatusCode), op,
			"The authentication server is unavailable")
	}

	var out loginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, domain.Network(err, op, "The authentication server sent an unreadable response")
	}
	if !wellFormedToken(out.Token) {
		return nil, domain.Network(errors.New("missing token"), op, "The authentication server sent an unreadable response")
	}

	if out.Email == "" {
		out.Email = email
	}
	return &domain.Session{
		UserID:    out.UserID,
		Email:     out.Email,
		Token:     out.Token,
		ExpiresAt: out.ExpiresAt,
	}, nil
}

// =============================================================================
// Orders
// =============================================================================

// GetOrderByID fetches one order on behalf of the session holding token.
func (c *Client) GetOrderByID(ctx context.Context, token, id string) (*domain.OrderRecord, error) {
	const op = "backend.get_order"

	if strings.TrimSpace(id) == "" {
		return nil, domain.NewValidationError(op, "id", "Order ID is required")
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, domain.Internal(err, op, "could not build order request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, "get_order")
	if err != nil {
		return nil, domain.Network(err, op, "Unable to reach the order service")
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, domain.NotFound(op, "order", id)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, domain.Unauthorized(op, "Your session has expired. Please sign in again.")
	default:
		return nil, domain.Network(
			fmt.Errorf("unexpected status %d", resp.StatusCode), op,
			"The order service is unavailable")
	}

	var order domain.OrderRecord
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&order); err != nil {
		return nil, domain.Network(err, op, "The order service sent an unreadable response")
	}
	return &order, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	return http.NewRequestWithContext(ctx, method, u.String(), body)
}

// do executes req and records metrics. A non-nil error means no response.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.BackendRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.BackendRequests.WithLabelValues(op, "error").Inc()
		c.logger.Warn("backend request failed", "op", op, "error", err)
		return nil, err
	}
	metrics.BackendRequests.WithLabelValues(op, statusClass(resp.StatusCode)).Inc()
	c.logger.Debug("backend request", "op", op, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

// wellFormedToken rejects empty tokens and tokens that cannot travel in an
// Authorization header. The contents are otherwise opaque.
func wellFormedToken(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
}
