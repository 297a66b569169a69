package internal

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// External POS backend (auth verification, login, orders)
	BackendURL     string
	VerifyTimeout  time.Duration
	RequestTimeout time.Duration

	// Login throttling per client IP
	LoginRateLimit  int
	LoginRateWindow time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string

	// Development stand-in for the backend (cmd/authority)
	AuthorityPort     int
	AuthoritySecret   string
	AuthorityTokenTTL time.Duration
	AuthorityUsers    []UserCredential
}

// UserCredential is one AUTHORITY_USERS entry.
type UserCredential struct {
	Email    string
	Password string
}

// IsDevelopment reports whether ENV is "development".
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsSecure reports whether cookies should carry the Secure flag.
func (c *Config) IsSecure() bool {
	return !c.IsDevelopment()
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8081"),
		VerifyTimeout:  getEnvDuration("VERIFY_TIMEOUT", 5*time.Second),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),

		LoginRateLimit:  getEnvInt("LOGIN_RATE_LIMIT", 5),
		LoginRateWindow: getEnvDuration("LOGIN_RATE_WINDOW", 15*time.Minute),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),

		AuthorityPort:     getEnvInt("AUTHORITY_PORT", 8081),
		AuthoritySecret:   getEnv("AUTHORITY_SECRET", ""),
		AuthorityTokenTTL: getEnvDuration("AUTHORITY_TOKEN_TTL", 24*time.Hour),
	}

	users, err := parseUserCredentials(getEnv("AUTHORITY_USERS", ""))
	if err != nil {
		return nil, err
	}
	cfg.AuthorityUsers = users

	if u, err := url.Parse(cfg.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("BACKEND_URL must be an absolute URL, got: %s", cfg.BackendURL)
	}
	if cfg.VerifyTimeout <= 0 || cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("VERIFY_TIMEOUT and REQUEST_TIMEOUT must be positive")
	}
	if cfg.LoginRateLimit < 1 {
		return nil, fmt.Errorf("LOGIN_RATE_LIMIT must be at least 1, got: %d", cfg.LoginRateLimit)
	}

	return cfg, nil
}

// parseUserCredentials reads "email:password,email:password".
func parseUserCredentials(raw string) ([]UserCredential, error) {
	var users []UserCredential
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		email, password, ok := strings.Cut(entry, ":")
		email = strings.TrimSpace(strings.ToLower(email))
		if !ok || email == "" || password == "" {
			return nil, fmt.Errorf("AUTHORITY_USERS entries must look like email:password")
		}
		users = append(users, UserCredential{Email: email, Password: password})
	}
	return users, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
