// Package authority is an in-memory stand-in for the external POS backend.
//
// It exists so the front-end can be run and tested end to end without the
// real service: it issues HS256 session tokens for bcrypt-checked users,
// answers token verification, and serves a handful of seeded orders.
// Nothing here is persisted.
package authority

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/posadmin/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Issuer is stamped into every token and required on verification.
	Issuer = "posadmin-authority"

	// DefaultTokenTTL is used when Config.TokenTTL is zero.
	DefaultTokenTTL = 24 * time.Hour

	// MinSecretLength guards against toy signing keys.
	MinSecretLength = 32
)

var (
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for tokens that fail signature, issuer or expiry checks.
	ErrInvalidToken = errors.New("invalid token")
)

// Config configures an Authority.
type Config struct {
	Secret   []byte
	TokenTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost; tests use bcrypt.MinCost.
	BcryptCost int
}

// Claims are the token claims issued by the authority.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type user struct {
	id           uuid.UUID
	email        string
	passwordHash []byte
}

// Authority holds users and orders in memory.
type Authority struct {
	secret []byte
	ttl    time.Duration
	cost   int
	logger *slog.Logger
	now    func() time.Time
	// dummyHash is compared against for unknown emails so they cost the
	// same as a wrong password.
	dummyHash []byte

	mu     sync.RWMutex
	users  map[string]*user // keyed by lowercase email
	orders map[string]domain.OrderRecord
}

// New creates an authority.
func New(cfg Config, logger *slog.Logger) (*Authority, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("authority secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &Authority{
		secret:    cfg.Secret,
		ttl:       cfg.TokenTTL,
		cost:      cfg.BcryptCost,
		logger:    logger,
		now:       time.Now,
		dummyHash: dummy,
		users:     make(map[string]*user),
		orders:    make(map[string]domain.OrderRecord),
	}, nil
}

// AddUser registers a user and returns its ID.
func (a *Authority) AddUser(email, password string) (uuid.UUID, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return uuid.Nil, fmt.Errorf("email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hash password: %w", err)
	}

	u := &user{id: uuid.New(), email: email, passwordHash: hash}
	a.mu.Lock()
	a.users[email] = u
	a.mu.Unlock()
	return u.id, nil
}

// AddOrder stores or replaces an order.
func (a *Authority) AddOrder(order domain.OrderRecord) {
	a.mu.Lock()
	a.orders[order.ID] = order
	a.mu.Unlock()
}

// Login checks credentials and issues a signed token.
func (a *Authority) Login(email, password string) (*domain.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	a.mu.RLock()
	u, ok := a.users[email]
	a.mu.RUnlock()
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := a.now().UTC()
	expiresAt := now.Add(a.ttl)
	claims := Claims{
		Email: u.email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   u.id.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &domain.Session{
		UserID:    u.id.String(),
		Email:     u.email,
		Token:     signed,
		ExpiresAt: &expiresAt,
	}, nil
}

// Verify parses and validates a token.
func (a *Authority) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Order returns a stored order.
func (a *Authority) Order(id string) (domain.OrderRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, ok := a.orders[id]
	return o, ok
}

// SeedDemoOrders adds a few orders for local development.
func (a *Authority) SeedDemoOrders() {
	now := a.now().UTC()
	a.AddOrder(domain.OrderRecord{
		ID:         "42",
		Status:     domain.OrderStatusPaid,
		TotalCents: 1850,
		Currency:   "USD",
		Items: []domain.OrderItem{
			{Name: "Flat white", Quantity: 2, PriceCents: 450},
			{Name: "Almond croissant", Quantity: 2, PriceCents: 475},
		},
		Payments: []domain.PaymentEntry{
			{ID: "p-42-1", Method: domain.PaymentMethodCard, AmountCents: 1850, PaidAt: now.Add(-2 * time.Hour)},
		},
		CreatedAt: now.Add(-2 * time.Hour),
	})
	a.AddOrder(domain.OrderRecord{
		ID:         "43",
		Status:     domain.OrderStatusOpen,
		TotalCents: 1200,
		Currency:   "USD",
		Items: []domain.OrderItem{
			{Name: "Club sandwich", Quantity: 1, PriceCents: 1200},
		},
		Payments: []domain.PaymentEntry{
			{ID: "p-43-1", Method: domain.PaymentMethodCash, AmountCents: 500, PaidAt: now.Add(-10 * time.Minute)},
		},
		CreatedAt: now.Add(-15 * time.Minute),
	})
}
