// Package auth holds the session store: the single source of truth for who is
// signed in, and the login/logout state machine around it.
//
// A Store is constructed explicitly and passed around (see WithStore); there is
// no package-level instance. The web server builds one per request, bound to
// that request's cookies; the console builds one for the whole process.
package auth

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/DukeRupert/posadmin/internal/domain"
	"github.com/DukeRupert/posadmin/internal/metrics"
	"github.com/DukeRupert/posadmin/internal/notify"
	"github.com/DukeRupert/posadmin/internal/session"
)

// Status is the store's position in the authentication state machine.
type Status int

const (
	StatusAuthenticating Status = iota
	StatusUnauthenticated
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticating:
		return "authenticating"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only view of the store at one point in time.
// User is nil unless Status is StatusAuthenticated. Version increases by one
// with every transition.
type Snapshot struct {
	User    *domain.Session
	Status  Status
	Version uint64
}

// IsLoading reports whether an authentication operation is unresolved.
func (s Snapshot) IsLoading() bool {
	return s.Status == StatusAuthenticating
}

// Authenticator is the backend the store talks to. *backend.Client implements it.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*domain.Session, error)
	Verify(ctx context.Context, token string) (bool, error)
}

// Config holds the store's collaborators. Client and Jar are required.
type Config struct {
	Client   Authenticator
	Jar      session.Jar
	Notifier notify.Notifier // Defaults to notify.Discard
	Logger   *slog.Logger    // Defaults to slog.Default()
}

// Store is safe for concurrent use.
//
// Every mutation takes a new operation id under mu. Asynchronous work (Init,
// Login) remembers the id it started with and only commits its result if no
// later operation has been issued in the meantime, so a Logout issued while a
// Login is in flight always determines the final state.
type Store struct {
	client   Authenticator
	jar      session.Jar
	notifier notify.Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	status   Status
	user     *domain.Session
	version  uint64
	opID     uint64
	loginOp  uint64 // opID of the login in flight, 0 when none
	disposed bool
	subs     map[uint64]chan Snapshot
	nextSub  uint64
}

// New creates a store in StatusAuthenticating. Call Init to resolve it.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, domain.Errorf(domain.EINTERNAL, "auth.new", "authenticator is required")
	}
	if cfg.Jar == nil {
		return nil, domain.Errorf(domain.EINTERNAL, "auth.new", "session jar is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		client:   cfg.Client,
		jar:      cfg.Jar,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		status:   StatusAuthenticating,
		version:  1,
		subs:     make(map[uint64]chan Snapshot),
	}, nil
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// =============================================================================
// Init
// =============================================================================

// Init resolves the initial state from the persisted token.
//
//   - no token: Unauthenticated, no network call
//   - token accepted by the verifier: Authenticated
//   - token rejected: Unauthenticated, token cleared
//   - verifier unreachable: Unauthenticated, token kept, user notified
//
// Only the network failure is returned as an error.
func (s *Store) Init(ctx context.Context) error {
	const op = "auth.init"

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return domain.Gone(op, "session store has been disposed")
	}
	id := s.nextOpLocked()
	token, ok := s.jar.Token()
	if !ok || token == "" {
		s.transitionLocked(StatusUnauthenticated, nil)
		s.mu.Unlock()
		return nil
	}
	s.transitionLocked(StatusAuthenticating, nil)
	s.mu.Unlock()

	valid, err := s.client.Verify(ctx, token)

	s.mu.Lock()
	if s.disposed || id != s.opID {
		s.mu.Unlock()
		s.logger.Debug("discarding stale session verification", "op_id", id)
		return nil
	}

	var note *notify.Notification
	switch {
	case err != nil:
		// Keep the token: a flaky network must not sign the user out.
		s.transitionLocked(StatusUnauthenticated, nil)
		n := notify.Notification{
			Title:       "Session not verified",
			Description: "We couldn't reach the server to confirm your session. Please try again shortly.",
			Severity:    notify.SeverityWarning,
		}
		note = &n
		s.logger.Warn("session verification failed", "error", err)
	case !valid:
		if clearErr := s.jar.Clear(); clearErr != nil {
			s.logger.Error("failed to clear rejected session token", "error", clearErr)
		}
		s.transitionLocked(StatusUnauthenticated, nil)
		s.logger.Debug("persisted session token rejected")
	default:
		s.transitionLocked(StatusAuthenticated, &domain.Session{Token: token})
	}
	s.mu.Unlock()

	if note != nil {
		s.notifier.Notify(ctx, *note)
	}
	return err
}

// =============================================================================
// Login / Logout
// =============================================================================

// Login exchanges credentials for a session.
//
// Empty credentials fail with a *domain.ValidationError before any network
// call. A second Login while one is in flight fails with EBUSY. A Login
// overtaken by Logout (or Dispose) fails with ECANCELED (EGONE) and leaves
// the state untouched. On success the token is persisted and the store is
// Authenticated before Login returns.
func (s *Store) Login(ctx context.Context, email, password string) error {
	const op = "auth.login"

	email = strings.TrimSpace(email)
	if verr := validateCredentials(op, email, password); verr != nil {
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		s.notifier.Notify(ctx, notify.Error("Sign-in failed", verr.Message()))
		return verr
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return domain.Gone(op, "session store has been disposed")
	}
	if s.loginOp != 0 && s.loginOp == s.opID {
		s.mu.Unlock()
		metrics.LoginAttempts.WithLabelValues("busy").Inc()
		return domain.Busy(op, "A sign-in is already in progress")
	}
	id := s.nextOpLocked()
	s.loginOp = id
	s.transitionLocked(StatusAuthenticating, nil)
	s.mu.Unlock()

	sess, err := s.client.Login(ctx, email, password)

	s.mu.Lock()
	if s.loginOp == id {
		s.loginOp = 0
	}
	if s.disposed {
		s.mu.Unlock()
		metrics.LoginAttempts.WithLabelValues("canceled").Inc()
		return domain.Gone(op, "session store has been disposed")
	}
	if id != s.opID {
		s.mu.Unlock()
		metrics.LoginAttempts.WithLabelValues("canceled").Inc()
		s.logger.Info("login superseded", "email", email, "op_id", id)
		return domain.Canceled(op, "Sign-in was cancelled by a later sign-out")
	}
	if err == nil {
		if saveErr := s.jar.Save(sess.Token, sess.ExpiresAt); saveErr != nil {
			err = domain.Internal(saveErr, op, "could not persist session")
		}
	}
	if err != nil {
		s.transitionLocked(StatusUnauthenticated, nil)
		s.mu.Unlock()
		s.reportLoginFailure(ctx, email, err)
		return err
	}
	committed := *sess
	s.transitionLocked(StatusAuthenticated, &committed)
	s.mu.Unlock()

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	s.logger.Info("login succeeded", "user_id", sess.UserID, "email", sess.Email)
	s.notifier.Notify(ctx, notify.Success("Signed in", "Welcome back, "+committed.DisplayName()+"."))
	return nil
}

// Logout moves to Unauthenticated from any state and clears the persisted
// token. It supersedes any Init or Login still in flight.
func (s *Store) Logout() error {
	const op = "auth.logout"

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return domain.Gone(op, "session store has been disposed")
	}
	s.nextOpLocked()
	s.transitionLocked(StatusUnauthenticated, nil)
	if err := s.jar.Clear(); err != nil {
		return domain.Internal(err, op, "could not clear session")
	}
	return nil
}

func validateCredentials(op, email, password string) *domain.ValidationError {
	var verr *domain.ValidationError
	if email == "" {
		verr = domain.NewValidationError(op, "email", "Email is required")
	}
	if password == "" {
		if verr == nil {
			verr = domain.NewValidationError(op, "password", "Password is required")
		} else {
			verr.Fields["password"] = "Password is required"
		}
	}
	return verr
}

func (s *Store) reportLoginFailure(ctx context.Context, email string, err error) {
	switch domain.ErrorCode(err) {
	case domain.EUNAUTHORIZED:
		metrics.LoginAttempts.WithLabelValues("rejected").Inc()
		s.logger.Info("login rejected", "email", email)
		s.notifier.Notify(ctx, notify.Error("Sign-in failed", domain.ErrorMessage(err)))
	case domain.ENETWORK:
		metrics.LoginAttempts.WithLabelValues("network").Inc()
		s.logger.Warn("login failed: backend unreachable", "email", email, "error", err)
		s.notifier.Notify(ctx, notify.Error("Connection problem",
			"We couldn't reach the server. Your credentials were not checked; please try again."))
	case domain.ERATELIMIT:
		metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
		s.notifier.Notify(ctx, notify.Error("Too many attempts", domain.ErrorMessage(err)))
	default:
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		s.logger.Error("login failed", "email", email, "error", err)
		s.notifier.Notify(ctx, notify.Error("Sign-in failed", domain.ErrorMessage(err)))
	}
}

// =============================================================================
// Subscriptions and lifecycle
// =============================================================================

// Subscribe returns a channel that immediately holds the current snapshot and
// afterwards the latest snapshot after each transition. Slow readers miss
// intermediate snapshots, never the latest one. The returned func cancels the
// subscription and closes the channel. Dispose closes all channels.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Dispose releases the store. In-flight operations are discarded, every
// subscription is closed, and later calls fail with EGONE. Dispose does not
// touch the persisted token. Calling it twice is harmless.
func (s *Store) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.opID++
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// =============================================================================
// Internals (mu held)
// =============================================================================

func (s *Store) nextOpLocked() uint64 {
	s.opID++
	return s.opID
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{User: s.user, Status: s.status, Version: s.version}
}

func (s *Store) transitionLocked(status Status, user *domain.Session) {
	if status == s.status && user == s.user {
		return
	}
	s.status = status
	s.user = user
	s.version++
	metrics.SessionTransitions.WithLabelValues(status.String()).Inc()

	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
