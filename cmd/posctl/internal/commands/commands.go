// Package commands implements the posctl subcommands.
//
// Unlike the web front-end, where each request gets its own session store,
// posctl holds one store for the whole process, persisted to a cookie file
// between invocations.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/DukeRupert/posadmin/internal"
	"github.com/DukeRupert/posadmin/internal/auth"
	"github.com/DukeRupert/posadmin/internal/backend"
	"github.com/DukeRupert/posadmin/internal/notify"
	"github.com/DukeRupert/posadmin/internal/session"
)

// Globals are the flags shared by every command plus the process's streams.
type Globals struct {
	Backend    string
	CookieFile string
	Debug      bool
	Version    string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// LoginRequiredError is returned when a command needs a session and there
// is none. Target is the login URL carrying the page the user wanted.
type LoginRequiredError struct {
	Target string
}

func (e *LoginRequiredError) Error() string {
	return fmt.Sprintf("login required: run `posctl login` (web: %s)", e.Target)
}

// console bundles what a command needs to talk to the backend.
type console struct {
	client *backend.Client
	store  *auth.Store
	logger *slog.Logger
}

// open builds the backend client and the process-wide store, and resolves
// the stored cookie. A verifier network failure is not fatal: the store is
// Unauthenticated, the cookie is kept, and a warning has been printed.
func open(ctx context.Context, g *Globals) (*console, error) {
	level := "warn"
	if g.Debug {
		level = "debug"
	}
	logger := internal.NewLogger(g.Stderr, "development", level)

	client, err := backend.New(backend.Config{
		BaseURL:       g.Backend,
		Timeout:       10 * time.Second,
		VerifyTimeout: 5 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	path := g.CookieFile
	if path == "" {
		if path, err = session.DefaultFilePath(); err != nil {
			return nil, err
		}
	}

	store, err := auth.New(auth.Config{
		Client:   client,
		Jar:      session.NewFileJar(path),
		Notifier: printer(g.Stderr),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		logger.Debug("session init incomplete", "error", err)
	}

	return &console{client: client, store: store, logger: logger}, nil
}

func (c *console) close() {
	c.store.Dispose()
}

// printer writes notifications to w, one per line. Success messages are
// left to the commands themselves.
func printer(w io.Writer) notify.Notifier {
	return notify.NotifierFunc(func(_ context.Context, n notify.Notification) {
		if n.Severity == notify.SeveritySuccess {
			return
		}
		if n.Description == "" {
			fmt.Fprintf(w, "%s: %s\n", n.Severity, n.Title)
			return
		}
		fmt.Fprintf(w, "%s: %s. %s\n", n.Severity, n.Title, n.Description)
	})
}
