// Command authority runs a self-contained stand-in for the POS backend:
// login, token verification and order lookup, all held in memory.
// It exists for local development and demos.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/posadmin/internal"
	"github.com/DukeRupert/posadmin/internal/authority"
	"github.com/DukeRupert/posadmin/internal/csrf"
)

func run() error {
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	secret := []byte(cfg.AuthoritySecret)
	if len(secret) == 0 {
		if !cfg.IsDevelopment() {
			return fmt.Errorf("AUTHORITY_SECRET is required outside development")
		}
		// Tokens will not survive a restart.
		random, err := csrf.GenerateToken()
		if err != nil {
			return err
		}
		secret = []byte(random)
		logger.Warn("AUTHORITY_SECRET not set, using a random secret")
	}

	auth, err := authority.New(authority.Config{
		Secret:   secret,
		TokenTTL: cfg.AuthorityTokenTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("authority initialization failed: %w", err)
	}

	for _, u := range cfg.AuthorityUsers {
		id, err := auth.AddUser(u.Email, u.Password)
		if err != nil {
			return fmt.Errorf("failed to add user %s: %w", u.Email, err)
		}
		logger.Info("User added", "email", u.Email, "id", id)
	}
	if len(cfg.AuthorityUsers) == 0 {
		logger.Warn("No AUTHORITY_USERS configured; nobody can sign in")
	}
	auth.SeedDemoOrders()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AuthorityPort),
		Handler:           auth.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Authority started", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("authority failed: %w", err)
	case <-sigChan:
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Authority shutdown error", "error", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
