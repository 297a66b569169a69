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
	"github.com/DukeRupert/posadmin/internal/backend"
	"github.com/DukeRupert/posadmin/internal/handler"
	"github.com/DukeRupert/posadmin/internal/middleware"
)

func run() error {
	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Backend client (verification, login, orders)
	client, err := backend.New(backend.Config{
		BaseURL:       cfg.BackendURL,
		Timeout:       cfg.RequestTimeout,
		VerifyTimeout: cfg.VerifyTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("backend client initialization failed: %w", err)
	}
	logger.Info("Backend configured", "url", cfg.BackendURL)

	// Initialize template renderer. Templates are embedded; in development
	// they are read from disk so edits show up without a rebuild.
	rendererCfg := handler.RendererConfig{Logger: logger}
	if cfg.IsDevelopment() {
		if _, err := os.Stat(devTemplatesDir); err == nil {
			rendererCfg.TemplatesDir = devTemplatesDir
			rendererCfg.IsDev = true
		}
	}
	renderer, err := handler.NewRenderer(rendererCfg)
	if err != nil {
		return fmt.Errorf("renderer initialization failed: %w", err)
	}
	logger.Info("Templates loaded", "count", len(renderer.ListTemplates()))

	throttle := middleware.NewAuthRateLimiter(middleware.AuthRateLimitConfig{
		LoginAttempts: cfg.LoginRateLimit,
		LoginWindow:   cfg.LoginRateWindow,
	}, logger)
	defer throttle.Close()

	app := newApp(appDeps{
		Client:          client,
		Renderer:        renderer,
		Throttle:        throttle,
		Logger:          logger,
		IsSecure:        cfg.IsSecure(),
		StaticDir:       "web/static",
		MetricsUsername: cfg.MetricsUsername,
		MetricsPassword: cfg.MetricsPassword,
	})

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
