package main

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/posadmin/internal/auth"
	"github.com/DukeRupert/posadmin/internal/handler"
	"github.com/DukeRupert/posadmin/internal/metrics"
	"github.com/DukeRupert/posadmin/internal/middleware"
)

// devTemplatesDir is read instead of the embedded templates in development.
const devTemplatesDir = "internal/handler/templates"

// backendClient is everything the web front-end needs from the backend.
type backendClient interface {
	auth.Authenticator
	handler.OrderFetcher
}

type appDeps struct {
	Client          backendClient
	Renderer        handler.TemplateRenderer
	Throttle        handler.Throttle
	Logger          *slog.Logger
	IsSecure        bool
	StaticDir       string // Empty disables /static/
	MetricsUsername string
	MetricsPassword string
}

// newApp wires routes and middleware.
//
// Infrastructure routes (/static/, /health, /metrics) sit outside the route
// gate. Everything else goes through:
//
//	RequestID -> logging -> metrics -> security headers -> RouteGate -> SessionContext -> handler
func newApp(d appDeps) http.Handler {
	authHandler := handler.NewAuthHandler(d.Renderer, d.Throttle, d.Logger, d.IsSecure)
	pageHandler := handler.NewPageHandler(d.Client, d.Renderer, d.Logger)

	app := http.NewServeMux()
	authHandler.RegisterRoutes(app)
	pageHandler.RegisterRoutes(app)
	app.HandleFunc("/", pageHandler.NotFound)

	gated := middleware.Stack(
		middleware.NewRouteGate(d.Logger).Handler,
		middleware.NewSessionContext(d.Client, d.Logger, d.IsSecure).Handler,
	)(app)

	mux := http.NewServeMux()

	// Static files
	if d.StaticDir != "" {
		staticFS := http.FileServer(http.Dir(d.StaticDir))
		mux.Handle("GET /static/", http.StripPrefix("/static/", staticFS))
	}

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Metrics endpoint (optionally protected with basic auth)
	metricsAuth := middleware.NewMetricsAuthMiddleware(d.MetricsUsername, d.MetricsPassword)
	if !metricsAuth.Enabled() {
		d.Logger.Warn("metrics endpoint is unprotected; set METRICS_USERNAME and METRICS_PASSWORD")
	}
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	mux.Handle("/", gated)

	return middleware.Stack(
		middleware.RequestID,
		middleware.NewRequestLoggingMiddleware(d.Logger).Handler,
		metrics.Middleware,
		middleware.NewSecurityHeadersMiddleware(d.IsSecure).Handler,
	)(mux)
}
