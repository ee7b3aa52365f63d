// internal/api/server.go
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/newthinker/tinkclaw/internal/api/handler/api"
	"github.com/newthinker/tinkclaw/internal/api/job"
	auth "github.com/newthinker/tinkclaw/internal/api/middleware"
	"github.com/newthinker/tinkclaw/internal/api/response"
	"github.com/newthinker/tinkclaw/internal/metrics"
	"github.com/newthinker/tinkclaw/internal/notifier"
	"github.com/newthinker/tinkclaw/internal/storage/signal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// WebhookSecretHeader carries the shared secret on inbound alerts.
const WebhookSecretHeader = "X-Webhook-Secret"

// Server is the inbound HTTP receiver: health, status, metrics and alert
// webhooks, plus an operator API for the running strategy.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	router     chi.Router
}

// Config holds server configuration
type Config struct {
	Host          string
	Port          int
	APIKey        string // guards /api/v1; empty disables
	WebhookSecret string // guards /webhooks/alerts; empty disables
	MetricsPath   string
}

// Dependencies are the components the routes are served from. Nil fields
// disable the routes that need them.
type Dependencies struct {
	Status        func() any
	Journal       signal.Store
	Mailbox       api.SnapshotSink
	Notifiers     *notifier.Registry
	Intents       api.IntentQueue
	Subscriptions api.Subscriptions
	Backtester    api.Backtester
	Metrics       *metrics.Registry
	Now           func() time.Time
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	r := chi.NewRouter()
	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
		router: r,
	}

	s.setupRoutes(cfg, deps)
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg Config, deps Dependencies) {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(metrics.LoggingMiddleware(s.logger))
	if deps.Metrics != nil {
		r.Use(metrics.HTTPMiddleware(deps.Metrics))
		r.Method(http.MethodGet, cfg.MetricsPath, promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		if deps.Status == nil {
			response.JSON(w, http.StatusOK, map[string]any{"running": false})
			return
		}
		response.JSON(w, http.StatusOK, deps.Status())
	})

	alerts := api.NewAlertsHandler(deps.Mailbox, deps.Notifiers, deps.Now, s.logger)
	r.With(auth.SharedSecret(WebhookSecretHeader, cfg.WebhookSecret)).
		Post("/webhooks/alerts", alerts.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.APIKeyAuth(cfg.APIKey))

		if deps.Journal != nil {
			h := api.NewSignalsHandler(deps.Journal)
			r.Get("/signals", h.List)
			r.Get("/signals/{id}", h.GetByID)
		}
		if deps.Intents != nil {
			h := api.NewIntentsHandler(deps.Intents)
			r.Get("/intents", h.List)
			r.Post("/intents/{id}/confirm", h.Confirm)
			r.Post("/intents/{id}/reject", h.Reject)
		}
		if deps.Subscriptions != nil {
			h := api.NewSubscriptionsHandler(deps.Subscriptions)
			r.Get("/subscriptions", h.List)
			r.Post("/subscriptions", h.Add)
			r.Delete("/subscriptions/{id}", h.Remove)
		}
		if deps.Backtester != nil {
			h := api.NewBacktestHandler(job.NewStore(100, time.Hour), deps.Backtester)
			r.Post("/backtests", h.Create)
			r.Get("/backtests/{id}", h.GetStatus)
		}
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
