// Package api wires the HTTP surface of the service: health, Prometheus
// metrics, target configuration, per-target actions, and the dashboard
// WebSocket.
package api

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/kestrelhq/wsgateway/internal/api/handlers"
	"github.com/kestrelhq/wsgateway/internal/api/middleware"
	"github.com/kestrelhq/wsgateway/internal/config"
	"github.com/kestrelhq/wsgateway/internal/manager"
	"github.com/kestrelhq/wsgateway/internal/metrics"
	"github.com/kestrelhq/wsgateway/internal/ws"
)

// Router sets up HTTP routes for the API.
type Router struct {
	mux     *http.ServeMux
	store   config.ConfigStore
	manager *manager.Manager
	hub     *ws.Hub
	logger  *slog.Logger
	auth    *middleware.Auth
}

// NewRouter creates a new API router.
func NewRouter(store config.ConfigStore, mgr *manager.Manager, hub *ws.Hub, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	auth := middleware.NewAuth(logger)
	if auth.IsEnabled() {
		logger.Info("API key authentication enabled")
	} else {
		logger.Warn("API key authentication disabled - set API_KEY environment variable to enable")
	}
	return &Router{
		mux:     http.NewServeMux(),
		store:   store,
		manager: mgr,
		hub:     hub,
		logger:  logger,
		auth:    auth,
	}
}

// Setup configures all HTTP routes and returns the handler.
func (r *Router) Setup() http.Handler {
	// Health and metrics endpoints (public)
	healthHandler := handlers.NewHealthHandler(r.manager, r.hub)
	r.mux.HandleFunc("GET /health", healthHandler.Health)
	r.mux.HandleFunc("HEAD /health", healthHandler.Health)
	r.mux.Handle("GET /metrics", metrics.Handler())

	// Config handlers (protected)
	configHandler := handlers.NewConfigHandler(r.store, r.logger)
	r.mux.HandleFunc("GET /api/config", r.auth.Protect(configHandler.GetConfig))
	r.mux.HandleFunc("POST /api/config", r.auth.Protect(configHandler.ReplaceConfig))
	r.mux.HandleFunc("PUT /api/config", r.auth.Protect(configHandler.UpdateConfig))

	// Per-target action handlers (protected)
	if r.manager != nil {
		targetsHandler := handlers.NewTargetsHandler(r.manager, r.logger)
		r.mux.HandleFunc("GET /api/statuses", r.auth.Protect(targetsHandler.GetStatuses))
		r.mux.HandleFunc("POST /api/targets/", r.auth.Protect(targetsHandler.ExecuteAction))
	}

	// Dashboard WebSocket (protected via middleware wrapper)
	if r.hub != nil {
		allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
		wsHandler := ws.NewHandler(r.hub, allowedOrigins, r.logger)
		r.mux.Handle("/ws", r.auth.ProtectHandler(wsHandler))
	}

	return r.mux
}

// Handler returns the HTTP handler.
func (r *Router) Handler() http.Handler {
	return r.mux
}
