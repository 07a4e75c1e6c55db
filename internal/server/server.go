// Package server exposes the marketplace over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/server/handler"
	"github.com/alanyoungcy/marketsync/internal/server/middleware"
	"github.com/alanyoungcy/marketsync/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is the per-IP request budget per RateWindow. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Activity may be nil when no activity store is configured.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Activity *handler.ActivityHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter and wsHub
// are optional.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Health.GetStatus)

	mux.HandleFunc("GET /api/catalog", handlers.Markets.GetCatalog)
	mux.HandleFunc("POST /api/catalog/refresh", handlers.Markets.RefreshCatalog)
	mux.HandleFunc("GET /api/accounts/{address}/items", handlers.Markets.GetOwned)
	mux.HandleFunc("POST /api/items", handlers.Markets.ListItem)
	mux.HandleFunc("POST /api/items/{id}/purchase", handlers.Markets.PurchaseItem)

	if handlers.Activity != nil {
		mux.HandleFunc("GET /api/activity", handlers.Activity.ListActivity)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
