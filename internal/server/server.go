// Package server exposes the pool engine over HTTP and pushes pool events
// over WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/binarypool/internal/domain"
	"github.com/alanyoungcy/binarypool/internal/server/handler"
	"github.com/alanyoungcy/binarypool/internal/server/middleware"
	"github.com/alanyoungcy/binarypool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// RateLimit is the number of requests a client IP may make per
	// RateWindow. Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration

	// SignatureWindow bounds the age of a signed request. Zero uses
	// middleware.DefaultSignatureWindow.
	SignatureWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Pools  *handler.PoolHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
// hub, limiter and locks may be nil; locks backs signed-request replay
// detection.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, locks domain.LockManager, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, hub, limiter, locks, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, locks domain.LockManager, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)

	p := handlers.Pools
	mux.HandleFunc("GET /api/pools", p.ListPools)
	mux.HandleFunc("POST /api/pools", p.CreatePool)
	mux.HandleFunc("GET /api/pools/{id}", p.GetPool)
	mux.HandleFunc("GET /api/pools/{id}/positions", p.ListPositions)
	mux.HandleFunc("POST /api/pools/{id}/deposit", p.Deposit)
	mux.HandleFunc("POST /api/pools/{id}/cancel", p.CancelPool)
	mux.HandleFunc("POST /api/pools/{id}/bet", p.PlaceBet)
	mux.HandleFunc("DELETE /api/pools/{id}/bet", p.CancelBet)
	mux.HandleFunc("POST /api/pools/{id}/resolve", p.RequestResolution)
	mux.HandleFunc("POST /api/pools/{id}/settle", p.Settle)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Signature(middleware.SignatureConfig{
		Window: cfg.SignatureWindow,
		Replay: locks,
		Logger: logger,
	})(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
