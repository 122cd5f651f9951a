// Package server exposes the HTTP API and the WebSocket push hub.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/server/handler"
	"github.com/alanyoungcy/agentdesk/internal/server/middleware"
	"github.com/alanyoungcy/agentdesk/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards every route but the health probe. Empty disables auth.
	APIKey string
	// RateLimit is requests per RateWindow per client IP. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers groups the route handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Portfolio *handler.PortfolioHandler
	Risk      *handler.RiskHandler
	Strategy  *handler.StrategyHandler
	Records   *handler.RecordsHandler
}

// Server is the API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and builds the middleware chain. limiter may
// be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter middleware.Limiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	if h.Health != nil {
		mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	}
	if h.Status != nil {
		mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	}
	if h.Portfolio != nil {
		mux.HandleFunc("GET /api/portfolio", h.Portfolio.GetPortfolio)
		mux.HandleFunc("GET /api/risk", h.Portfolio.GetRisk)
	}
	if h.Risk != nil {
		mux.HandleFunc("POST /api/risk/reset", h.Risk.Reset)
		mux.HandleFunc("POST /api/risk/reload", h.Risk.Reload)
	}
	if h.Strategy != nil {
		mux.HandleFunc("GET /api/strategy", h.Strategy.GetActive)
		mux.HandleFunc("POST /api/strategy/revisions", h.Strategy.PublishRevision)
	}
	if h.Records != nil {
		mux.HandleFunc("GET /api/backtests", h.Records.ListBacktests)
		mux.HandleFunc("GET /api/fills", h.Records.ListFills)
		mux.HandleFunc("GET /api/audit", h.Records.ListAudit)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var chain http.Handler = mux
	chain = middleware.Auth(cfg.APIKey, "/api/health")(chain)
	if limiter != nil && cfg.RateLimit > 0 {
		chain = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(chain)
	}
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           chain,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the full middleware chain, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled, then shuts down with a 5s grace
// period.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }
	s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
