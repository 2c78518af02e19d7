// Package server exposes the bot's read-only HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/autobot/internal/domain"
	"github.com/alanyoungcy/autobot/internal/server/handler"
	"github.com/alanyoungcy/autobot/internal/server/middleware"
	"github.com/alanyoungcy/autobot/internal/server/ws"
)

// Config holds HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string
	JWTSecret   string
	// RateLimit requests per RateWindow per client IP. Ignored without a
	// limiter.
	RateLimit  int
	RateWindow time.Duration
	// MetricsPath defaults to /metrics.
	MetricsPath string
}

// Handlers groups the route handlers. Nil entries leave their routes
// unregistered, so a server without Redis simply has no /api/outcomes.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Reports   *handler.ReportHandler
	Outcomes  *handler.OutcomeHandler
	Archives  *handler.ArchiveHandler
	Metrics   http.Handler
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the mux and middleware chain. hub and limiter may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      newHandler(cfg, h, hub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// newHandler wires routes and middleware. Health and metrics sit outside
// authentication so probes and scrapers need no credentials.
func newHandler(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	api := http.NewServeMux()
	if h.Status != nil {
		api.HandleFunc("GET /api/status", h.Status.GetStatus)
	}
	if h.Positions != nil {
		api.HandleFunc("GET /api/positions", h.Positions.ListPositions)
		api.HandleFunc("GET /api/trades", h.Positions.ListTrades)
	}
	if h.Reports != nil {
		api.HandleFunc("GET /api/report/{name}", h.Reports.GetReport)
	}
	if h.Outcomes != nil {
		api.HandleFunc("GET /api/outcomes", h.Outcomes.ListOutcomes)
	}
	if h.Archives != nil {
		api.HandleFunc("GET /api/archives", h.Archives.ListObjects)
	}
	if hub != nil {
		api.HandleFunc("GET /ws", hub.HandleWS)
	}

	var protected http.Handler = api
	protected = middleware.Auth(cfg.APIKey, cfg.JWTSecret)(protected)
	if limiter != nil && cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		protected = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(protected)
	}

	root := http.NewServeMux()
	root.Handle("/", protected)
	if h.Health != nil {
		root.HandleFunc("GET /api/health", h.Health.HealthCheck)
	}
	if h.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		root.Handle("GET "+path, h.Metrics)
	}

	var out http.Handler = root
	out = middleware.CORS(cfg.CORSOrigins)(out)
	out = middleware.Logging(logger)(out)
	return out
}

// Start listens until Shutdown is called. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
