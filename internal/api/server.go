// Package api provides the HTTP server that hosts the book stream endpoint
// and its health check.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/listenupapp/bookstream/internal/hub"
	"github.com/listenupapp/bookstream/internal/ratelimit"
	"github.com/listenupapp/bookstream/internal/session"
	"github.com/listenupapp/bookstream/internal/transport"
)

// StreamPath is where clients open book streams.
const StreamPath = "/api/v1/books/stream"

// Catalog is the book service as seen by the server: session operations plus
// the cheap checks the health endpoint needs.
type Catalog interface {
	session.Catalog
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// Config holds the server's settings.
type Config struct {
	Name           string
	Version        string
	AllowedOrigins []string
	SendBuffer     int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	config   Config
	catalog  Catalog
	hub      *hub.Hub
	limiter  *ratelimit.KeyedRateLimiter
	upgrader *transport.Upgrader
	runtime  session.Runtime
	router   *chi.Mux
	api      huma.API
	logger   *slog.Logger

	// Sessions outlive their HTTP request once the connection is hijacked, so
	// they run under the server's own context.
	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(cfg Config, catalog Catalog, h *hub.Hub, limiter *ratelimit.KeyedRateLimiter, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		catalog:  catalog,
		hub:      h,
		limiter:  limiter,
		upgrader: transport.NewUpgrader(cfg.AllowedOrigins),
		runtime: session.Runtime{
			Catalog:    catalog,
			Hub:        h,
			Logger:     logger.With("component", "session"),
			SendBuffer: cfg.SendBuffer,
		},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	s.router, s.api = NewRouter(cfg, logger)
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// NewRouter returns a router carrying the shared middleware stack, with a
// huma API mounted on it. The push bridge builds its routes on one too.
func NewRouter(cfg Config, logger *slog.Logger) (*chi.Mux, huma.API) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(securityHeaders)
	router.Use(cors.Handler(corsOptions(cfg.AllowedOrigins)))

	if cfg.Name == "" {
		cfg.Name = "Bookstream"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	api := humachi.New(router, huma.DefaultConfig(cfg.Name+" API", cfg.Version))
	RegisterErrorHandler()

	return router, api
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerHealthRoutes()

	s.router.With(s.limiter.Middleware(s.rejectUpgrade)).Get(StreamPath, s.handleStream)
}

// CloseSessions cancels every running session and waits for them to finish.
// http.Server.Shutdown does not wait for hijacked connections, so call this
// after it.
func (s *Server) CloseSessions() {
	s.cancel()
	s.sessions.Wait()
}
