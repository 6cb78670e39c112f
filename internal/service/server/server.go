package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vertextoedge/diskguard/internal/domain"
	"github.com/vertextoedge/diskguard/internal/port"
	"github.com/vertextoedge/diskguard/internal/service/escalator"
	"github.com/vertextoedge/diskguard/internal/service/monitor"
	"go.uber.org/zap"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8089",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// SpaceView exposes the monitor to the admin API
type SpaceView interface {
	Statuses() []domain.DirectoryStatus
	Refresh()
}

// ContainerView exposes the allocator to the admin API
type ContainerView interface {
	Containers() []domain.BlockContainer
	ActiveContainers() int64
	UnavailableContainers() int64
}

// StateView exposes the escalator state
type StateView interface {
	State() escalator.State
}

// Deps are the components served by the admin API
type Deps struct {
	Space      SpaceView
	Containers ContainerView
	State      StateView
	Overrides  *monitor.OverrideTable
	// Catalog is optional; when set /health pings it
	Catalog  port.ContainerRepository
	Gatherer prometheus.Gatherer
}

// Server represents the admin HTTP server
type Server struct {
	config          *Config
	deps            Deps
	logger          *zap.Logger
	server          *http.Server
	debugHandler    *DebugHandler
	overrideHandler *OverrideHandler
}

// New creates a new HTTP server
func New(cfg *Config, deps Deps, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	s.debugHandler = NewDebugHandler(deps.Space, deps.Containers, logger)
	s.overrideHandler = NewOverrideHandler(deps.Overrides, deps.Space, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/debug", func(r chi.Router) {
		r.Get("/directories", s.debugHandler.HandleDirectories)
		r.Get("/containers", s.debugHandler.HandleContainers)
	})

	r.Route("/admin", func(r chi.Router) {
		if cfg.AdminPassword != "" {
			r.Use(BasicAuthMiddleware(cfg.AdminUsername, cfg.AdminPassword, logger))
		}
		r.Get("/overrides", s.overrideHandler.HandleGet)
		r.Put("/overrides", s.overrideHandler.HandlePut)
		r.Delete("/overrides", s.overrideHandler.HandleDelete)
	})

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth reports 503 once the node is terminating
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := escalator.StateNormal
	if s.deps.State != nil {
		state = s.deps.State.State()
	}

	resp := map[string]string{
		"state": state.String(),
		"time":  time.Now().Format(time.RFC3339),
	}
	status := http.StatusOK

	switch {
	case state == escalator.StateTerminating:
		resp["status"] = "terminating"
		status = http.StatusServiceUnavailable
	case s.deps.Catalog != nil && s.deps.Catalog.Ping(r.Context()) != nil:
		s.logger.Error("health check failed: catalog unreachable")
		resp["status"] = "catalog unavailable"
		status = http.StatusServiceUnavailable
	case state == escalator.StateDegraded:
		resp["status"] = "degraded"
	default:
		resp["status"] = "healthy"
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
