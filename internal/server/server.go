package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/orchestra/internal/config"
	"github.com/me/orchestra/internal/dispatch"
	"github.com/me/orchestra/internal/health"
	"github.com/me/orchestra/internal/history"
	"github.com/me/orchestra/internal/logging"
	"github.com/me/orchestra/internal/metrics"
	"github.com/me/orchestra/internal/registry"
	"github.com/me/orchestra/internal/scheduler"
	"github.com/me/orchestra/internal/store"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// Deps are the components the API exposes. Scheduler, Catalog, History and
// Monitor are required.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Catalog   *registry.Catalog
	History   *history.History
	Monitor   *health.Monitor
}

// Server is the orchestra REST API server.
type Server struct {
	router     chi.Router
	logger     *slog.Logger
	config     config.ServerConfig
	startTime  time.Time
	scheduler  *scheduler.Scheduler
	catalog    *registry.Catalog
	history    *history.History
	monitor    *health.Monitor
	dispatcher *dispatch.Dispatcher // optional; running records and queue depth
	store      store.Store          // optional; lookups of records that left the ring
	metrics    *metrics.Metrics     // optional; served on /metrics
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithDispatcher exposes running records and queue depth.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(s *Server) { s.dispatcher = d }
}

// WithStore enables lookups of records older than the history ring.
func WithStore(st store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics serves Prometheus metrics on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, deps Deps, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logging.OrDiscard(logger).With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		scheduler: deps.Scheduler,
		catalog:   deps.Catalog,
		history:   deps.History,
		monitor:   deps.Monitor,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleCreateSchedule)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSchedule)
				r.Delete("/", s.handleDeleteSchedule)
				r.Put("/enable", s.handleEnableSchedule)
				r.Put("/disable", s.handleDisableSchedule)
			})
		})

		r.Post("/run/{taskRef}", s.handleRun)

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleHistory)
			r.Get("/running", s.handleRunning)
			r.Get("/stats", s.handleHistoryStats)
			r.Get("/{jobID}", s.handleGetExecution)
		})

		r.Get("/resources/status", s.handleResourceStatus)
		r.Get("/tasks", s.handleListTasks)
	})
}
