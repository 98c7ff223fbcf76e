package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/smpsched/internal/config"
	"github.com/me/smpsched/internal/logging"
	"github.com/me/smpsched/internal/scheduler"
	"github.com/me/smpsched/internal/trace"
)

// Server is the smpsched REST control plane around one live scheduler.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	sched     *scheduler.Scheduler
	hub       *eventHub
	store     trace.Store     // optional; nil disables tracing and /runs
	recorder  *trace.Recorder // records the live scheduler when store is set
	loop      *scheduler.Loop // optional; set when AutoTick is enabled
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithTraceStore records every scheduler event into st and serves stored
// runs under /api/v1/runs.
func WithTraceStore(st trace.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// New creates a scheduler from cfg.Scheduler and a Server with all routes
// registered.
func New(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logging.Component(logger, "server"),
		config:    cfg,
		startTime: time.Now(),
		hub:       newEventHub(),
	}
	for _, opt := range opts {
		opt(s)
	}

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithObserver(s.hub),
	}
	if s.store != nil {
		rec, err := trace.NewRecorder(ctx, s.store, "server", cfg.Scheduler, logger)
		if err != nil {
			return nil, err
		}
		s.recorder = rec
		schedOpts = append(schedOpts, scheduler.WithObserver(rec))
	}
	sched, err := scheduler.New(cfg.Scheduler, schedOpts...)
	if err != nil {
		return nil, err
	}
	s.sched = sched
	if cfg.AutoTick {
		s.loop = scheduler.NewLoop(sched, cfg.Scheduler.Quantum, logger)
	}

	s.routes()
	return s, nil
}

// Scheduler returns the scheduler the server controls.
func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.sched
}

// StartTicker begins the tick source in a background goroutine when
// AutoTick is enabled. It stops when ctx is cancelled.
func (s *Server) StartTicker(ctx context.Context) {
	if s.loop == nil {
		return
	}
	go func() {
		if err := s.loop.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("tick source stopped", "error", err)
		}
	}()
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

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		// Discovery
		r.Get("/", s.handleDiscovery)

		// Health
		r.Get("/health", s.handleHealth)

		// Scheduler lifecycle
		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/", s.handleGetScheduler)
			r.Post("/start", s.handleStart)
			r.Post("/tick", s.handleTick)
		})

		// Tasks
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Delete("/", s.handleDeleteTask)
				r.Put("/priority", s.handleSetPriority)
				r.Post("/block", s.handleBlockTask)
				r.Post("/unblock", s.handleUnblockTask)
			})
		})

		// Recorded runs
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/events", s.handleListRunEvents)
			})
		})

		// SSE stream of scheduler events
		r.Get("/events", s.handleSSEEvents)
	})
}
