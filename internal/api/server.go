// Package api provides the admin HTTP API of a switchboard server.
package api

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
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/switchboard/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/background"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/workflow"
)

// TaskManager is the background task surface. *background.Manager implements it.
type TaskManager interface {
	Start(ctx context.Context, req background.StartRequest) (*core.BackgroundTask, error)
	Get(id string) (*core.BackgroundTask, error)
	List(filter background.ListFilter) []*core.BackgroundTask
	Cancel(id string) (*core.BackgroundTask, error)
	Stats() background.Stats
}

// TaskHistory reads persisted terminal tasks. *state.TaskHistory implements it.
type TaskHistory interface {
	GetTask(ctx context.Context, id string) (*core.BackgroundTask, error)
	List(ctx context.Context, f state.HistoryFilter) ([]*core.BackgroundTask, error)
}

// WorkflowRunner executes workflows. *workflow.Orchestrator implements it.
type WorkflowRunner interface {
	Execute(ctx context.Context, request string, overrides workflow.Overrides) *core.WorkflowResult
	Context() core.WorkflowContext
	Cancel()
	Pause() bool
	Resume() bool
}

// HookRegistry lists and toggles hooks. *events.Registry implements it.
type HookRegistry interface {
	List() []events.HookInfo
	Enable(name string) error
	Disable(name string) error
}

// RouterStatser exposes router counters. *service.Router implements it.
type RouterStatser interface {
	Stats() service.RouterStats
}

// Deps are the collaborators served by the API. Nil members disable their
// routes with 503.
type Deps struct {
	Tasks     TaskManager
	History   TaskHistory
	Workflows WorkflowRunner
	Hooks     HookRegistry
	Router    RouterStatser
	Bus       *events.Bus
	Gatherer  prometheus.Gatherer
}

// Server provides the admin HTTP endpoints.
type Server struct {
	deps        Deps
	router      chi.Router
	logger      *logging.Logger
	corsOrigins []string
	persistHook func(disabled []string) error
	started     time.Time
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCORSOrigins restricts cross-origin access. Empty allows any origin.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithHookPersistence saves the disabled hook names after every toggle.
func WithHookPersistence(fn func(disabled []string) error) ServerOption {
	return func(s *Server) {
		s.persistHook = fn
	}
}

// NewServer creates a new API server.
func NewServer(deps Deps, opts ...ServerOption) *Server {
	s := &Server{
		deps:    deps,
		logger:  logging.NewNop(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Streaming and workflow runs outlive the request timeout.
		r.Get("/events", s.handleSSE)
		r.Post("/workflows", s.handleRunWorkflow)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/stats", s.handleStats)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.handleListTasks)
				r.Post("/", s.handleStartTask)
				r.Get("/{taskID}", s.handleGetTask)
				r.Delete("/{taskID}", s.handleCancelTask)
			})

			r.Get("/workflows/current", s.handleCurrentWorkflow)
			r.Post("/workflows/current/cancel", s.handleCancelWorkflow)
			r.Post("/workflows/current/pause", s.handlePauseWorkflow(true))
			r.Post("/workflows/current/resume", s.handlePauseWorkflow(false))

			r.Route("/hooks", func(r chi.Router) {
				r.Get("/", s.handleListHooks)
				r.Post("/{name}/enable", s.handleToggleHook(true))
				r.Post("/{name}/disable", s.handleToggleHook(false))
			})
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return core.ErrValidation(core.CodeInvalidInput, "invalid request body: "+err.Error())
	}
	return nil
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// StatsResponse combines router and task manager counters.
type StatsResponse struct {
	Router *service.RouterStats `json:"router,omitempty"`
	Tasks  *background.Stats    `json:"tasks,omitempty"`
	Events *BusStats            `json:"events,omitempty"`
}

// BusStats reports event bus delivery.
type BusStats struct {
	Subscribers int   `json:"subscribers"`
	Dropped     int64 `json:"dropped"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var resp StatsResponse
	if s.deps.Router != nil {
		rs := s.deps.Router.Stats()
		resp.Router = &rs
	}
	if s.deps.Tasks != nil {
		ts := s.deps.Tasks.Stats()
		resp.Tasks = &ts
	}
	if s.deps.Bus != nil {
		resp.Events = &BusStats{Subscribers: s.deps.Bus.SubscriberCount(), Dropped: s.deps.Bus.DroppedCount()}
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
