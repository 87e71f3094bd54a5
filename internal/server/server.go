// Package server is the read-only ops surface: health probes, version,
// and observation of jobs, batches, and worker liveness. Submission and
// control stay on the CLI; nothing served here mutates state.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/quantfold/quantfold/internal/errors"
	"github.com/quantfold/quantfold/internal/server/handlers"
	"github.com/quantfold/quantfold/internal/server/middleware"
	"github.com/quantfold/quantfold/pkg/jobstore"
)

// Option configures optional server surfaces.
type Option func(*Server)

// WithStore enables the /v1/jobs and /v1/batches routes.
func WithStore(store *jobstore.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithLivenessRoot enables the /v1/workers route.
func WithLivenessRoot(root string) Option {
	return func(s *Server) { s.livenessRoot = root }
}

// Timeouts overrides the http.Server timeouts.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// WithTimeouts sets explicit server timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) { s.timeouts = t }
}

// Server wraps the chi router and its http.Server.
type Server struct {
	host         string
	port         int
	store        *jobstore.Store
	livenessRoot string
	timeouts     Timeouts
	router       chi.Router
	httpServer   *http.Server
}

// New builds the server and registers its routes.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host: host,
		port: port,
		timeouts: Timeouts{
			Read:     30 * time.Second,
			Write:    30 * time.Second,
			Idle:     120 * time.Second,
			Shutdown: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.RealIP)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrorBody{
			Code:      apperrors.CodeNotFound,
			Message:   "route not found",
			RequestID: middleware.GetRequestID(req.Context()),
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusMethodNotAllowed, apperrors.ErrorBody{
			Code:      apperrors.CodeMethodNotAllowed,
			Message:   "method not allowed",
			RequestID: middleware.GetRequestID(req.Context()),
		})
	})

	hm := handlers.GetHealthManager()
	if s.store != nil {
		hm.RegisterChecker("store", s.store)
	}
	r.Get("/health", hm.HealthHandler)
	r.Get("/health/live", hm.LivenessHandler)
	r.Get("/health/ready", hm.ReadinessHandler)
	r.Get("/health/startup", hm.StartupHandler)
	r.Get("/healthz", hm.LivenessHandler)
	r.Get("/version", handlers.VersionHandler)

	r.Route("/v1", func(r chi.Router) {
		if s.store != nil {
			jh := handlers.NewJobsHandler(s.store)
			r.Get("/jobs", jh.List)
			r.Get("/jobs/{job_id}", jh.Get)
			r.Get("/batches/{batch_id}", jh.GetBatch)
		}
		if s.livenessRoot != "" {
			wh := handlers.NewWorkersHandler(s.livenessRoot)
			r.Get("/workers", wh.List)
		}
	})

	return r
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeouts.Shutdown)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
