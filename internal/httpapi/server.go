// Package httpapi exposes the execution service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/service"
)

// Executor is the part of the execution service the API needs.
type Executor interface {
	Execute(ctx context.Context, req service.Request) (service.WorkflowResult, error)
	Inspect(ctx context.Context, threadID string) (service.ThreadView, error)
}

// Server serves the HTTP API.
type Server struct {
	router   chi.Router
	exec     Executor
	gatherer prometheus.Gatherer
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics serves the gatherer's metrics on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithRequestTimeout bounds each request. Defaults to two minutes;
// non-positive values keep the default.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewServer creates the API server.
func NewServer(exec Executor, opts ...Option) *Server {
	s := &Server{
		exec:    exec,
		timeout: 2 * time.Minute,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		r.Post("/agents/{agentID}/execute", s.handleExecute)
		r.Get("/threads/{threadID}", s.handleThread)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// executeRequest is the body of POST /v1/agents/{agentID}/execute.
type executeRequest struct {
	Input         json.RawMessage `json:"input"`
	CorrelationID string          `json:"correlation_id"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	correlationID := body.CorrelationID
	if correlationID == "" {
		correlationID = r.Header.Get("X-Correlation-ID")
	}

	res, err := s.exec.Execute(r.Context(), service.Request{
		AgentID:       chi.URLParam(r, "agentID"),
		Input:         body.Input,
		CorrelationID: correlationID,
	})
	var cfgErr *service.ConfigurationError
	switch {
	case errors.Is(err, service.ErrAgentNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &cfgErr):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	case err != nil:
		s.logger.Error("execute failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		// Workflow failures are results: the caller checks success.
		respondJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	view, err := s.exec.Inspect(r.Context(), chi.URLParam(r, "threadID"))
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrCheckpointingDisabled):
		respondError(w, http.StatusNotImplemented, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
