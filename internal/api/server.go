// Package api exposes the HTTP interface for the crawlguard service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlguard/internal/backlog"
	"github.com/JakeFAU/crawlguard/internal/health"
	"github.com/JakeFAU/crawlguard/internal/metrics"
)

// BacklogWatcher samples the queue backlog and drives the confirm-then-alert
// cycle. Implemented by backlog.Monitor.
type BacklogWatcher interface {
	Sample(ctx context.Context) (backlog.Sample, error)
	Watch(ctx context.Context) (backlog.Sample, error)
}

// DependencyProber checks the external stores. Implemented by health.Prober.
type DependencyProber interface {
	ProbeAll(ctx context.Context) health.Report
}

// Server wires HTTP handlers to the backlog monitor and dependency prober.
type Server struct {
	router  chi.Router
	watcher BacklogWatcher
	prober  DependencyProber
	logger  *zap.Logger

	// baseContext backs the fire-and-forget notify path so the deferred
	// confirmation outlives the request that triggered it.
	baseContext context.Context
}

// ServerConfig carries the Server's dependencies.
type ServerConfig struct {
	Watcher        BacklogWatcher
	Prober         DependencyProber
	Logger         *zap.Logger
	BaseContext    context.Context
	RequestTimeout time.Duration
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		watcher:     cfg.Watcher,
		prober:      cfg.Prober,
		logger:      cfg.Logger,
		baseContext: cfg.BaseContext,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(cfg.Logger))
	r.Use(recoverMiddleware(cfg.Logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/", s.root)
	r.Get("/serverHealthCheck", s.serverHealthCheck)
	r.Get("/serverHealthCheck/notify", s.serverHealthCheckNotify)
	r.Get("/health/dependencies", s.healthDependencies)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte("crawlguard is running\n")); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}

// serverHealthCheck is the admission gate: ready only when the queue is fully
// drained. Any waiting job, or a failure to read the count, reports busy.
func (s *Server) serverHealthCheck(w http.ResponseWriter, r *http.Request) {
	sample, err := s.watcher.Sample(r.Context())
	if err != nil {
		s.logger.Error("readiness sample failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "backlog unavailable")
		return
	}
	status := http.StatusOK
	if sample.Waiting != 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, sample)
}

// serverHealthCheckNotify triggers a backlog check whose confirmation and
// alerting run in the background; the response never waits on them.
func (s *Server) serverHealthCheckNotify(w http.ResponseWriter, _ *http.Request) {
	go func() {
		if _, err := s.watcher.Watch(s.baseContext); err != nil {
			s.logger.Error("backlog watch failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusOK, map[string]string{"message": "backlog check scheduled"})
}

func (s *Server) healthDependencies(w http.ResponseWriter, r *http.Request) {
	report := s.prober.ProbeAll(r.Context())
	status := http.StatusOK
	overall := "healthy"
	if !report.Healthy {
		status = http.StatusInternalServerError
		overall = "unhealthy"
	}
	writeJSON(w, status, map[string]any{
		"status":  overall,
		"details": report.Results,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
