// Package server implements the muse HTTP API server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dwsmith1983/muse/internal/server/handlers"
)

// Options configures the server.
type Options struct {
	APIKey         string
	MaxRequestBody int64
	// Registry, when set, is exposed on GET /metrics.
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// Server is the muse HTTP API server.
type Server struct {
	svc    handlers.Service
	opts   Options
	logger *slog.Logger
	router chi.Router
	addr   string
	srv    *http.Server
}

// New creates a new HTTP server backed by svc.
func New(addr string, svc handlers.Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		opts:   opts,
		logger: logger,
		addr:   addr,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(AccessLogMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(APIKeyMiddleware(opts.APIKey))
	if opts.MaxRequestBody > 0 {
		r.Use(MaxBodyMiddleware(opts.MaxRequestBody))
	}

	s.router = r
	s.registerRoutes(r)
	return s
}

// Handler returns the root handler, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // POST /api/runs blocks for a whole run
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("muse server listening", "addr", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) metricsHandler() http.Handler {
	if s.opts.Registry == nil {
		return nil
	}
	return promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})
}

