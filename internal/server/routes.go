package server

import (
	"expvar"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dwsmith1983/muse/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.svc)
	h.SetLogger(s.logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		r.Get("/health", h.Health)
		r.Get("/ready", h.Ready)

		r.Route("/api", func(r chi.Router) {
			r.Get("/health", h.Health)

			// Gate
			r.Post("/gate/evaluate", h.EvaluateGate)
			r.Get("/gate/flag", h.FlagStatus)

			// Runs
			r.Post("/runs", h.RunPipeline)
			r.Get("/runs/latest", h.LatestRun)

			// Dead letters
			r.Post("/dlq/replay", h.ReplayDLQ)
		})
	})

	r.Handle("/debug/vars", expvar.Handler())
	if mh := s.metricsHandler(); mh != nil {
		r.Handle("/metrics", mh)
	}
}
