package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/agentreplay/internal/config"
	"github.com/capitalize-ai/agentreplay/internal/middleware"
	"github.com/capitalize-ai/agentreplay/internal/service"
	"github.com/capitalize-ai/agentreplay/pkg/logger"
)

// NewRouter wires the API routes over library.
func NewRouter(cfg *config.Config, library *service.Library, log *logger.Logger) http.Handler {
	healthHandler := NewHealthHandler(library)
	traceHandler := NewTraceHandler(library, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.RequireScope(middleware.ScopeTracesRead))
		}
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/diff", traceHandler.Diff)

		r.Route("/traces", func(r chi.Router) {
			r.Get("/", traceHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(middleware.TraceID("id"))

				r.Get("/", traceHandler.Get)
				r.Get("/steps/{position}", traceHandler.Step)
				r.Get("/search", traceHandler.Search)
				r.Get("/export", traceHandler.Export)
			})
		})
	})

	return r
}
