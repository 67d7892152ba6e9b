/**
 * @description
 * This file sets up the HTTP router for the analytics-service. Analyst endpoints are
 * protected by a bearer JWT, internal endpoints by the shared internal API key.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the analyst dashboard.
 * - github.com/prometheus/client_golang: The /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new Chi router and registers the analytics routes.
func NewRouter(h *Handler, jwtSecret string, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/internal/assessments", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/run", h.handleRunAssessments)
	})

	r.Group(func(r chi.Router) {
		r.Use(AnalystAuthMiddleware(jwtSecret))
		r.Post("/analyses", h.handleCreateAnalysis)
		r.Get("/analyses", h.handleListAnalyses)
		r.Get("/analyses/{id}", h.handleGetAnalysis)
		r.Get("/analyses/{id}/graph", h.handleGetAnalysisGraph)
		r.Get("/subscribers/{msisdn}/assessment", h.handleGetAssessment)
	})

	return r
}
