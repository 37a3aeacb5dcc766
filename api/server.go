/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/batches/*    Batch lifecycle (start/upload/complete/cancel)
  /api/prices/*     Last-price consumption
  /api/scenarios/*  Demo scenarios (dev only)
  /metrics          Prometheus exposition

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Batch lifecycle routes
		r.Route("/batches", func(r chi.Router) {
			r.Post("/{batchID}/start", h.StartBatch)
			r.Post("/{batchID}/upload", h.UploadPrices)
			r.Post("/{batchID}/complete", h.CompleteBatch)
			r.Post("/{batchID}/cancel", h.CancelBatch)
			r.Get("/{batchID}", h.GetBatch)
		})

		// Price consumption routes
		r.Route("/prices", func(r chi.Router) {
			r.Post("/last", h.LastPrices)
		})

		// Demo scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	// Prometheus metrics
	if h.Metrics != nil {
		r.Method("GET", "/metrics", h.Metrics.Handler())
	}

	return r
}
