/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for admin frontends

ROUTE GROUPS:
  /api/attendance/*     Check-in, check-out, auto-checkout, sessions
  /api/shifts/*         Shift definitions
  /api/employees/*      Shift assignment, tardiness counters
  /api/rules/*          Tardiness and disciplinary rules
  /api/discipline/*     Records, approval decisions, evaluation
  /api/jobs/*           Job status and control
  /healthz              Store reachability

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - jobs.go: Job control handlers
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. An empty
// origins list allows any origin.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/attendance", func(r chi.Router) {
			r.Post("/check-in", h.CheckIn)
			r.Post("/check-out", h.CheckOut)
			r.Post("/auto-checkout", h.RunAutoCheckout)
			r.Get("/sessions", h.ListSessions)
		})

		r.Route("/shifts", func(r chi.Router) {
			r.Post("/", h.SaveShift)
			r.Get("/{id}", h.GetShift)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Put("/{id}/shift", h.AssignShift)
			r.Get("/{id}/tardiness", h.GetTardiness)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/tardiness", h.ListTardinessRules)
			r.Post("/tardiness", h.SaveTardinessRule)
			r.Get("/disciplinary", h.ListDisciplinaryRules)
			r.Post("/disciplinary", h.SaveDisciplinaryRule)
		})

		r.Route("/discipline", func(r chi.Router) {
			r.Get("/records", h.ListRecords)
			r.Post("/records/{id}/approve", h.ApproveRecord)
			r.Post("/records/{id}/reject", h.RejectRecord)
			r.Post("/evaluate/{employee}", h.EvaluateEmployee)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Get("/{kind}", h.GetJob)
			r.Post("/{kind}/start", h.StartJob)
			r.Post("/{kind}/stop", h.StopJob)
			r.Post("/{kind}/run", h.RunJob)
		})
	})

	return r
}
