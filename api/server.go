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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/programs/*       Programs, plans, transactions, members, audit
  /api/rab/*            Budget line edits
  /api/transactions/*   Transaction detail, edits, receipts
  /api/receipts/*       Receipt removal
  /api/audit            Global audit trail
  /api/seed             Demo data (dev only)
  /api/reset            Database reset (dev only, if store supports it)

SECURITY NOTE:
  No authentication middleware. The acting user is taken from the
  X-User-ID header; authentication belongs to the gateway in front.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Program routes
		r.Route("/programs", func(r chi.Router) {
			r.Get("/", h.ListPrograms)
			r.Post("/", h.CreateProgram)
			r.Get("/{id}", h.GetProgram)
			r.Put("/{id}", h.UpdateProgram)
			r.Delete("/{id}", h.DeleteProgram)
			r.Post("/{id}/status", h.TransitionProgram)
			r.Get("/{id}/summary", h.GetSummary)
			r.Get("/{id}/rab", h.GetPlan)
			r.Post("/{id}/rab", h.CreateLine)
			r.Get("/{id}/transactions", h.ListTransactions)
			r.Post("/{id}/transactions", h.CreateTransaction)
			r.Post("/{id}/validate", h.ValidateAllocations)
			r.Get("/{id}/audit", h.GetProgramAudit)
			r.Get("/{id}/members", h.ListMembers)
			r.Post("/{id}/members", h.AddMember)
			r.Post("/{id}/members/{userID}/approve", h.ApproveMember)
			r.Delete("/{id}/members/{userID}", h.RemoveMember)
		})

		// Budget line routes
		r.Route("/rab", func(r chi.Router) {
			r.Put("/{id}", h.UpdateLine)
			r.Delete("/{id}", h.DeleteLine)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/{id}", h.GetTransaction)
			r.Put("/{id}", h.UpdateTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
			r.Get("/{id}/receipts", h.ListReceipts)
			r.Post("/{id}/receipts", h.AddReceipt)
		})

		// Receipt routes
		r.Route("/receipts", func(r chi.Router) {
			r.Delete("/{id}", h.DeleteReceipt)
		})

		// Audit trail
		r.Get("/audit", h.GetAudit)

		// Demo data
		r.Post("/seed", h.SeedDemo)
		r.Post("/reset", h.ResetDatabase)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
