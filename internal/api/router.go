package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apimw "github.com/phrazzld/taskcore/internal/api/middleware"
)

// NewRouter mounts h's routes behind the standard middleware stack.
func NewRouter(h *Handler, health HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apimw.NewTraceMiddleware(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.CreateTask)
			r.Get("/", h.ListTasks)
			r.Get("/{id}", h.GetTask)
			r.Post("/{id}/cancel", h.CancelTask)
			r.Post("/{id}/confirm", h.ConfirmTask)
		})
		r.Post("/replies", h.HandleReply)
		r.Get("/tenants/{tenant}/recurring-jobs", h.ListRecurringJobs)
		r.Put("/tenants/{tenant}/recurring-jobs", h.SyncRecurringJobs)
		r.Get("/workers", h.ListWorkers)
	})

	r.Get("/health", h.Health(health))
	return r
}
