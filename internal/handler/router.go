package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
)

// Router builds the full route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger)
	r.Use(CORS)

	r.Get("/health", HealthCheck)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.With(h.Authenticate).Get("/me", h.Me)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)

		r.Get("/spaces", h.ListSpaces)
		r.Get("/ws/spaces", h.WatchSpaces)

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(model.RoleDriver))
			r.Post("/spaces/{id}/reserve", h.Reserve)
			r.Get("/reservations/active", h.ActiveReservation)
			r.Post("/reservations/{id}/release", h.Release)
			r.Get("/ws/reservations/active", h.WatchActiveReservation)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(model.RoleAdmin))
			r.Route("/admin", func(r chi.Router) {
				r.Post("/spaces", h.CreateSpace)
				r.Put("/spaces/{id}", h.UpdateSpace)
				r.Delete("/spaces/{id}", h.DeleteSpace)
				r.Get("/dashboard", h.Dashboard)
				r.Get("/report", h.Report)
				r.Post("/sweep", h.Sweep)
			})
			r.Get("/ws/admin/report", h.WatchReport)
		})
	})

	return r
}
