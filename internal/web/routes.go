package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-gallery/internal/web/handlers"
	"github.com/kozaktomas/face-gallery/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	statsHandler := handlers.NewStatsHandler(s.service)
	identifyHandler := handlers.NewIdentifyHandler(s.service, statsHandler)
	peopleHandler := handlers.NewPeopleHandler(s.service, statsHandler)
	auditHandler := handlers.NewAuditHandler(s.service)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireCaller(s.auth))

			r.Post("/enroll", identifyHandler.Enroll)
			r.Post("/identify", identifyHandler.Identify)

			r.Get("/people", peopleHandler.List)
			r.Get("/people/{id}", peopleHandler.Get)
			r.Get("/people/{id}/image", peopleHandler.Image)
			r.Delete("/people/{id}", peopleHandler.Delete)

			r.Get("/audit", auditHandler.List)
			r.Get("/stats", statsHandler.Get)
		})
	})
}
