package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-matcher/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	peopleHandler := handlers.NewPeopleHandler(s.engine)
	facesHandler := handlers.NewFacesHandler(s.engine)
	searchHandler := handlers.NewSearchHandler(s.engine, s.jobs)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// SSE streams stay open for the whole search
		r.Get("/searches/{jobId}/events", searchHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(5 * time.Minute))

			// People
			r.Get("/people", peopleHandler.List)
			r.Post("/people", peopleHandler.Create)
			r.Get("/people/{id}", peopleHandler.Get)
			r.Delete("/people/{id}", peopleHandler.Delete)
			r.Get("/people/{id}/faces", peopleHandler.Faces)
			r.Post("/people/{id}/cluster", peopleHandler.RefreshCluster)

			// Searches (long-running)
			r.Post("/people/{id}/search", searchHandler.Start)
			r.Get("/searches", searchHandler.List)
			r.Get("/searches/{jobId}", searchHandler.Status)
			r.Delete("/searches/{jobId}", searchHandler.Cancel)

			// Images
			r.Get("/images/{id}/faces", facesHandler.ImageFaces)
			r.Post("/images/{id}/analyze", facesHandler.Analyze)

			// Faces
			r.Delete("/faces", facesHandler.DeleteAll)
			r.Get("/faces/{id}", facesHandler.Get)
			r.Get("/faces/{id}/thumbnail", facesHandler.Thumbnail)
			r.Get("/faces/{id}/similar", facesHandler.Similar)
			r.Put("/faces/{id}/owner", facesHandler.Assign)
			r.Delete("/faces/{id}/owner", facesHandler.Unassign)
		})
	})
}
