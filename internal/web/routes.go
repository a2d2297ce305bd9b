package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-gate/internal/web/handlers"
	"github.com/kozaktomas/face-gate/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	d := s.deps

	// Create handlers
	authHandler := handlers.NewAuthHandler(d.Config, d.Users, s.log)
	usersHandler := handlers.NewUsersHandler(d.Config, d.Users, s.log)
	imagesHandler := handlers.NewImagesHandler(d.Users, s.log)
	historyHandler := handlers.NewHistoryHandler(d.Config, d.History, d.Recorder, s.log)
	healthHandler := handlers.NewHealthHandler(d.DB, s.log)

	// Health and metrics (no auth required)
	s.router.Get("/health", healthHandler.Check)
	s.router.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	// Public endpoints
	s.router.Post("/compararCara", authHandler.CompareFace)
	s.router.Post("/subirUsuario", usersHandler.Create)
	s.router.Post("/login", authHandler.Login)
	if d.Config.Auth.TestTokens {
		s.router.Get("/generarToken", authHandler.GenerateToken)
	}

	// Everything else requires a bearer token
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.RequireToken(d.Tokens))

		r.Post("/logout", authHandler.Logout)

		r.Get("/usuarios", usersHandler.List)
		r.Get("/usuarios/{id}", usersHandler.Get)
		r.Put("/usuarios/{id}", usersHandler.Update)
		r.Delete("/usuarios/{id}", usersHandler.Delete)

		r.Get("/imagenes/*", imagesHandler.Get)

		r.Get("/historial", historyHandler.List)
	})
}
