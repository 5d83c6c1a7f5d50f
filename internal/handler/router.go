package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	custommiddleware "github.com/BigCrunchTheory/watermap-service/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса WaterMap.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/", h.Root)

	r.Route("/water-points", func(r chi.Router) {
		r.Get("/", h.ListWaterPoints)
		r.Get("/search", h.SearchWaterPoints)
		r.Get("/{id}", h.GetWaterPoint)

		// Мутации каталога доступны только администратору.
		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.RequireAdmin)

			r.Post("/", h.CreateWaterPoint)
			r.Put("/{id}", h.UpdateWaterPoint)
			r.Delete("/{id}", h.DeleteWaterPoint)
		})
	})

	r.Post("/register", h.RegisterUser)
	r.Post("/login", h.Login)
	r.Post("/admin-login", h.AdminLogin)
	r.Post("/admin-create", h.AdminCreate)

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.RegisterUser)
		r.Get("/{id}", h.GetUser)
		r.Get("/{id}/payments", h.GetUserPayments)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.RequireAdmin)

			r.Get("/", h.ListUsers)
			r.Delete("/{id}", h.DeleteUser)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Put("/{id}", h.UpdateUser)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/pay", h.Pay)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
