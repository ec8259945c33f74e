package server

import (
	"net/http"

	"github.com/cloo-solutions/docpipe/internal/api"
	"github.com/cloo-solutions/docpipe/internal/api/handlers"
	"github.com/cloo-solutions/docpipe/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	APIKey          string
	DocumentHandler *handlers.DocumentHandler
	SearchHandler   *handlers.SearchHandler
	RepairHandler   *handlers.RepairHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		// An empty key disables auth for local use.
		if cfg.APIKey != "" {
			r.Use(middleware.APIKeyAuth(cfg.APIKey))
		}

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", cfg.DocumentHandler.Ingest)
			r.Get("/", cfg.DocumentHandler.List)
			r.Get("/{id}/status", cfg.DocumentHandler.Status)
			r.Get("/{id}/archive", cfg.DocumentHandler.Archive)
			r.Delete("/{id}", cfg.DocumentHandler.Delete)
		})

		r.Post("/search", cfg.SearchHandler.Search)
		r.Post("/repair", cfg.RepairHandler.Repair)
	})

	return r
}
