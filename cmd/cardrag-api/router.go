package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/spherical/libs/cardrag/cmd/cardrag-api/handlers"
	"github.com/spherical-ai/spherical/libs/cardrag/cmd/cardrag-api/middleware"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/api/grpc"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
)

// AppConfig holds router settings.
type AppConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// DefaultAppConfig returns default router settings.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		RequestTimeout: 30 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates the API router with the JSON routes and the Connect
// search service mounted side by side.
func NewRouter(logger *observability.Logger, svc handlers.Service, cfg *AppConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger.WithComponent("http")))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	searchHandler := handlers.NewSearchHandler(logger, svc)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"cardrag"}`))
	})
	r.Get("/ready", searchHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", searchHandler.Search)
		r.Post("/route", searchHandler.Route)

		r.Route("/answers", func(r chi.Router) {
			r.Put("/", searchHandler.StoreAnswer)
			r.Post("/lookup", searchHandler.LookupAnswer)
		})

		r.Post("/cache/invalidate", searchHandler.InvalidateCache)
	})

	path, connectHandler := grpc.NewSearchService(logger, svc).Handler()
	r.Handle(path, connectHandler)

	return r
}
