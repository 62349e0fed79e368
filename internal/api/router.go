package api

import (
	"encoding/json"
	"net/http"

	"github.com/adminpilot/control-plane/internal/api/handlers"
	"github.com/adminpilot/control-plane/internal/api/middleware"
	"github.com/adminpilot/control-plane/internal/config"
	"github.com/adminpilot/control-plane/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates the HTTP router with all API routes. Everything under
// /api/v1 requires an authenticated administrator.
func NewRouter(cfg *config.Config, h *handlers.Handlers, chain contracts.AuthProviderChain, limiter *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(chain))
		r.Use(middleware.RequireRole(cfg.Auth.AdminRole))
		r.Use(limiter.Handler)

		r.Route("/agent", func(r chi.Router) {
			r.Post("/chat", h.Chat)
			r.Get("/tools", h.Tools)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/actions", h.ListActions)
			r.Get("/actions/count", h.CountActions)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "adminpilot-control-plane",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "adminpilot-control-plane",
		})
	}
}
