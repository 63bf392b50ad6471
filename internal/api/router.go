package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
// Passed from main.go so the router can configure CORS and auth from env vars.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or Authorization: Bearer <key>.
	// If empty, auth middleware is skipped (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// CORS: restrict origins when configured, otherwise allow all (dev mode)
	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check — public, no auth required
	r.Get("/health", h.Health)

	// API routes — protected by API key auth
	r.Route("/v1", func(r chi.Router) {
		// Apply auth middleware only to /v1 routes
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		// Generations
		r.Post("/generations", h.CreateGeneration)
		r.Get("/generations", h.ListGenerations)
		r.Get("/generations/{id}", h.GetGeneration)
		r.Delete("/generations/{id}", h.DeleteGeneration)
		r.Post("/generations/{id}/caption/regenerate", h.RegenerateCaption)
		r.Put("/generations/{id}/caption", h.UpdateCaption)

		// Creators
		r.Post("/creators", h.CreateCreator)
		r.Get("/creators", h.ListCreators)
		r.Get("/creators/{id}", h.GetCreator)
		r.Put("/creators/{id}", h.UpdateCreator)

		// Audio tracks
		r.Post("/audio", h.CreateAudio)
		r.Get("/audio", h.ListAudio)
		r.Get("/audio/{id}", h.GetAudio)
		r.Put("/audio/{id}/beats", h.UpdateBeats)

		// Clips
		r.Post("/clips", h.CreateClip)
		r.Get("/clips", h.ListClips)
		r.Get("/clips/{id}", h.GetClip)
		r.Patch("/clips/{id}", h.UpdateClip)
		r.Post("/clips/{id}/reanalyze", h.ReanalyzeClip)
	})

	return r
}
