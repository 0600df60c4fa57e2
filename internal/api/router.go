package api

import (
	"encoding/json"
	"net/http"

	"github.com/bratrax/chatbridge/internal/api/handlers"
	"github.com/bratrax/chatbridge/internal/api/middleware"
	"github.com/bratrax/chatbridge/internal/auth"
	"github.com/bratrax/chatbridge/internal/config"
	"github.com/bratrax/chatbridge/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all bridge routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, d *auth.Dispatcher, local contracts.LocalAuthenticator) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Cookie", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// Lightdash bridge surface
	r.Route("/api/lightdash", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.With(d.Optional).Get("/auth-status", h.AuthStatus)
		r.With(d.Required).Post("/sync-user", h.SyncUser)
		r.Post("/sync-user-from-lightdash", h.SyncUserFromLightdash)
		r.With(d.Required).Post("/save-credentials", h.SaveCredentials(local))
	})

	// Local token exchange + login/register redirects
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/lightdash-login", h.LightdashLogin)
		if cfg.Lightdash.Enabled {
			r.Post("/login", h.LoginRedirect)
			r.Post("/register", h.RegisterRedirect)
		}
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "chatbridge",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "chatbridge",
		})
	}
}
