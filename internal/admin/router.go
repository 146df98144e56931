package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/KilimcininKorOglu/lload/internal/logging"
)

// NewRouter wires the admin endpoints.
func NewRouter(h *Handlers, auth *Authenticator, logger logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggingMiddleware(logger))

	r.Get("/healthz", h.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(auth))

		r.Get("/backends", h.HandleListBackends)
		r.Post("/backends/{name}/disable", h.HandleDisableBackend)
		r.Post("/backends/{name}/enable", h.HandleEnableBackend)

		r.Get("/config", h.HandleGetConfig)
		r.Post("/config/reload", h.HandleReloadConfig)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}
