package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/KilimcininKorOglu/lload/internal/backend"
)

// mapRegistryError maps a registry error to HTTP status and error code.
func mapRegistryError(err error) (int, string, string) {
	switch {
	case errors.Is(err, backend.ErrUnknownBackend):
		return http.StatusNotFound, "not_found", "backend not found"
	default:
		return http.StatusInternalServerError, "internal_error", err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Code:    status,
		Message: message,
	})
}
