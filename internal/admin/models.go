package admin

import "github.com/KilimcininKorOglu/lload/internal/backend"

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Uptime   string `json:"uptime"`
	Backends int    `json:"backends"`
	Ready    int    `json:"ready"`
}

// BackendsResponse is the body of GET /backends.
type BackendsResponse struct {
	Backends []backend.Status `json:"backends"`
}

// BackendStateResponse is the body of the enable and disable endpoints.
type BackendStateResponse struct {
	Name      string `json:"name"`
	AdminDown bool   `json:"adminDown"`
}

// ReloadResponse is the body of POST /config/reload.
type ReloadResponse struct {
	Reloaded bool `json:"reloaded"`
}
