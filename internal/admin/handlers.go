package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/KilimcininKorOglu/lload/internal/backend"
	"github.com/KilimcininKorOglu/lload/internal/config"
)

// Registry is the part of the backend registry the API needs.
type Registry interface {
	Status() []backend.Status
	SetAdminDown(name string, down bool) error
}

// Handlers contains the admin API handlers.
type Handlers struct {
	registry      Registry
	configManager *config.ConfigManager
	reload        func() error
	version       string
	startTime     time.Time
}

// NewHandlers creates handlers serving registry.
func NewHandlers(registry Registry) *Handlers {
	return &Handlers{
		registry:  registry,
		startTime: time.Now(),
	}
}

// SetConfigManager enables the configuration endpoints.
func (h *Handlers) SetConfigManager(m *config.ConfigManager) {
	h.configManager = m
}

// SetReloadFunc overrides how POST /config/reload reloads. It defaults to
// ConfigManager.Reload.
func (h *Handlers) SetReloadFunc(fn func() error) {
	h.reload = fn
}

// SetVersion sets the version reported by /healthz.
func (h *Handlers) SetVersion(v string) {
	h.version = v
}

// HandleHealth handles GET /healthz
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := h.registry.Status()
	ready := 0
	for _, st := range statuses {
		if !st.AdminDown && st.Ready+st.BoundExclusive > 0 {
			ready++
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
		Backends: len(statuses),
		Ready:    ready,
	})
}

// HandleListBackends handles GET /backends
func (h *Handlers) HandleListBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BackendsResponse{Backends: h.registry.Status()})
}

// HandleDisableBackend handles POST /backends/{name}/disable
func (h *Handlers) HandleDisableBackend(w http.ResponseWriter, r *http.Request) {
	h.setAdminDown(w, r, true)
}

// HandleEnableBackend handles POST /backends/{name}/enable
func (h *Handlers) HandleEnableBackend(w http.ResponseWriter, r *http.Request) {
	h.setAdminDown(w, r, false)
}

func (h *Handlers) setAdminDown(w http.ResponseWriter, r *http.Request, down bool) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "backend name is required")
		return
	}

	if err := h.registry.SetAdminDown(name, down); err != nil {
		status, code, msg := mapRegistryError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, BackendStateResponse{Name: name, AdminDown: down})
}

// HandleGetConfig handles GET /config
func (h *Handlers) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	if h.configManager == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "config manager not available")
		return
	}

	writeJSON(w, http.StatusOK, h.configManager.ToJSON())
}

// HandleReloadConfig handles POST /config/reload
func (h *Handlers) HandleReloadConfig(w http.ResponseWriter, r *http.Request) {
	reload := h.reload
	if reload == nil && h.configManager != nil {
		reload = h.configManager.Reload
	}
	if reload == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "config manager not available")
		return
	}

	if err := reload(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "reload_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ReloadResponse{Reloaded: true})
}
