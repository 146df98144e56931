package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/lload/internal/backend"
	"github.com/KilimcininKorOglu/lload/internal/config"
	"github.com/KilimcininKorOglu/lload/internal/logging"
)

const testSecret = "test-secret"

type fakeRegistry struct {
	mu       sync.Mutex
	statuses []backend.Status
}

func (f *fakeRegistry) Status() []backend.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Status(nil), f.statuses...)
}

func (f *fakeRegistry) SetAdminDown(name string, down bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.statuses {
		if f.statuses[i].Name == name {
			f.statuses[i].AdminDown = down
			return nil
		}
	}
	return backend.ErrUnknownBackend
}

func newTestServer(t *testing.T) (*Server, *fakeRegistry) {
	t.Helper()
	reg := &fakeRegistry{statuses: []backend.Status{
		{Name: "ldap1", Address: "10.0.0.5:389", BindStrategy: "pinning", Ready: 4},
		{Name: "ldap2", Address: "10.0.0.6:389", BindStrategy: "vc", Failures: 2},
	}}
	cfg := DefaultServerConfig()
	cfg.JWTSecret = testSecret
	cfg.Issuer = "lload"
	return NewServer(cfg, reg, logging.NewNop()), reg
}

func do(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func mustToken(t *testing.T, s *Server) string {
	t.Helper()
	token, err := s.Authenticator().GenerateToken("ops", time.Minute)
	require.NoError(t, err)
	return token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthNeedsNoToken(t *testing.T) {
	s, _ := newTestServer(t)
	s.Handlers().SetVersion("1.2.3")

	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, 2, health.Backends)
	assert.Equal(t, 1, health.Ready)
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	s, _ := newTestServer(t)

	for _, tc := range []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"basic", "Basic b3BzOnB3"},
		{"bad token", "Bearer nope"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/backends", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestListBackends(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/backends", mustToken(t, s))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[BackendsResponse](t, rec)
	require.Len(t, resp.Backends, 2)
	assert.Equal(t, "ldap1", resp.Backends[0].Name)
	assert.Equal(t, 4, resp.Backends[0].Ready)
	assert.Equal(t, 2, resp.Backends[1].Failures)
}

func TestDisableAndEnableBackend(t *testing.T) {
	s, reg := newTestServer(t)
	token := mustToken(t, s)

	rec := do(t, s, http.MethodPost, "/backends/ldap1/disable", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, BackendStateResponse{Name: "ldap1", AdminDown: true}, decode[BackendStateResponse](t, rec))
	assert.True(t, reg.Status()[0].AdminDown)

	rec = do(t, s, http.MethodPost, "/backends/ldap1/enable", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, reg.Status()[0].AdminDown)

	rec = do(t, s, http.MethodPost, "/backends/missing/disable", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Error)

	rec = do(t, s, http.MethodGet, "/backends/ldap1/disable", token)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDisableRealRegistryBackend(t *testing.T) {
	reg := backend.NewRegistry([]config.BackendConfig{{Name: "ldap1", Address: "127.0.0.1:1", Connections: 1}}, backend.Options{})
	t.Cleanup(reg.Close)

	cfg := DefaultServerConfig()
	cfg.JWTSecret = testSecret
	s := NewServer(cfg, reg, nil)

	rec := do(t, s, http.MethodPost, "/backends/ldap1/disable", mustToken(t, s))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, reg.Status(), 1)
	assert.True(t, reg.Status()[0].AdminDown)
}

const adminTestConfig = `
listeners:
  - address: "127.0.0.1:1389"
backends:
  - name: ldap1
    address: 10.0.0.5:389
    bindDN: cn=lload,dc=example,dc=com
    bindPassword: hunter2
`

func TestGetConfigMasksSecrets(t *testing.T) {
	s, _ := newTestServer(t)
	token := mustToken(t, s)

	rec := do(t, s, http.MethodGet, "/config", token)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	cfg, err := config.ParseConfig([]byte(adminTestConfig))
	require.NoError(t, err)
	s.Handlers().SetConfigManager(config.NewConfigManager(cfg, ""))

	rec = do(t, s, http.MethodGet, "/config", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")

	view := decode[config.ConfigJSON](t, rec)
	require.Len(t, view.Backends, 1)
	assert.Equal(t, "********", view.Backends[0].BindPassword)
}

func TestReloadConfig(t *testing.T) {
	s, _ := newTestServer(t)
	token := mustToken(t, s)

	path := filepath.Join(t.TempDir(), "lload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(adminTestConfig), 0o600))
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	m := config.NewConfigManager(cfg, path)
	s.Handlers().SetConfigManager(m)

	updated := adminTestConfig + "logging:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	rec := do(t, s, http.MethodPost, "/config/reload", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ReloadResponse](t, rec).Reloaded)
	assert.Equal(t, "debug", m.GetConfig().Logging.Level)

	s.Handlers().SetReloadFunc(func() error { return errors.New("boom") })
	rec = do(t, s, http.MethodPost, "/config/reload", token)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "boom", decode[ErrorResponse](t, rec).Message)
}

func TestUnknownEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	s, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerConfigFrom(t *testing.T) {
	sc := ServerConfigFrom(config.AdminConfig{Address: ":9000", JWTSecret: "k", Issuer: "i"})
	assert.Equal(t, ":9000", sc.Address)
	assert.Equal(t, time.Hour, sc.TokenTTL)

	sc = ServerConfigFrom(config.AdminConfig{TokenTTL: time.Minute})
	assert.Equal(t, time.Minute, sc.TokenTTL)
}
