package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HerbHall/servicedesk/internal/config"
	"github.com/HerbHall/servicedesk/internal/loader"
	"github.com/HerbHall/servicedesk/internal/modules/health"
	"github.com/HerbHall/servicedesk/internal/registry"
	"github.com/HerbHall/servicedesk/internal/testutil"
	"github.com/HerbHall/servicedesk/pkg/plugin"
)

// sickPlugin builds a module that always reports unhealthy.
type sickPlugin struct {
	*testutil.StubPlugin
}

type sickModule struct{}

func (sickModule) Health(context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{Status: plugin.StatusUnhealthy, Message: "disk full"}
}

func (p sickPlugin) Create(context.Context, plugin.Dependencies) (plugin.Module, error) {
	return sickModule{}, nil
}

func entry(deps ...string) config.ModuleEntry {
	return config.ModuleEntry{Enabled: true, Version: "1.0.0", Dependencies: deps}
}

func newTestServer(t *testing.T, extra ...plugin.Plugin) (*Server, *loader.Loader) {
	t.Helper()
	logger := testutil.Logger()

	reg := registry.New(logger)
	users := testutil.NewStubPlugin("users")
	users.ModuleCategory = plugin.CategoryCore
	plugins := append([]plugin.Plugin{health.New(), users, testutil.NewStubPlugin("notifications", "users")}, extra...)
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			t.Fatalf("Register(%s) error = %v", p.Name(), err)
		}
	}

	cfg := config.Modules{
		Core: map[string]config.ModuleEntry{
			"health": entry(),
			"users":  entry(),
		},
		Feature: map[string]config.ModuleEntry{
			"notifications": entry("users"),
		},
	}
	for _, p := range extra {
		cfg.Feature[p.Name()] = entry()
	}

	promReg := prometheus.NewRegistry()
	ldr := loader.New(reg, cfg, logger, loader.WithMetrics(loader.NewMetrics(promReg)))
	res, err := ldr.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if len(res.Failed) != 0 {
		t.Fatalf("Initialize() failures = %v", res.Failed)
	}
	t.Cleanup(func() { _ = ldr.Close(context.Background()) })

	return New("127.0.0.1:0", ldr, promReg, logger), ldr
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/v1/health")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("X-ServiceDesk-Version"); got == "" {
		t.Error("missing X-ServiceDesk-Version header")
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != plugin.StatusHealthy {
		t.Errorf("status = %v, want %q", body["status"], plugin.StatusHealthy)
	}
	if body["service"] != "servicedesk" {
		t.Errorf("service = %v, want servicedesk", body["service"])
	}
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	s, _ := newTestServer(t, sickPlugin{testutil.NewStubPlugin("storage")})
	w := do(t, s, http.MethodGet, "/api/v1/health")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var body struct {
		Status  string                         `json:"status"`
		Modules map[string]plugin.HealthStatus `json:"modules"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != plugin.StatusUnhealthy {
		t.Errorf("status = %q, want %q", body.Status, plugin.StatusUnhealthy)
	}
	if body.Modules["storage"].Message != "disk full" {
		t.Errorf("modules[storage] = %+v", body.Modules["storage"])
	}
}

func TestHealthEndpointWithoutHealthModule(t *testing.T) {
	s, ldr := newTestServer(t)
	if err := ldr.Unload(context.Background(), health.Name); err != nil {
		t.Fatalf("Unload(health) error = %v", err)
	}
	w := do(t, s, http.MethodGet, "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestModulesEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/v1/modules")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var st loader.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Configured != 3 || st.Loaded != 3 {
		t.Errorf("configured/loaded = %d/%d, want 3/3", st.Configured, st.Loaded)
	}
	if st.Registry.TotalPlugins != 3 {
		t.Errorf("registry total = %d, want 3", st.Registry.TotalPlugins)
	}
}

func TestModuleEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/modules/notifications")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var ms loader.ModuleStatus
	if err := json.NewDecoder(w.Body).Decode(&ms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ms.Loaded || ms.InstanceID == "" {
		t.Errorf("module = %+v, want loaded with instance id", ms)
	}

	w = do(t, s, http.MethodGet, "/api/v1/modules/billing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content-type = %q", ct)
	}
}

func TestUnloadEndpoint(t *testing.T) {
	s, ldr := newTestServer(t)

	w := do(t, s, http.MethodDelete, "/api/v1/modules/users")
	if w.Code != http.StatusConflict {
		t.Fatalf("unload users status = %d, want %d", w.Code, http.StatusConflict)
	}
	var p Problem
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(p.Detail, "notifications") {
		t.Errorf("detail = %q, want dependents listed", p.Detail)
	}

	w = do(t, s, http.MethodDelete, "/api/v1/modules/notifications")
	if w.Code != http.StatusNoContent {
		t.Fatalf("unload notifications status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if ldr.IsLoaded("notifications") {
		t.Error("notifications still loaded")
	}

	w = do(t, s, http.MethodDelete, "/api/v1/modules/notifications")
	if w.Code != http.StatusNotFound {
		t.Fatalf("second unload status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = do(t, s, http.MethodDelete, "/api/v1/modules/users")
	if w.Code != http.StatusNoContent {
		t.Fatalf("unload users status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestPluginsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/v1/plugins")

	var info loader.PluginInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(info.Plugins) != 3 {
		t.Fatalf("plugins = %d, want 3", len(info.Plugins))
	}
	if info.Plugins[0].Name != health.Name {
		t.Errorf("first plugin = %q, want registration order", info.Plugins[0].Name)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/metrics")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "servicedesk_loader_modules_loaded 3") {
		t.Errorf("metrics output missing loaded gauge:\n%s", body)
	}
}

func TestMetricsDisabled(t *testing.T) {
	_, ldr := newTestServer(t)
	s := New("127.0.0.1:0", ldr, nil, testutil.Logger())
	if w := do(t, s, http.MethodGet, "/metrics"); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
