package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/servicedesk/internal/loader"
	"github.com/HerbHall/servicedesk/internal/modules/health"
	"github.com/HerbHall/servicedesk/internal/version"
	"github.com/HerbHall/servicedesk/pkg/plugin"
)

// Modules is the loader surface the server reports on.
type Modules interface {
	Module(name string) (plugin.Module, bool)
	Status() loader.Status
	ModuleStatus(name string) (loader.ModuleStatus, bool)
	PluginInfo() loader.PluginInfo
	Unload(ctx context.Context, name string) error
}

// Server is the ServiceDesk status server.
type Server struct {
	httpServer *http.Server
	modules    Modules
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a new Server instance. A nil gatherer disables /metrics.
func New(addr string, mods Modules, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		modules:  mods,
		gatherer: gatherer,
		logger:   logger,
		mux:      mux,
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/modules", s.handleModules)
	s.mux.HandleFunc("GET /api/v1/modules/{name}", s.handleModule)
	s.mux.HandleFunc("DELETE /api/v1/modules/{name}", s.handleUnload)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports the health module's aggregate, or a bare "ok" when
// the health module is not loaded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  plugin.StatusHealthy,
		"service": "servicedesk",
		"version": version.Map(),
	}
	code := http.StatusOK

	if hm, ok := s.healthModule(); ok {
		report := hm.Check(r.Context())
		body["status"] = report.Status
		if report.Modules != nil {
			body["modules"] = report.Modules
		}
		if report.Status == plugin.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, code, body)
}

func (s *Server) healthModule() (*health.Module, bool) {
	m, ok := s.modules.Module(health.Name)
	if !ok {
		return nil, false
	}
	hm, ok := m.(*health.Module)
	return hm, ok
}

func (s *Server) handleModules(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.modules.Status())
}

func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ms, ok := s.modules.ModuleStatus(name)
	if !ok {
		NotFound(w, fmt.Sprintf("module %q is not configured", name), r.URL.Path)
		return
	}
	s.writeJSON(w, http.StatusOK, ms)
}

// handleUnload removes a loaded module. Modules that others depend on are
// rejected with 409.
func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := s.modules.Unload(r.Context(), name)

	var inUse *loader.InUseError
	switch {
	case err == nil:
		s.logger.Info("module unloaded via API", zap.String("module", name))
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, loader.ErrNotLoaded):
		NotFound(w, err.Error(), r.URL.Path)
	case errors.As(err, &inUse):
		Conflict(w, err.Error(), r.URL.Path)
	default:
		s.logger.Error("unload failed", zap.String("module", name), zap.Error(err))
		InternalError(w, err.Error(), r.URL.Path)
	}
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.modules.PluginInfo())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-ServiceDesk-Version", version.Short())
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("encode response", zap.Error(err))
	}
}
