// Package registry owns the set of registered plugins and dispatches module
// construction to the plugin that claims a module name.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/HerbHall/servicedesk/pkg/plugin"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

// Sentinel errors returned by the registry.
var (
	ErrNoPlugin        = errors.New("no plugin registered for module")
	ErrDuplicatePlugin = errors.New("plugin already registered")
	ErrInvalidPlugin   = errors.New("invalid plugin")
	ErrInvalidConfig   = errors.New("invalid module configuration")
)

// ValidationError carries every error a plugin reported for a module's settings.
type ValidationError struct {
	Module string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for module %q: %s", e.Module, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

// Stats summarizes the registered plugins.
type Stats struct {
	TotalPlugins      int                          `json:"total_plugins"`
	SupportedModules  []string                     `json:"supported_modules"`
	PluginsByCategory map[plugin.Category][]string `json:"plugins_by_category"`
}

// Registry maps module names to the plugin that builds them.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]plugin.Plugin
	order   []string
	logger  *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]plugin.Plugin),
		logger:  logger,
	}
}

// Register adds a plugin. Names must be unique; a second plugin claiming an
// existing name is rejected rather than shadowed.
func (r *Registry) Register(p plugin.Plugin) error {
	if p == nil {
		return fmt.Errorf("%w: nil plugin", ErrInvalidPlugin)
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPlugin)
	}
	if !semver.IsValid(canonicalVersion(p.Version())) {
		return fmt.Errorf("%w: %q has invalid version %q", ErrInvalidPlugin, name, p.Version())
	}
	if !p.Category().Valid() {
		return fmt.Errorf("%w: %q has unknown category %q", ErrInvalidPlugin, name, p.Category())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicatePlugin, name)
	}
	r.plugins[name] = p
	r.order = append(r.order, name)
	r.logger.Info("plugin registered",
		zap.String("name", name),
		zap.String("category", string(p.Category())),
		zap.String("version", p.Version()),
	)
	return nil
}

// Get returns the plugin registered for name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Supports reports whether some plugin builds the named module.
func (r *Registry) Supports(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// CreateModule validates settings with the owning plugin and builds the module.
// deps.Version, when set, must share the plugin's major version.
func (r *Registry) CreateModule(ctx context.Context, name string, deps plugin.Dependencies) (plugin.Module, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoPlugin, name)
	}

	var problems []string
	if deps.Version != "" {
		if err := compatible(deps.Version, p.Version()); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if res := p.ValidateConfig(deps.Settings); !res.IsValid {
		problems = append(problems, res.Errors...)
		if len(res.Errors) == 0 {
			problems = append(problems, "settings rejected")
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Module: name, Errors: problems}
	}

	r.logger.Debug("creating module", zap.String("module", name))
	m, err := p.Create(ctx, deps)
	if err != nil {
		return nil, fmt.Errorf("create module %q: %w", name, err)
	}
	r.logger.Debug("module created", zap.String("module", name))
	return m, nil
}

// Stats returns plugin counts and groupings. Names are sorted.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{
		TotalPlugins:      len(r.plugins),
		SupportedModules:  make([]string, 0, len(r.plugins)),
		PluginsByCategory: make(map[plugin.Category][]string),
	}
	for _, name := range r.order {
		p := r.plugins[name]
		st.SupportedModules = append(st.SupportedModules, name)
		st.PluginsByCategory[p.Category()] = append(st.PluginsByCategory[p.Category()], name)
	}
	slices.Sort(st.SupportedModules)
	for _, names := range st.PluginsByCategory {
		slices.Sort(names)
	}
	return st
}

// Metadata returns every plugin's metadata in registration order.
func (r *Registry) Metadata() []plugin.Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]plugin.Metadata, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name].Metadata())
	}
	return out
}

// compatible requires requested and provided to share a major version.
func compatible(requested, provided string) error {
	req := canonicalVersion(requested)
	if !semver.IsValid(req) {
		return fmt.Errorf("version %q is not a valid semantic version", requested)
	}
	if semver.Major(req) != semver.Major(canonicalVersion(provided)) {
		return fmt.Errorf("version %s is not compatible with plugin version %s", requested, provided)
	}
	return nil
}

func canonicalVersion(v string) string {
	if v != "" && !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
