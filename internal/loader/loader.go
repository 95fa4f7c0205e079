// Package loader turns the static module configuration into a
// dependency-ordered construction sequence and owns the built modules.
package loader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/servicedesk/internal/config"
	"github.com/HerbHall/servicedesk/internal/event"
	"github.com/HerbHall/servicedesk/internal/registry"
	"github.com/HerbHall/servicedesk/pkg/plugin"
)

// Registry is the part of *registry.Registry the loader depends on.
type Registry interface {
	Get(name string) (plugin.Plugin, bool)
	CreateModule(ctx context.Context, name string, deps plugin.Dependencies) (plugin.Module, error)
	Stats() registry.Stats
	Metadata() []plugin.Metadata
}

// Compile-time interface guards.
var (
	_ Registry        = (*registry.Registry)(nil)
	_ plugin.Resolver = (*Loader)(nil)
)

// Descriptor is the resolved configuration of one enabled module.
type Descriptor struct {
	Name         string          `json:"name"`
	Category     plugin.Category `json:"category"`
	Version      string          `json:"version"`
	Dependencies []string        `json:"dependencies"`
	Enabled      bool            `json:"enabled"`
	Config       plugin.Settings `json:"-"`
}

// LoadFailure records a module that could not be built during a pass.
type LoadFailure struct {
	Name string
	Err  error
}

// InitResult is the outcome of one initialization pass.
type InitResult struct {
	Loaded []string      // In load order
	Failed []LoadFailure // In attempt order
}

// ModuleEvent is the payload of the loader's bus events.
type ModuleEvent struct {
	Name       string
	Version    string
	InstanceID string
	Error      string
}

type loadedModule struct {
	instance plugin.Module
	id       string
	loadedAt time.Time
}

// Loader owns module descriptors and the instances built from them.
type Loader struct {
	mu       sync.RWMutex
	registry Registry
	cfg      config.Modules
	modules  map[string]Descriptor
	loaded   map[string]*loadedModule
	order    []string

	base    *zap.Logger
	logger  *zap.Logger
	bus     plugin.EventBus
	metrics *Metrics
	now     func() time.Time
}

// Option customizes a Loader.
type Option func(*Loader)

// WithBus sets the event bus given to modules and used for loader events.
func WithBus(bus plugin.EventBus) Option {
	return func(l *Loader) { l.bus = bus }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithClock overrides the time source used for load timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// New creates a Loader over reg and cfg. Nothing is built until Initialize.
func New(reg Registry, cfg config.Modules, logger *zap.Logger, opts ...Option) *Loader {
	l := &Loader{
		registry: reg,
		cfg:      cfg,
		modules:  make(map[string]Descriptor),
		loaded:   make(map[string]*loadedModule),
		base:     logger,
		logger:   logger.Named("loader"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.bus == nil {
		l.bus = event.NewBus(logger.Named("bus"))
	}
	return l
}

// Initialize builds every enabled module in dependency order. A module that
// fails is recorded in the result and skipped; the pass continues. Only a
// dependency cycle or context cancellation aborts the pass.
func (l *Loader) Initialize(ctx context.Context) (*InitResult, error) {
	l.mu.RLock()
	cfg := l.cfg
	l.mu.RUnlock()

	res := &InitResult{}
	list, dups := l.collect(cfg)
	res.Failed = append(res.Failed, dups...)

	sorted, err := SortByDependencies(list)
	if err != nil {
		l.logger.Error("module dependency resolution failed", zap.Error(err))
		return nil, fmt.Errorf("initialize modules: %w", err)
	}

	l.mu.Lock()
	for _, d := range sorted {
		l.modules[d.Name] = d
	}
	l.mu.Unlock()

	l.logger.Info("initializing modules", zap.Strings("order", names(sorted)))
	for _, d := range sorted {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("initialize modules: %w", err)
		}
		if err := l.LoadModule(ctx, d); err != nil {
			l.logger.Error("failed to load module", zap.String("module", d.Name), zap.Error(err))
			res.Failed = append(res.Failed, LoadFailure{Name: d.Name, Err: err})
			continue
		}
		res.Loaded = append(res.Loaded, d.Name)
	}

	l.logger.Info("module initialization complete",
		zap.Strings("loaded", res.Loaded),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// collect flattens the enabled entries of cfg into descriptors: core, then
// feature, then integration, names sorted within each category. A name seen
// again in a later category is reported as a failure and dropped.
func (l *Loader) collect(cfg config.Modules) ([]Descriptor, []LoadFailure) {
	var (
		list     []Descriptor
		failures []LoadFailure
		seen     = make(map[string]plugin.Category)
	)
	for _, cat := range plugin.Categories() {
		entries := cfg.Category(cat)
		for _, name := range cfg.Names(cat) {
			entry := entries[name]
			if !entry.Enabled {
				l.logger.Debug("module disabled, skipping", zap.String("module", name))
				continue
			}
			if first, dup := seen[name]; dup {
				failures = append(failures, LoadFailure{
					Name: name,
					Err:  fmt.Errorf("%w: %q in %s and %s", ErrDuplicateModule, name, first, cat),
				})
				continue
			}
			seen[name] = cat
			list = append(list, Descriptor{
				Name:         name,
				Category:     cat,
				Version:      entry.Version,
				Dependencies: l.dependencies(name, entry.Dependencies),
				Enabled:      true,
				Config:       plugin.Settings(entry.Config).Clone(),
			})
		}
	}
	return list, failures
}

// dependencies returns the configured dependencies followed by any the
// module's plugin declares that the configuration left out.
func (l *Loader) dependencies(name string, configured []string) []string {
	deps := slices.Clone(configured)
	if p, ok := l.registry.Get(name); ok {
		for _, d := range p.Dependencies() {
			if !slices.Contains(deps, d) {
				deps = append(deps, d)
			}
		}
	}
	return deps
}

// LoadModule builds d through the registry and stores the instance. Every
// dependency must already be loaded. An existing instance of the same name is
// replaced and stopped.
func (l *Loader) LoadModule(ctx context.Context, d Descriptor) error {
	l.mu.RLock()
	missing := l.missingLocked(d.Dependencies)
	l.mu.RUnlock()
	if len(missing) > 0 {
		err := &DependencyError{Module: d.Name, Missing: missing}
		l.publish(ctx, event.TopicModuleFailed, ModuleEvent{Name: d.Name, Version: d.Version, Error: err.Error()})
		return err
	}

	start := time.Now()
	inst, err := l.registry.CreateModule(ctx, d.Name, plugin.Dependencies{
		Settings: d.Config.Clone(),
		Version:  d.Version,
		Logger:   l.base.Named(d.Name),
		Bus:      l.bus,
		Modules:  l,
	})
	l.metrics.observeLoad(d.Name, err, time.Since(start))
	if err != nil {
		l.publish(ctx, event.TopicModuleFailed, ModuleEvent{Name: d.Name, Version: d.Version, Error: err.Error()})
		return err
	}

	lm := &loadedModule{instance: inst, id: uuid.NewString(), loadedAt: l.now().UTC()}

	l.mu.Lock()
	// A dependency may have been unloaded while Create ran unlocked.
	if missing := l.missingLocked(d.Dependencies); len(missing) > 0 {
		l.mu.Unlock()
		err := &DependencyError{Module: d.Name, Missing: missing}
		if stopErr := stop(ctx, inst); stopErr != nil {
			l.logger.Error("failed to stop orphaned module", zap.String("module", d.Name), zap.Error(stopErr))
		}
		l.publish(ctx, event.TopicModuleFailed, ModuleEvent{Name: d.Name, Version: d.Version, Error: err.Error()})
		return err
	}
	prev := l.loaded[d.Name]
	l.loaded[d.Name] = lm
	l.modules[d.Name] = d
	if prev == nil {
		l.order = append(l.order, d.Name)
	}
	count := len(l.loaded)
	l.mu.Unlock()

	l.metrics.setLoaded(count)
	if prev != nil {
		l.logger.Warn("replaced loaded module instance",
			zap.String("module", d.Name),
			zap.String("previous_instance", prev.id),
		)
		if err := stop(ctx, prev.instance); err != nil {
			l.logger.Error("failed to stop replaced module", zap.String("module", d.Name), zap.Error(err))
		}
	}

	l.logger.Info("module loaded",
		zap.String("module", d.Name),
		zap.String("version", d.Version),
		zap.String("instance", lm.id),
	)
	l.publish(ctx, event.TopicModuleLoaded, ModuleEvent{Name: d.Name, Version: d.Version, InstanceID: lm.id})
	return nil
}

// missingLocked returns the names in deps that have no loaded instance.
// Callers hold l.mu.
func (l *Loader) missingLocked(deps []string) []string {
	var missing []string
	for _, dep := range deps {
		if _, ok := l.loaded[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	return missing
}

// Module returns the loaded instance for name.
func (l *Loader) Module(name string) (plugin.Module, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lm, ok := l.loaded[name]
	if !ok {
		return nil, false
	}
	return lm.instance, true
}

// Resolve implements plugin.Resolver.
func (l *Loader) Resolve(name string) (plugin.Module, bool) {
	return l.Module(name)
}

// IsLoaded reports whether name has a loaded instance.
func (l *Loader) IsLoaded(name string) bool {
	_, ok := l.Module(name)
	return ok
}

// LoadedModules returns the loaded module names in load order.
func (l *Loader) LoadedModules() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.order)
}

// Descriptor returns the descriptor recorded for name.
func (l *Loader) Descriptor(name string) (Descriptor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.modules[name]
	return d, ok
}

// Unload removes a loaded module and its descriptor, then stops the
// instance. It is refused while any loaded module depends on name. A Stop
// error is returned but the module stays removed.
func (l *Loader) Unload(ctx context.Context, name string) error {
	l.mu.Lock()
	lm, ok := l.loaded[name]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotLoaded, name)
	}
	if dependents := l.dependentsLocked(name); len(dependents) > 0 {
		l.mu.Unlock()
		return &InUseError{Module: name, Dependents: dependents}
	}
	d := l.modules[name]
	delete(l.loaded, name)
	delete(l.modules, name)
	l.order = slices.DeleteFunc(l.order, func(n string) bool { return n == name })
	count := len(l.loaded)
	l.mu.Unlock()

	l.metrics.observeUnload()
	l.metrics.setLoaded(count)
	l.logger.Info("module unloaded", zap.String("module", name), zap.String("instance", lm.id))
	l.publish(ctx, event.TopicModuleUnloaded, ModuleEvent{Name: name, Version: d.Version, InstanceID: lm.id})

	if err := stop(ctx, lm.instance); err != nil {
		return fmt.Errorf("stop module %q: %w", name, err)
	}
	return nil
}

// dependentsLocked returns, sorted, the loaded modules whose descriptor lists
// name as a dependency. Callers hold l.mu.
func (l *Loader) dependentsLocked(name string) []string {
	var out []string
	for other := range l.loaded {
		if slices.Contains(l.modules[other].Dependencies, name) {
			out = append(out, other)
		}
	}
	slices.Sort(out)
	return out
}

// UpdateConfig merges partial into the module configuration, tears down every
// loaded module, and runs a fresh Initialize pass.
func (l *Loader) UpdateConfig(ctx context.Context, partial config.Modules) (*InitResult, error) {
	l.mu.Lock()
	l.cfg = l.cfg.Merge(partial)
	l.mu.Unlock()

	if err := l.teardown(ctx); err != nil {
		l.logger.Warn("errors while tearing down modules for reload", zap.Error(err))
	}
	return l.Initialize(ctx)
}

// Config returns the current module configuration.
func (l *Loader) Config() config.Modules {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Close stops every loaded module in reverse load order.
func (l *Loader) Close(ctx context.Context) error {
	return l.teardown(ctx)
}

// teardown clears all loader state and stops instances dependents-first.
func (l *Loader) teardown(ctx context.Context) error {
	l.mu.Lock()
	order := slices.Clone(l.order)
	loaded := l.loaded
	modules := l.modules
	l.loaded = make(map[string]*loadedModule)
	l.modules = make(map[string]Descriptor)
	l.order = nil
	l.mu.Unlock()

	l.metrics.setLoaded(0)

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		lm := loaded[name]
		l.metrics.observeUnload()
		l.logger.Info("stopping module", zap.String("module", name))
		if err := stop(ctx, lm.instance); err != nil {
			l.logger.Error("failed to stop module", zap.String("module", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("stop module %q: %w", name, err))
		}
		l.publish(ctx, event.TopicModuleUnloaded, ModuleEvent{Name: name, Version: modules[name].Version, InstanceID: lm.id})
	}
	return errors.Join(errs...)
}

func (l *Loader) publish(ctx context.Context, topic string, payload ModuleEvent) {
	if err := l.bus.Publish(ctx, plugin.Event{
		Topic:     topic,
		Source:    "loader",
		Timestamp: l.now().UTC(),
		Payload:   payload,
	}); err != nil {
		l.logger.Warn("failed to publish loader event", zap.String("topic", topic), zap.Error(err))
	}
}

func stop(ctx context.Context, m plugin.Module) error {
	if s, ok := m.(plugin.Stopper); ok {
		return s.Stop(ctx)
	}
	return nil
}

func names(list []Descriptor) []string {
	out := make([]string, len(list))
	for i, d := range list {
		out[i] = d.Name
	}
	return out
}
