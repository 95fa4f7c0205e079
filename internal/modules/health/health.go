// Package health provides the core module that aggregates the health of
// every other loaded module.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/servicedesk/pkg/plugin"
)

// Name is the module name this plugin builds.
const Name = "health"

// Lister enumerates loaded modules. The loader implements it.
type Lister interface {
	LoadedModules() []string
}

// Settings is the decoded module configuration.
type Settings struct {
	IncludeDetails bool          `mapstructure:"include_details"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Plugin builds the health module.
type Plugin struct{}

// New creates the health plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string              { return Name }
func (p *Plugin) Category() plugin.Category { return plugin.CategoryCore }
func (p *Plugin) Version() string           { return "1.0.0" }
func (p *Plugin) Dependencies() []string    { return nil }

func (p *Plugin) ValidateConfig(s plugin.Settings) plugin.ValidationResult {
	return plugin.Check(s).Bool("include_details").Duration("timeout").Result()
}

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Name,
		Category:    plugin.CategoryCore,
		Version:     p.Version(),
		Description: "Aggregates health reports from loaded modules",
		Settings:    []string{"include_details", "timeout"},
	}
}

func (p *Plugin) Create(_ context.Context, deps plugin.Dependencies) (plugin.Module, error) {
	s := Settings{IncludeDetails: true, Timeout: 2 * time.Second}
	if err := deps.Settings.Decode(&s); err != nil {
		return nil, err
	}
	lister, ok := deps.Modules.(Lister)
	if !ok {
		return nil, fmt.Errorf("health: module resolver %T cannot list modules", deps.Modules)
	}
	deps.Logger.Info("health module initialized", zap.Bool("include_details", s.IncludeDetails))
	return &Module{settings: s, lister: lister, resolver: deps.Modules, logger: deps.Logger}, nil
}

// Report is the aggregated health of the process.
type Report struct {
	Status  string                         `json:"status"`
	Modules map[string]plugin.HealthStatus `json:"modules,omitempty"`
}

// Module is the runtime health aggregator.
type Module struct {
	settings Settings
	lister   Lister
	resolver plugin.Resolver
	logger   *zap.Logger
}

// Check asks every loaded plugin.HealthChecker for its status. The overall
// status is the worst one reported.
func (m *Module) Check(ctx context.Context) Report {
	report := Report{Status: plugin.StatusHealthy}
	details := make(map[string]plugin.HealthStatus)

	for _, name := range m.lister.LoadedModules() {
		if name == Name {
			continue
		}
		hc, ok := plugin.Resolve[plugin.HealthChecker](m.resolver, name)
		if !ok {
			continue
		}
		st := m.checkOne(ctx, name, hc)
		details[name] = st
		if rank(st.Status) > rank(report.Status) {
			report.Status = st.Status
		}
	}

	if m.settings.IncludeDetails {
		report.Modules = details
	}
	return report
}

func (m *Module) checkOne(ctx context.Context, name string, hc plugin.HealthChecker) plugin.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, m.settings.Timeout)
	defer cancel()

	// Checkers that ignore ctx are abandoned at the deadline.
	result := make(chan plugin.HealthStatus, 1)
	go func() { result <- hc.Health(ctx) }()

	var st plugin.HealthStatus
	select {
	case st = <-result:
	case <-ctx.Done():
		st = plugin.HealthStatus{
			Status:  plugin.StatusUnhealthy,
			Message: "health check did not finish: " + ctx.Err().Error(),
		}
	}
	if st.Status == "" {
		st.Status = plugin.StatusUnhealthy
		st.Message = "module reported no status"
	}
	if st.Status != plugin.StatusHealthy {
		m.logger.Warn("module not healthy", zap.String("module", name), zap.String("status", st.Status))
	}
	return st
}

func rank(status string) int {
	switch status {
	case plugin.StatusHealthy:
		return 0
	case plugin.StatusDegraded:
		return 1
	}
	return 2
}
