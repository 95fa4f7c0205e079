package loader

import (
	"slices"
	"strings"
	"time"

	"github.com/HerbHall/servicedesk/internal/registry"
	"github.com/HerbHall/servicedesk/pkg/plugin"
)

// ModuleStatus is the reported state of one configured module.
type ModuleStatus struct {
	Name         string          `json:"name"`
	Category     plugin.Category `json:"category"`
	Version      string          `json:"version"`
	Dependencies []string        `json:"dependencies"`
	Loaded       bool            `json:"loaded"`
	InstanceID   string          `json:"instance_id,omitempty"`
	LoadedAt     *time.Time      `json:"loaded_at,omitempty"`
}

// Status combines loader state with registry statistics.
type Status struct {
	Configured int            `json:"configured"`
	Loaded     int            `json:"loaded"`
	Modules    []ModuleStatus `json:"modules"`
	Registry   registry.Stats `json:"registry"`
}

// PluginInfo describes the plugins available to the loader.
type PluginInfo struct {
	Stats   registry.Stats    `json:"stats"`
	Plugins []plugin.Metadata `json:"plugins"`
}

// Status reports every known descriptor, sorted by name.
func (l *Loader) Status() Status {
	l.mu.RLock()
	mods := make([]ModuleStatus, 0, len(l.modules))
	for name, d := range l.modules {
		ms := ModuleStatus{
			Name:         name,
			Category:     d.Category,
			Version:      d.Version,
			Dependencies: slices.Clone(d.Dependencies),
		}
		if lm, ok := l.loaded[name]; ok {
			at := lm.loadedAt
			ms.Loaded = true
			ms.InstanceID = lm.id
			ms.LoadedAt = &at
		}
		mods = append(mods, ms)
	}
	loaded := len(l.loaded)
	l.mu.RUnlock()

	slices.SortFunc(mods, func(a, b ModuleStatus) int { return strings.Compare(a.Name, b.Name) })
	return Status{
		Configured: len(mods),
		Loaded:     loaded,
		Modules:    mods,
		Registry:   l.registry.Stats(),
	}
}

// ModuleStatus reports a single descriptor.
func (l *Loader) ModuleStatus(name string) (ModuleStatus, bool) {
	for _, ms := range l.Status().Modules {
		if ms.Name == name {
			return ms, true
		}
	}
	return ModuleStatus{}, false
}

// PluginInfo reports registry statistics and plugin metadata.
func (l *Loader) PluginInfo() PluginInfo {
	return PluginInfo{
		Stats:   l.registry.Stats(),
		Plugins: l.registry.Metadata(),
	}
}
