package config

import (
	_ "embed"
	"fmt"
	"maps"
	"slices"

	"github.com/HerbHall/servicedesk/pkg/plugin"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultModulesYAML []byte

// ModuleEntry is the static configuration of one module.
type ModuleEntry struct {
	Enabled      bool           `mapstructure:"enabled" yaml:"enabled"`
	Version      string         `mapstructure:"version" yaml:"version"`
	Dependencies []string       `mapstructure:"dependencies" yaml:"dependencies"`
	Config       map[string]any `mapstructure:"config" yaml:"config"`
}

// Modules is the module configuration grouped by category.
type Modules struct {
	Core        map[string]ModuleEntry `mapstructure:"core" yaml:"core"`
	Feature     map[string]ModuleEntry `mapstructure:"feature" yaml:"feature"`
	Integration map[string]ModuleEntry `mapstructure:"integration" yaml:"integration"`
}

// Category returns the entries of category c (nil for unknown categories).
func (m Modules) Category(c plugin.Category) map[string]ModuleEntry {
	switch c {
	case plugin.CategoryCore:
		return m.Core
	case plugin.CategoryFeature:
		return m.Feature
	case plugin.CategoryIntegration:
		return m.Integration
	}
	return nil
}

// Names returns the module names of category c, sorted.
func (m Modules) Names(c plugin.Category) []string {
	return slices.Sorted(maps.Keys(m.Category(c)))
}

// Len returns the number of configured modules across all categories.
func (m Modules) Len() int {
	return len(m.Core) + len(m.Feature) + len(m.Integration)
}

// Merge returns a copy of m where every entry of partial replaces the entry
// of the same name and category. Neither input is modified.
func (m Modules) Merge(partial Modules) Modules {
	return Modules{
		Core:        mergeEntries(m.Core, partial.Core),
		Feature:     mergeEntries(m.Feature, partial.Feature),
		Integration: mergeEntries(m.Integration, partial.Integration),
	}
}

func mergeEntries(base, override map[string]ModuleEntry) map[string]ModuleEntry {
	out := make(map[string]ModuleEntry, len(base)+len(override))
	maps.Copy(out, base)
	maps.Copy(out, override)
	return out
}

// LoadModules decodes the "modules" section of cfg. When the section is
// absent the embedded defaults are used.
func LoadModules(cfg plugin.Config) (Modules, error) {
	if !cfg.IsSet("modules") {
		return DefaultModules()
	}
	var m Modules
	if err := cfg.Sub("modules").Unmarshal(&m); err != nil {
		return Modules{}, fmt.Errorf("decode modules config: %w", err)
	}
	return m, nil
}

// DefaultModules parses the embedded default module configuration.
func DefaultModules() (Modules, error) {
	var m Modules
	if err := yaml.Unmarshal(defaultModulesYAML, &m); err != nil {
		return Modules{}, fmt.Errorf("config: parse default modules: %w", err)
	}
	return m, nil
}
