package testutil

import (
	"context"
	"sync"

	"github.com/HerbHall/servicedesk/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin  = (*StubPlugin)(nil)
	_ plugin.Stopper = (*StubModule)(nil)
)

// StubPlugin is a configurable plugin for registry and loader tests.
type StubPlugin struct {
	ModuleName     string
	ModuleCategory plugin.Category
	ModuleVersion  string
	Deps           []string
	CreateErr      error
	StopErr        error

	// Validate overrides ValidateConfig when set.
	Validate func(plugin.Settings) plugin.ValidationResult
	// BeforeCreate, when set, runs at the start of Create. Tests use it to
	// hold a construction open.
	BeforeCreate func()

	mu      sync.Mutex
	created int
	stopped int
}

// NewStubPlugin returns a StubPlugin in the feature category at version 1.0.0.
func NewStubPlugin(name string, deps ...string) *StubPlugin {
	return &StubPlugin{
		ModuleName:     name,
		ModuleCategory: plugin.CategoryFeature,
		ModuleVersion:  "1.0.0",
		Deps:           deps,
	}
}

// StubModule is the instance StubPlugin creates.
type StubModule struct {
	Name     string
	Settings plugin.Settings
	owner    *StubPlugin
}

// Stop records the teardown on the owning plugin.
func (m *StubModule) Stop(_ context.Context) error {
	m.owner.mu.Lock()
	defer m.owner.mu.Unlock()
	m.owner.stopped++
	return m.owner.StopErr
}

func (p *StubPlugin) Name() string              { return p.ModuleName }
func (p *StubPlugin) Category() plugin.Category { return p.ModuleCategory }
func (p *StubPlugin) Version() string           { return p.ModuleVersion }
func (p *StubPlugin) Dependencies() []string    { return p.Deps }

func (p *StubPlugin) Create(_ context.Context, deps plugin.Dependencies) (plugin.Module, error) {
	if p.BeforeCreate != nil {
		p.BeforeCreate()
	}
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	return &StubModule{Name: p.ModuleName, Settings: deps.Settings, owner: p}, nil
}

func (p *StubPlugin) ValidateConfig(s plugin.Settings) plugin.ValidationResult {
	if p.Validate != nil {
		return p.Validate(s)
	}
	return plugin.ValidationResult{IsValid: true}
}

func (p *StubPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:         p.ModuleName,
		Category:     p.ModuleCategory,
		Version:      p.ModuleVersion,
		Description:  "stub plugin " + p.ModuleName,
		Dependencies: p.Deps,
	}
}

// Created returns how many instances Create has built.
func (p *StubPlugin) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Stopped returns how many instances have been stopped.
func (p *StubPlugin) Stopped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
