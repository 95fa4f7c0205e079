// Package users provides the core user directory module: SQLite-backed
// accounts for the admin, employee and client portals.
package users

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/HerbHall/servicedesk/internal/store"
	"github.com/HerbHall/servicedesk/pkg/plugin"
)

// Name is the module name this plugin builds.
const Name = "users"

// Settings is the decoded module configuration.
type Settings struct {
	DSN        string `mapstructure:"dsn"`
	BcryptCost int    `mapstructure:"bcrypt_cost"`
}

// Plugin builds the user directory.
type Plugin struct{}

// New creates the users plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string              { return Name }
func (p *Plugin) Category() plugin.Category { return plugin.CategoryCore }
func (p *Plugin) Version() string           { return "1.0.0" }
func (p *Plugin) Dependencies() []string    { return nil }

func (p *Plugin) ValidateConfig(s plugin.Settings) plugin.ValidationResult {
	return plugin.Check(s).
		String("dsn").
		PositiveNumber("bcrypt_cost").
		Range("bcrypt_cost", float64(bcrypt.MinCost), float64(bcrypt.MaxCost)).
		Result()
}

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Name,
		Category:    plugin.CategoryCore,
		Version:     p.Version(),
		Description: "User directory with local password authentication",
		Settings:    []string{"dsn", "bcrypt_cost"},
	}
}

func (p *Plugin) Create(ctx context.Context, deps plugin.Dependencies) (plugin.Module, error) {
	s := Settings{DSN: ":memory:", BcryptCost: bcrypt.DefaultCost}
	if err := deps.Settings.Decode(&s); err != nil {
		return nil, err
	}

	db, err := store.New(s.DSN)
	if err != nil {
		return nil, err
	}
	dir, err := NewDirectory(ctx, db, deps.Bus, deps.Logger, s.BcryptCost)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("users: %w", err)
	}
	dir.closer = db.Close

	deps.Logger.Info("users module initialized", zap.String("dsn", s.DSN))
	return dir, nil
}
