// Package config loads process configuration with Viper and exposes it
// through the plugin.Config interface.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/servicedesk/pkg/plugin"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (SERVICEDESK_SERVER_PORT).
const EnvPrefix = "SERVICEDESK"

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig implements plugin.Config on top of a *viper.Viper.
type ViperConfig struct {
	v *viper.Viper
}

// New wraps v. A nil v behaves as an empty configuration.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

// Load reads the YAML file at path (optional) and applies defaults and
// environment overrides.
func Load(path string) (*ViperConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}
	return New(v), nil
}

func (c *ViperConfig) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

func (c *ViperConfig) Get(key string) any {
	return c.v.Get(key)
}

func (c *ViperConfig) GetString(key string) string {
	return c.v.GetString(key)
}

func (c *ViperConfig) GetInt(key string) int {
	return c.v.GetInt(key)
}

func (c *ViperConfig) GetBool(key string) bool {
	return c.v.GetBool(key)
}

func (c *ViperConfig) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

func (c *ViperConfig) IsSet(key string) bool {
	return c.v.IsSet(key)
}

// Sub returns the subtree at key. A missing key yields an empty Config, never nil.
func (c *ViperConfig) Sub(key string) plugin.Config {
	return New(c.v.Sub(key))
}
