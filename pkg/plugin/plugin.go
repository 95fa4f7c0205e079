// Package plugin provides the public SDK types for servicedesk modules.
// Every module type (built-in or third-party) is contributed by a Plugin that
// validates its settings and constructs the runtime instance.
package plugin

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Category groups modules in the static module configuration.
type Category string

const (
	CategoryCore        Category = "core"
	CategoryFeature     Category = "feature"
	CategoryIntegration Category = "integration"
)

// Categories returns all categories in the order the loader scans them.
func Categories() []Category {
	return []Category{CategoryCore, CategoryFeature, CategoryIntegration}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryCore, CategoryFeature, CategoryIntegration:
		return true
	}
	return false
}

// Module is the opaque runtime instance returned by Plugin.Create.
// It may implement Stopper and HealthChecker.
type Module any

// Plugin is the factory for one module type. The registry dispatches on Name.
type Plugin interface {
	// Name returns the module name this plugin builds (e.g., "health").
	Name() string

	// Category returns the configuration category the module belongs to.
	Category() Category

	// Version returns the plugin's semantic version ("v" prefix optional).
	Version() string

	// Dependencies returns the module names the built module requires.
	Dependencies() []string

	// Create builds a new module instance.
	Create(ctx context.Context, deps Dependencies) (Module, error)

	// ValidateConfig checks module settings before Create is attempted.
	ValidateConfig(settings Settings) ValidationResult

	// Metadata returns descriptive information for introspection surfaces.
	Metadata() Metadata
}

// ValidationResult is the outcome of Plugin.ValidateConfig.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// Metadata describes a plugin for documentation and status endpoints.
type Metadata struct {
	Name         string   `json:"name"`
	Category     Category `json:"category"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
	Settings     []string `json:"settings,omitempty"` // Recognized setting keys
}

// Dependencies is what the loader hands to Plugin.Create.
type Dependencies struct {
	Settings Settings    // The module's own config block
	Version  string      // Version requested by the module descriptor
	Logger   *zap.Logger // Named logger for this module
	Bus      EventBus    // Event publish/subscribe between modules
	Modules  Resolver    // Already-loaded modules
}

// Resolver locates already-loaded modules by name.
type Resolver interface {
	Resolve(name string) (Module, bool)
}

// Resolve looks up a loaded module and asserts it to T.
func Resolve[T any](r Resolver, name string) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	m, ok := r.Resolve(name)
	if !ok {
		return zero, false
	}
	t, ok := m.(T)
	return t, ok
}

// Config abstracts configuration access. Wraps Viper today, replaceable later.
type Config interface {
	Unmarshal(target any) error
	Get(key string) any
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	IsSet(key string) bool
	Sub(key string) Config
}

// Publisher sends events to the bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber receives events from the bus.
type Subscriber interface {
	Subscribe(topic string, handler EventHandler) (unsubscribe func())
}

// EventBus provides publish/subscribe between modules.
type EventBus interface {
	Publisher
	Subscriber
	PublishAsync(ctx context.Context, event Event)
	SubscribeAll(handler EventHandler) (unsubscribe func())
}

// Event represents a message on the event bus.
type Event struct {
	Topic     string
	Source    string // Module name that emitted the event
	Timestamp time.Time
	Payload   any // Type depends on topic
}

// EventHandler processes events from the bus.
type EventHandler func(ctx context.Context, event Event)
