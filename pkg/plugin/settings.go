package plugin

import (
	"fmt"
	"maps"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Settings is the opaque key-value config block of one module. Keys are
// lower snake_case because Viper lower-cases everything it loads.
type Settings map[string]any

// Clone returns a shallow copy of s. A nil receiver yields an empty map.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	maps.Copy(out, s)
	return out
}

// Decode copies s into the struct pointed to by target using mapstructure
// tags. Duration strings ("30s") are converted to time.Duration.
func (s Settings) Decode(target any) error {
	if len(s) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     target,
		TagName:    "mapstructure",
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("settings decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(s)); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

// Checker accumulates human-readable validation errors for a Settings block.
// Each method is a no-op when the key is absent unless it says otherwise.
type Checker struct {
	settings Settings
	errs     []string
}

// Check starts a validation pass over s.
func Check(s Settings) *Checker {
	return &Checker{settings: s}
}

// Bool requires key, if present, to be a boolean.
func (c *Checker) Bool(key string) *Checker {
	if v, ok := c.settings[key]; ok {
		if _, isBool := v.(bool); !isBool {
			c.Addf("%s must be a boolean", key)
		}
	}
	return c
}

// String requires key, if present, to be a string.
func (c *Checker) String(key string) *Checker {
	if v, ok := c.settings[key]; ok {
		if _, isStr := v.(string); !isStr {
			c.Addf("%s must be a string", key)
		}
	}
	return c
}

// RequiredString requires key to be a non-empty string.
func (c *Checker) RequiredString(key string) *Checker {
	v, ok := c.settings[key]
	if !ok {
		c.Addf("%s is required", key)
		return c
	}
	s, isStr := v.(string)
	if !isStr {
		c.Addf("%s must be a string", key)
		return c
	}
	if s == "" {
		c.Addf("%s must not be empty", key)
	}
	return c
}

// PositiveNumber requires key, if present, to be a number greater than zero.
func (c *Checker) PositiveNumber(key string) *Checker {
	if v, ok := c.settings[key]; ok {
		n, isNum := toFloat(v)
		if !isNum || n <= 0 {
			c.Addf("%s must be a positive number", key)
		}
	}
	return c
}

// Range requires key, if present and numeric, to lie within [lo, hi].
func (c *Checker) Range(key string, lo, hi float64) *Checker {
	if v, ok := c.settings[key]; ok {
		n, isNum := toFloat(v)
		if isNum && (n < lo || n > hi) {
			c.Addf("%s must be between %g and %g", key, lo, hi)
		}
	}
	return c
}

// Duration requires key, if present, to be a duration string such as "30s".
func (c *Checker) Duration(key string) *Checker {
	v, ok := c.settings[key]
	if !ok {
		return c
	}
	switch d := v.(type) {
	case time.Duration:
		if d <= 0 {
			c.Addf("%s must be a positive duration", key)
		}
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil || parsed <= 0 {
			c.Addf("%s must be a positive duration", key)
		}
	default:
		c.Addf("%s must be a duration string", key)
	}
	return c
}

// StringMap requires key, if present, to be a map with string values.
func (c *Checker) StringMap(key string) *Checker {
	v, ok := c.settings[key]
	if !ok {
		return c
	}
	switch m := v.(type) {
	case map[string]string:
	case map[string]any:
		for k, val := range m {
			if _, isStr := val.(string); !isStr {
				c.Addf("%s.%s must be a string", key, k)
			}
		}
	default:
		c.Addf("%s must be a map of strings", key)
	}
	return c
}

// Addf records a custom validation error.
func (c *Checker) Addf(format string, args ...any) *Checker {
	c.errs = append(c.errs, fmt.Sprintf(format, args...))
	return c
}

// Result returns the accumulated outcome.
func (c *Checker) Result() ValidationResult {
	if len(c.errs) == 0 {
		return ValidationResult{IsValid: true}
	}
	errs := make([]string, len(c.errs))
	copy(errs, c.errs)
	return ValidationResult{IsValid: false, Errors: errs}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
