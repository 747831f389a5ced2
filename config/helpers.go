package config

import (
	"fmt"

	"github.com/spf13/cast"
)

// Safe accessors for dynamic configuration maps. Component factories
// receive raw JSON that decodes to map[string]any; these helpers read
// it without panicking on unexpected types. Type coercion follows
// spf13/cast, so "5" and 5.0 both read as the int 5.

// GetString extracts a string value, or defaultVal on absence or
// type mismatch
func GetString(cfg map[string]any, key string, defaultVal string) string {
	val, ok := cfg[key]
	if !ok {
		return defaultVal
	}
	if str, err := cast.ToStringE(val); err == nil {
		return str
	}
	return defaultVal
}

// GetInt extracts an integer value
func GetInt(cfg map[string]any, key string, defaultVal int) int {
	val, ok := cfg[key]
	if !ok {
		return defaultVal
	}
	if n, err := cast.ToIntE(val); err == nil {
		return n
	}
	return defaultVal
}

// GetFloat64 extracts a float value
func GetFloat64(cfg map[string]any, key string, defaultVal float64) float64 {
	val, ok := cfg[key]
	if !ok {
		return defaultVal
	}
	if f, err := cast.ToFloat64E(val); err == nil {
		return f
	}
	return defaultVal
}

// GetBool extracts a boolean value
func GetBool(cfg map[string]any, key string, defaultVal bool) bool {
	val, ok := cfg[key]
	if !ok {
		return defaultVal
	}
	if b, err := cast.ToBoolE(val); err == nil {
		return b
	}
	return defaultVal
}

// GetStringSlice extracts a string slice. JSON decoding yields
// []any, which is converted element by element; a single non-string
// element rejects the whole slice.
func GetStringSlice(cfg map[string]any, key string, defaultVal []string) []string {
	val, ok := cfg[key]
	if !ok {
		return defaultVal
	}
	if slice, err := cast.ToStringSliceE(val); err == nil {
		return slice
	}
	return defaultVal
}

// GetComponentConfig extracts one component's section from a full
// configuration map
func GetComponentConfig(cfg map[string]any, name string) (map[string]any, error) {
	components, err := cast.ToStringMapE(cfg["components"])
	if err != nil || components == nil {
		return nil, fmt.Errorf("components section missing or invalid")
	}

	section, ok := components[name]
	if !ok {
		return nil, fmt.Errorf("component %s not found", name)
	}

	result, err := cast.ToStringMapE(section)
	if err != nil {
		return nil, fmt.Errorf("component %s config invalid: %w", name, err)
	}
	return result, nil
}

// descend walks a key path and returns the value at the end, reporting
// whether the full path exists
func descend(cfg map[string]any, keys []string) (any, bool) {
	current := cfg
	for i, key := range keys {
		val, ok := current[key]
		if !ok {
			return nil, false
		}
		if i == len(keys)-1 {
			return val, true
		}

		nested, err := cast.ToStringMapE(val)
		if err != nil {
			return nil, false
		}
		current = nested
	}
	return nil, false
}

// GetNestedString extracts a string at a nested key path like
// ["opcua", "endpoint"]
func GetNestedString(cfg map[string]any, keys []string, defaultVal string) string {
	val, ok := descend(cfg, keys)
	if !ok {
		return defaultVal
	}
	if str, err := cast.ToStringE(val); err == nil {
		return str
	}
	return defaultVal
}

// GetNestedInt extracts an integer at a nested key path
func GetNestedInt(cfg map[string]any, keys []string, defaultVal int) int {
	val, ok := descend(cfg, keys)
	if !ok {
		return defaultVal
	}
	if n, err := cast.ToIntE(val); err == nil {
		return n
	}
	return defaultVal
}

// GetNestedBool extracts a boolean at a nested key path
func GetNestedBool(cfg map[string]any, keys []string, defaultVal bool) bool {
	val, ok := descend(cfg, keys)
	if !ok {
		return defaultVal
	}
	if b, err := cast.ToBoolE(val); err == nil {
		return b
	}
	return defaultVal
}

// HasKey reports whether a top-level key exists
func HasKey(cfg map[string]any, key string) bool {
	_, ok := cfg[key]
	return ok
}

// HasNestedKey reports whether a full key path exists
func HasNestedKey(cfg map[string]any, keys []string) bool {
	_, ok := descend(cfg, keys)
	return ok
}
