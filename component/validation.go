package component

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
)

// Limits applied to every component config before it reaches a factory.
// Configs arrive over NATS KV and the HTTP gateway, so they are treated
// as untrusted input.
const (
	MaxStringLength = 1024
	MaxJSONSize     = 1024 * 1024
	MinPort         = 1
	MaxPort         = 65535

	maxConfigDepth = 10
	maxConfigArray = 1000
)

// Validatable lets a config struct run its own checks after decoding.
type Validatable interface {
	Validate() error
}

// ValidateFactoryConfig bounds-checks raw JSON config: total size,
// nesting depth, array and string sizes, and control characters in
// strings and keys. An empty config passes, components fall back to
// their defaults.
func ValidateFactoryConfig(rawConfig json.RawMessage) error {
	if len(rawConfig) > MaxJSONSize {
		return errors.WrapInvalid(
			fmt.Errorf("config size %d exceeds maximum %d", len(rawConfig), MaxJSONSize),
			"ConfigValidator", "ValidateFactoryConfig", "size check")
	}
	if len(rawConfig) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(rawConfig))
	decoder.UseNumber()

	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return errors.WrapInvalid(err, "ConfigValidator", "ValidateFactoryConfig", "JSON parsing")
	}

	if err := checkValue(doc, 0); err != nil {
		return errors.Wrap(err, "ConfigValidator", "ValidateFactoryConfig", "deep validation")
	}
	return nil
}

func checkValue(value any, depth int) error {
	if depth > maxConfigDepth {
		return errors.WrapInvalid(
			fmt.Errorf("JSON depth %d exceeds maximum %d", depth, maxConfigDepth),
			"ConfigValidator", "checkValue", "depth check")
	}

	switch val := value.(type) {
	case string:
		return checkString(val)

	case json.Number:
		if _, err := val.Int64(); err == nil {
			return nil
		}
		if _, err := val.Float64(); err != nil {
			return errors.WrapInvalid(err, "ConfigValidator", "checkValue", "number validation")
		}

	case []any:
		if len(val) > maxConfigArray {
			return errors.WrapInvalid(
				fmt.Errorf("array size %d exceeds maximum %d", len(val), maxConfigArray),
				"ConfigValidator", "checkValue", "array size check")
		}
		for i, elem := range val {
			if err := checkValue(elem, depth+1); err != nil {
				return errors.Wrap(err, "ConfigValidator", "checkValue",
					fmt.Sprintf("array element %d", i))
			}
		}

	case map[string]any:
		for key, field := range val {
			if err := checkString(key); err != nil {
				return errors.Wrap(err, "ConfigValidator", "checkValue",
					fmt.Sprintf("key %q", key))
			}
			if err := checkValue(field, depth+1); err != nil {
				return errors.Wrap(err, "ConfigValidator", "checkValue",
					fmt.Sprintf("object field %q", key))
			}
		}

	case bool, nil:

	default:
		return errors.WrapInvalid(
			fmt.Errorf("unexpected type %T in config", value),
			"ConfigValidator", "checkValue", "type check")
	}

	return nil
}

func checkString(s string) error {
	if len(s) > MaxStringLength {
		return errors.WrapInvalid(
			fmt.Errorf("string length %d exceeds maximum %d", len(s), MaxStringLength),
			"ConfigValidator", "checkString", "string length check")
	}
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return errors.WrapInvalid(
				fmt.Errorf("string contains control character: 0x%02x", r),
				"ConfigValidator", "checkString", "control character check")
		}
	}
	return nil
}

// SafeUnmarshal is the gate between raw config and a component's typed
// config struct. It bounds-checks the JSON, decodes into target, and
// runs target.Validate when the struct implements Validatable.
func SafeUnmarshal(rawConfig json.RawMessage, target any) error {
	if err := ValidateFactoryConfig(rawConfig); err != nil {
		return errors.Wrap(err, "ConfigValidator", "SafeUnmarshal", "config validation")
	}
	if len(rawConfig) == 0 {
		return nil
	}

	if reflect.TypeOf(target).Kind() != reflect.Ptr {
		return errors.WrapInvalid(
			fmt.Errorf("target must be a pointer, got %T", target),
			"ConfigValidator", "SafeUnmarshal", "target type check")
	}

	if err := json.Unmarshal(rawConfig, target); err != nil {
		return errors.WrapInvalid(err, "ConfigValidator", "SafeUnmarshal", "JSON unmarshaling")
	}

	if validatable, ok := target.(Validatable); ok {
		if err := validatable.Validate(); err != nil {
			return errors.Wrap(err, "ConfigValidator", "SafeUnmarshal", "struct validation")
		}
	}
	return nil
}

func nameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.'
}

// ValidateComponentName restricts instance names to alphanumerics,
// dash, underscore, and dot. Names become NATS KV keys and metric
// labels, so anything else is rejected.
func ValidateComponentName(name string) error {
	switch {
	case name == "":
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"ConfigValidator", "ValidateComponentName", "empty name")
	case len(name) > MaxStringLength:
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"ConfigValidator", "ValidateComponentName", "name too long")
	case strings.IndexFunc(name, func(r rune) bool { return !nameRune(r) }) >= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"ConfigValidator", "ValidateComponentName", "invalid name characters")
	}
	return nil
}

func ValidatePortNumber(port int) error {
	if port < MinPort || port > MaxPort {
		return errors.WrapInvalid(
			fmt.Errorf("port %d outside valid range %d-%d", port, MinPort, MaxPort),
			"ConfigValidator", "ValidatePortNumber", "port range validation")
	}
	return nil
}

// ValidateNetworkConfig checks a listener port and bind address. The
// address may be empty or "*" for all interfaces, otherwise it must
// parse as an IP.
func ValidateNetworkConfig(port int, bindAddr string) error {
	if err := ValidatePortNumber(port); err != nil {
		return err
	}
	if bindAddr == "" || bindAddr == "*" {
		return nil
	}
	if net.ParseIP(bindAddr) == nil {
		return errors.WrapInvalid(
			fmt.Errorf("invalid bind address: %s", bindAddr),
			"ConfigValidator", "ValidateNetworkConfig", "address format check")
	}
	return nil
}
