package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
)

// Strategy selects a cache implementation by name, usually from a
// component's configuration block.
type Strategy string

const (
	StrategySimple Strategy = "simple"
	StrategyTTL    Strategy = "ttl"
)

// Config is the serializable cache configuration embedded in component
// configs. Durations accept both Go duration strings ("5m") and raw
// nanosecond integers.
type Config struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	Strategy        Strategy      `json:"strategy" yaml:"strategy"`
	TTL             time.Duration `json:"ttl" yaml:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultConfig enables a TTL cache sized for history lookups.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Strategy:        StrategyTTL,
		TTL:             5 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Strategy {
	case StrategySimple:
	case StrategyTTL:
		if c.TTL <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
				fmt.Sprintf("ttl must be positive, got %v", c.TTL))
		}
		if c.CleanupInterval <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
				fmt.Sprintf("cleanup_interval must be positive, got %v", c.CleanupInterval))
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("unknown cache strategy %q", c.Strategy))
	}
	return nil
}

// NewFromConfig builds the cache a config asks for. A disabled config
// yields the noop cache so callers never need a nil check.
func NewFromConfig[V any](ctx context.Context, config Config, options ...Option[V]) (Cache[V], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "NewFromConfig", "config validation failed")
	}
	if !config.Enabled {
		return NewNoop[V](), nil
	}

	switch config.Strategy {
	case StrategySimple:
		return NewSimple[V](options...)
	default:
		return NewTTL[V](ctx, config.TTL, config.CleanupInterval, options...)
	}
}

// NewTTL builds a cache whose entries expire ttl after each write. The
// background sweep runs every sweepInterval until ctx is cancelled or
// Close is called.
func NewTTL[V any](ctx context.Context, ttl, sweepInterval time.Duration, options ...Option[V]) (Cache[V], error) {
	return newTTLCache[V](ctx, ttl, sweepInterval, applyOptions(options...))
}

// NewSimple builds a cache with no eviction policy.
func NewSimple[V any](options ...Option[V]) (Cache[V], error) {
	return newSimpleCache[V](applyOptions(options...))
}

// UnmarshalJSON accepts duration strings for the TTL fields.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		TTL             json.RawMessage `json:"ttl,omitempty"`
		CleanupInterval json.RawMessage `json:"cleanup_interval,omitempty"`
		*plain
	}{plain: (*plain)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if len(aux.TTL) > 0 {
		if c.TTL, err = parseDuration(aux.TTL, "ttl"); err != nil {
			return err
		}
	}
	if len(aux.CleanupInterval) > 0 {
		if c.CleanupInterval, err = parseDuration(aux.CleanupInterval, "cleanup_interval"); err != nil {
			return err
		}
	}
	return nil
}

func parseDuration(data json.RawMessage, field string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		d, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %w", field, err)
		}
		return d, nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("%s must be a duration string or integer nanoseconds", field)
	}
	return time.Duration(nsec), nil
}
