package gateway

import (
	"fmt"
	"time"

	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
)

// Config holds configuration for gateway components
type Config struct {
	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `json:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (required when EnableCORS is true)
	// Use ["*"] for development only - production should specify exact origins
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes (default: 1MB)
	MaxRequestSize int64 `json:"max_request_size,omitempty"`

	// RequestTimeoutStr bounds each OPC UA operation (default: "10s")
	RequestTimeoutStr string `json:"request_timeout,omitempty"`

	// StreamRate caps data-change events per second delivered to each
	// stream client (default: 100). Excess events are dropped per client.
	StreamRate float64 `json:"stream_rate,omitempty"`

	// StreamBurst is the per-client rate limiter burst (default: 25)
	StreamBurst int `json:"stream_burst,omitempty"`

	// CertsDir is where managed client certificates live (default: /tmp/certs)
	CertsDir string `json:"certs_dir,omitempty"`

	// timeout is the parsed duration (internal use)
	timeout time.Duration
}

// Validate ensures the gateway configuration is valid
func (c *Config) Validate() error {
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}

	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 1024 * 1024 // 1MB default
	}

	if c.MaxRequestSize > 100*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 100MB")
	}

	if c.RequestTimeoutStr == "" {
		c.timeout = 10 * time.Second // default
	} else {
		parsedTimeout, err := time.ParseDuration(c.RequestTimeoutStr)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "Validate",
				fmt.Sprintf("invalid timeout format: %s", c.RequestTimeoutStr))
		}
		c.timeout = parsedTimeout
	}

	// Validate timeout range (100ms to 60s)
	if c.timeout < 100*time.Millisecond || c.timeout > 60*time.Second {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"request_timeout must be between 100ms and 60s")
	}

	if c.StreamRate < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"stream_rate cannot be negative")
	}
	if c.StreamRate == 0 {
		c.StreamRate = 100
	}

	if c.StreamBurst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"stream_burst cannot be negative")
	}
	if c.StreamBurst == 0 {
		c.StreamBurst = 25
	}

	// CORS requires explicit origin configuration for security
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}

	return nil
}

// RequestTimeout returns the parsed per-operation timeout
func (c *Config) RequestTimeout() time.Duration {
	return c.timeout
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		EnableCORS:     false, // Disabled by default (requires explicit configuration)
		CORSOrigins:    []string{},
		MaxRequestSize: 1024 * 1024, // 1MB
		StreamRate:     100,
		StreamBurst:    25,
		timeout:        10 * time.Second,
	}
}
