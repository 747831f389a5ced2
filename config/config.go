package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/pkg/security"
)

// ComponentConfigs maps instance names (e.g. "opcua-plant-1") to their
// configuration. An instance is only created when its factory is
// registered and its entry here has enabled=true.
type ComponentConfigs map[string]component.InstanceConfig

// Config is the complete application configuration.
type Config struct {
	Version    string           `json:"version"` // semver, gates KV sync
	Platform   PlatformConfig   `json:"platform"`
	Security   security.Config  `json:"security,omitempty"`
	NATS       NATSConfig       `json:"nats"`
	Gateway    GatewayConfig    `json:"gateway,omitempty"`
	OPCUA      OPCUAConfig      `json:"opcua,omitempty"`
	Simulator  SimulatorConfig  `json:"simulator,omitempty"`
	Components ComponentConfigs `json:"components"`
}

// PlatformConfig identifies this bridge inside the org.
type PlatformConfig struct {
	Org  string `json:"org"`            // organization namespace, lowercased
	ID   string `json:"id"`             // bridge identifier
	Site string `json:"site,omitempty"` // plant site, e.g. "refinery_east"
	Type string `json:"type,omitempty"` // plant, line, lab

	InstanceID  string `json:"instance_id,omitempty"` // multi-site, e.g. "east-1"
	Environment string `json:"environment,omitempty"` // prod, dev, test
}

// NATSConfig holds the connection settings for the NATS backbone.
type NATSConfig struct {
	URLs          []string        `json:"urls,omitempty"`
	MaxReconnects int             `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration   `json:"reconnect_wait,omitempty"`
	Username      string          `json:"username,omitempty"`
	Password      string          `json:"password,omitempty"`
	Token         string          `json:"token,omitempty"`
	TLS           NATSTLSConfig   `json:"tls,omitempty"`
	JetStream     JetStreamConfig `json:"jetstream,omitempty"`
}

type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

type JetStreamConfig struct {
	Enabled           bool   `json:"enabled"`
	Domain            string `json:"domain,omitempty"`
	MaxMemory         int64  `json:"max_memory,omitempty"`
	MaxFileStore      int64  `json:"max_file_store,omitempty"`
	RetentionPolicy   string `json:"retention_policy,omitempty"`
	ReplicationFactor int    `json:"replication_factor,omitempty"`
}

// GatewayConfig holds the HTTP gateway settings.
type GatewayConfig struct {
	Host         string        `json:"host,omitempty"`
	Port         int           `json:"port,omitempty"`
	ReadTimeout  time.Duration `json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty"`
	MaxBodyBytes int64         `json:"max_body_bytes,omitempty"`

	// SSE fan-out rate limit, events per second per consumer
	StreamRate  float64 `json:"stream_rate,omitempty"`
	StreamBurst int     `json:"stream_burst,omitempty"`
}

// OPCUAConfig holds the default OPC UA connection settings. Component
// instances may override these per connection.
type OPCUAConfig struct {
	Endpoint       string `json:"endpoint,omitempty"`        // opc.tcp://host:4840/path
	SecurityPolicy string `json:"security_policy,omitempty"` // None, Basic256Sha256, ...
	SecurityMode   string `json:"security_mode,omitempty"`   // None, Sign, SignAndEncrypt
	CertFile       string `json:"cert_file,omitempty"`
	KeyFile        string `json:"key_file,omitempty"`
	CertsDir       string `json:"certs_dir,omitempty"` // managed certificate directory
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`

	SubscribeInterval time.Duration `json:"subscribe_interval,omitempty"`
}

// SimulatorConfig controls the embedded plant simulator.
type SimulatorConfig struct {
	Enabled        bool          `json:"enabled"`
	UpdateInterval time.Duration `json:"update_interval,omitempty"`
	ModbusEnabled  bool          `json:"modbus_enabled,omitempty"`
	ModbusPort     int           `json:"modbus_port,omitempty"`
}

// SafeConfig guards a Config for concurrent readers and a writer (the
// config manager applying a KV update).
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy, so callers can read it without holding any
// lock.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update swaps in a new config after validating it.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	sc.config = cfg
	sc.mu.Unlock()
	return nil
}

// Clone deep-copies through JSON. On a marshal failure it degrades to
// a shallow copy rather than returning nil.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err == nil {
		var clone Config
		if err := json.Unmarshal(data, &clone); err == nil {
			return &clone
		}
	}

	shallow := *c
	return &shallow
}

// Validate checks the whole config. Org is lowercased in place since
// it becomes the first NATS subject token.
func (c *Config) Validate() error {
	if c.Platform.Org == "" {
		return errors.New("platform.org is required")
	}
	c.Platform.Org = strings.ToLower(c.Platform.Org)
	if !validSubjectToken(c.Platform.Org) {
		return fmt.Errorf("platform.org %q is not a valid NATS subject token", c.Platform.Org)
	}

	if c.Platform.ID == "" {
		return errors.New("platform.id is required")
	}

	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security configuration: %w", err)
	}
	if err := c.validateGateway(); err != nil {
		return fmt.Errorf("gateway configuration: %w", err)
	}
	if err := c.validateOPCUA(); err != nil {
		return fmt.Errorf("opcua configuration: %w", err)
	}

	for name, instance := range c.Components {
		if name == "" {
			return errors.New("component instance name cannot be empty")
		}
		if err := instance.Validate(); err != nil {
			return fmt.Errorf("component %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) validateGateway() error {
	if c.Gateway.Port != 0 && (c.Gateway.Port < 1 || c.Gateway.Port > 65535) {
		return fmt.Errorf("port %d out of range (1-65535)", c.Gateway.Port)
	}
	if c.Gateway.StreamRate < 0 {
		return errors.New("stream_rate must not be negative")
	}
	return nil
}

// validateOPCUA checks the connection defaults so a bad endpoint fails
// at load time rather than on first connect.
func (c *Config) validateOPCUA() error {
	if c.OPCUA.Endpoint != "" && !strings.HasPrefix(c.OPCUA.Endpoint, "opc.tcp://") {
		return fmt.Errorf("endpoint must start with opc.tcp://, got %q", c.OPCUA.Endpoint)
	}

	if c.OPCUA.SecurityPolicy != "" && c.OPCUA.SecurityPolicy != "None" {
		if c.OPCUA.CertFile == "" && c.OPCUA.CertsDir == "" {
			return fmt.Errorf("security_policy %q requires cert_file or certs_dir", c.OPCUA.SecurityPolicy)
		}
	}

	switch c.OPCUA.SecurityMode {
	case "", "None", "Sign", "SignAndEncrypt":
		return nil
	default:
		return fmt.Errorf("invalid security_mode %q (must be None, Sign or SignAndEncrypt)", c.OPCUA.SecurityMode)
	}
}

func (c *Config) validateSecurity() error {
	srv := c.Security.TLS.Server
	if srv.Enabled {
		for _, f := range []struct{ field, path string }{
			{"tls.server.cert_file", srv.CertFile},
			{"tls.server.key_file", srv.KeyFile},
		} {
			if f.path == "" {
				return fmt.Errorf("%s is required when TLS is enabled", f.field)
			}
			if _, err := os.Stat(f.path); err != nil {
				return fmt.Errorf("%s: %w", f.field, err)
			}
		}
		if err := validateTLSVersion(srv.MinVersion); err != nil {
			return fmt.Errorf("tls.server.min_version: %w", err)
		}
	}

	cli := c.Security.TLS.Client
	for i, caFile := range cli.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("tls.client.ca_files[%d]: %w", i, err)
		}
	}
	if cli.InsecureSkipVerify {
		fmt.Fprintln(os.Stderr, "WARNING: TLS certificate verification is disabled (insecure_skip_verify=true); never run production this way")
	}
	if err := validateTLSVersion(cli.MinVersion); err != nil {
		return fmt.Errorf("tls.client.min_version: %w", err)
	}

	return nil
}

func validateTLSVersion(version string) error {
	switch version {
	case "", "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

// validSubjectToken reports whether s can appear as one token of a
// NATS subject.
func validSubjectToken(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.'
	}) == -1
}

// GetOrg returns the organization namespace.
func (c *Config) GetOrg() string {
	return c.Platform.Org
}

// GetPlatform returns the bridge identifier, preferring instance_id
// when set.
func (c *Config) GetPlatform() string {
	if c.Platform.InstanceID != "" {
		return c.Platform.InstanceID
	}
	return c.Platform.ID
}

// SaveToFile writes the config as indented JSON, with path validation.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
