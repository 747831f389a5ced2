package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader assembles a Config from defaults, layered files, and
// environment overrides, in that order of precedence.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

func NewLoader() *Loader {
	return &Loader{envPrefix: "DIAS"}
}

// AddLayer appends a config file. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation makes Load reject configs that fail Validate.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads a single file on top of the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer, and environment overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := defaults()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = overlay(cfg, raw)
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Platform: PlatformConfig{
			Type: "plant",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream:     JetStreamConfig{Enabled: true},
		},
		Gateway: GatewayConfig{
			Port:         8000,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			MaxBodyBytes: 1 << 20,
			StreamRate:   100,
			StreamBurst:  200,
		},
		OPCUA: OPCUAConfig{
			Endpoint:          "opc.tcp://127.0.0.1:4840/",
			SecurityPolicy:    "None",
			SecurityMode:      "None",
			CertsDir:          "/tmp/certs",
			SubscribeInterval: time.Second,
		},
		Simulator: SimulatorConfig{
			UpdateInterval: time.Second,
			ModbusPort:     1502,
		},
	}
}

// loadRaw reads one layer into a map, decoding YAML or JSON by file
// extension. Duration strings are normalized to nanoseconds here so
// the later JSON round-trip through overlay does not choke on them.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}

	normalizeDurations(raw)
	return raw, nil
}

// durationFields lists every section/field pair that humans write as a
// duration string in config files.
var durationFields = []struct {
	section string
	field   string
}{
	{"nats", "reconnect_wait"},
	{"gateway", "read_timeout"},
	{"gateway", "write_timeout"},
	{"opcua", "subscribe_interval"},
	{"simulator", "update_interval"},
}

func normalizeDurations(raw map[string]any) {
	for _, df := range durationFields {
		section, ok := raw[df.section].(map[string]any)
		if !ok {
			continue
		}
		if str, ok := section[df.field].(string); ok {
			if d, err := parseDurationWithDays(str); err == nil {
				section[df.field] = d.Nanoseconds()
			}
		}
	}
}

// overlay merges a raw layer over the base config. Both sides are
// flattened to maps, merged recursively, and decoded back, which keeps
// the merge agnostic to struct layout.
func overlay(base *Config, layer map[string]any) *Config {
	if layer == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedJSON, err := json.Marshal(mergeMaps(baseMap, layer))
	if err != nil {
		return base
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}
	return &merged
}

// mergeMaps merges src over dst recursively. Nested maps merge
// key-by-key; anything else in src replaces the dst value. Explicit
// nulls in src are ignored rather than clearing fields.
func mergeMaps(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}

	for k, v := range src {
		if v == nil {
			continue
		}
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = mergeMaps(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}

// envOverrides maps environment suffixes (after the DIAS_ prefix) to
// the field each one sets.
var envOverrides = map[string]func(*Config, string){
	"PLATFORM_ID":   func(c *Config, v string) { c.Platform.ID = v },
	"PLATFORM_SITE": func(c *Config, v string) { c.Platform.Site = v },
	"PLATFORM_TYPE": func(c *Config, v string) { c.Platform.Type = v },

	"NATS_URLS":     func(c *Config, v string) { c.NATS.URLs = strings.Split(v, ",") },
	"NATS_USERNAME": func(c *Config, v string) { c.NATS.Username = v },
	"NATS_PASSWORD": func(c *Config, v string) { c.NATS.Password = v },
	"NATS_TOKEN":    func(c *Config, v string) { c.NATS.Token = v },

	"OPCUA_ENDPOINT": func(c *Config, v string) { c.OPCUA.Endpoint = v },
	"OPCUA_USERNAME": func(c *Config, v string) { c.OPCUA.Username = v },
	"OPCUA_PASSWORD": func(c *Config, v string) { c.OPCUA.Password = v },
}

func (l *Loader) applyEnvOverrides(cfg *Config) {
	for suffix, apply := range envOverrides {
		if val := os.Getenv(l.envPrefix + "_" + suffix); val != "" {
			apply(cfg, val)
		}
	}
}
