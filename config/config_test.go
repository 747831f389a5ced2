package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
)

// Test basic config structure
func TestConfig_Structure(t *testing.T) {
	cfg := &Config{
		Platform: PlatformConfig{
			Org:  "acme",
			ID:   "bridge1",
			Type: "plant",
			Site: "refinery_east",
		},
		NATS: NATSConfig{
			URLs: []string{"nats://localhost:4222"},
		},
		OPCUA: OPCUAConfig{
			Endpoint: "opc.tcp://127.0.0.1:4840/",
		},
	}

	assert.Equal(t, "bridge1", cfg.Platform.ID)
	assert.Equal(t, "refinery_east", cfg.Platform.Site)
	assert.Equal(t, "opc.tcp://127.0.0.1:4840/", cfg.OPCUA.Endpoint)
}

func TestLoader_LoadJSON(t *testing.T) {
	// Create test config file
	testConfig := `{
		"platform": {
			"org": "acme",
			"id": "refinery_east_bridge",
			"type": "plant",
			"site": "refinery_east"
		},
		"nats": {
			"urls": ["nats://localhost:4222", "nats://localhost:4223"],
			"max_reconnects": 10,
			"reconnect_wait": "5s"
		},
		"opcua": {
			"endpoint": "opc.tcp://plant-gateway:4840/",
			"security_policy": "None",
			"subscribe_interval": "500ms"
		},
		"gateway": {
			"port": 8080,
			"read_timeout": "30s"
		}
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	// Load config
	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Verify loaded values
	assert.Equal(t, "refinery_east_bridge", cfg.Platform.ID)
	assert.Equal(t, "plant", cfg.Platform.Type)
	assert.Equal(t, "refinery_east", cfg.Platform.Site)
	assert.Len(t, cfg.NATS.URLs, 2)
	assert.Equal(t, 10, cfg.NATS.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, "opc.tcp://plant-gateway:4840/", cfg.OPCUA.Endpoint)
	assert.Equal(t, 500*time.Millisecond, cfg.OPCUA.SubscribeInterval)
	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Equal(t, 30*time.Second, cfg.Gateway.ReadTimeout)
}

func TestLoader_LoadYAML(t *testing.T) {
	testConfig := `
platform:
  org: acme
  id: refinery_east_bridge
  type: plant
nats:
  urls:
    - nats://localhost:4222
  reconnect_wait: 3s
opcua:
  endpoint: opc.tcp://plant-gateway:4840/
  security_policy: Basic256Sha256
  security_mode: SignAndEncrypt
  certs_dir: /tmp/certs
`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	assert.Equal(t, "refinery_east_bridge", cfg.Platform.ID)
	assert.Equal(t, 3*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, "Basic256Sha256", cfg.OPCUA.SecurityPolicy)
	assert.Equal(t, "SignAndEncrypt", cfg.OPCUA.SecurityMode)
}

// Test default values
func TestLoader_Defaults(t *testing.T) {
	// Minimal config with missing fields
	testConfig := `{
		"platform": {
			"org": "acme",
			"id": "test-bridge"
		}
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	// Check defaults were applied
	assert.Equal(t, "plant", cfg.Platform.Type)                       // default type
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs) // default URL
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)                       // default infinite reconnects
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)            // default wait
	assert.True(t, cfg.NATS.JetStream.Enabled)                        // default enabled
	assert.Equal(t, "opc.tcp://127.0.0.1:4840/", cfg.OPCUA.Endpoint)  // default endpoint
	assert.Equal(t, "None", cfg.OPCUA.SecurityPolicy)
	assert.Equal(t, time.Second, cfg.OPCUA.SubscribeInterval)
	assert.Equal(t, 8000, cfg.Gateway.Port)
	assert.Equal(t, "/tmp/certs", cfg.OPCUA.CertsDir)
}

// Test environment variable overrides
func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("DIAS_PLATFORM_ID", "env-bridge")
	t.Setenv("DIAS_NATS_URLS", "nats://env1:4222,nats://env2:4222")
	t.Setenv("DIAS_OPCUA_ENDPOINT", "opc.tcp://env-plant:4840/")

	testConfig := `{
		"platform": {
			"org": "acme",
			"id": "file-bridge"
		},
		"opcua": {
			"endpoint": "opc.tcp://file-plant:4840/"
		}
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	// Environment wins over file
	assert.Equal(t, "env-bridge", cfg.Platform.ID)
	assert.Equal(t, []string{"nats://env1:4222", "nats://env2:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "opc.tcp://env-plant:4840/", cfg.OPCUA.Endpoint)
}

func TestLoader_Validation(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		wantError string
	}{
		{
			name: "missing org",
			config: `{
				"platform": {
					"id": "bridge1"
				}
			}`,
			wantError: "platform.org is required",
		},
		{
			name: "missing platform ID",
			config: `{
				"platform": {
					"org": "acme"
				}
			}`,
			wantError: "platform.id is required",
		},
		{
			name: "bad endpoint scheme",
			config: `{
				"platform": {
					"org": "acme",
					"id": "bridge1"
				},
				"opcua": {
					"endpoint": "http://plant:4840/"
				}
			}`,
			wantError: "endpoint must start with opc.tcp://",
		},
		{
			name: "secure policy without certificate",
			config: `{
				"platform": {
					"org": "acme",
					"id": "bridge1"
				},
				"opcua": {
					"endpoint": "opc.tcp://plant:4840/",
					"security_policy": "Basic256Sha256",
					"certs_dir": ""
				}
			}`,
			wantError: "requires cert_file or certs_dir",
		},
		{
			name: "invalid security mode",
			config: `{
				"platform": {
					"org": "acme",
					"id": "bridge1"
				},
				"opcua": {
					"security_mode": "Encrypt"
				}
			}`,
			wantError: "invalid security_mode",
		},
		{
			name: "gateway port out of range",
			config: `{
				"platform": {
					"org": "acme",
					"id": "bridge1"
				},
				"gateway": {
					"port": 99999
				}
			}`,
			wantError: "out of range",
		},
		{
			name: "invalid component config - empty type",
			config: `{
				"platform": {
					"org": "acme",
					"id": "bridge1"
				},
				"components": {
					"opcua-plant-1": {
						"name": "opcua",
						"type": "",
						"enabled": true
					}
				}
			}`,
			wantError: "component type validation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configFile := filepath.Join(tmpDir, "config.json")
			err := os.WriteFile(configFile, []byte(tt.config), 0644)
			require.NoError(t, err)

			loader := NewLoader()
			loader.EnableValidation(true)

			_, err = loader.LoadFile(configFile)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

// "certs_dir": "" above must actually override the default. The loader
// skips nil values during merge but keeps empty strings, so verify.
func TestLoader_EmptyStringOverridesDefault(t *testing.T) {
	testConfig := `{
		"platform": {"org": "acme", "id": "bridge1"},
		"opcua": {"certs_dir": ""}
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(configFile, []byte(testConfig), 0644))

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)
	assert.Equal(t, "", cfg.OPCUA.CertsDir)
}

func TestConfig_Components(t *testing.T) {
	testConfig := `{
		"platform": {
			"org": "acme",
			"id": "bridge1"
		},
		"components": {
			"opcua-plant-1": {
				"name": "opcua",
				"type": "input",
				"enabled": true,
				"config": {"endpoint": "opc.tcp://plant:4840/"}
			},
			"modbus-pump": {
				"name": "modbus",
				"type": "input",
				"enabled": false
			}
		}
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(configFile, []byte(testConfig), 0644))

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	require.Len(t, cfg.Components, 2)

	plant := cfg.Components["opcua-plant-1"]
	assert.Equal(t, "opcua", plant.Name)
	assert.True(t, plant.Enabled)

	var uaCfg map[string]any
	require.NoError(t, json.Unmarshal(plant.Config, &uaCfg))
	assert.Equal(t, "opc.tcp://plant:4840/", uaCfg["endpoint"])

	pump := cfg.Components["modbus-pump"]
	assert.False(t, pump.Enabled)
}

func TestLoader_LayeredMerge(t *testing.T) {
	baseConfig := `{
		"platform": {
			"org": "acme",
			"id": "bridge1",
			"site": "refinery_east"
		},
		"nats": {
			"urls": ["nats://base:4222"]
		},
		"opcua": {
			"endpoint": "opc.tcp://base:4840/",
			"security_policy": "None"
		}
	}`
	overrideConfig := `{
		"platform": {
			"id": "bridge2"
		},
		"opcua": {
			"endpoint": "opc.tcp://override:4840/"
		}
	}`

	tmpDir := t.TempDir()
	baseFile := filepath.Join(tmpDir, "base.json")
	overrideFile := filepath.Join(tmpDir, "override.json")
	require.NoError(t, os.WriteFile(baseFile, []byte(baseConfig), 0644))
	require.NoError(t, os.WriteFile(overrideFile, []byte(overrideConfig), 0644))

	loader := NewLoader()
	loader.AddLayer(baseFile)
	loader.AddLayer(overrideFile)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "bridge2", cfg.Platform.ID)                      // from override
	assert.Equal(t, "refinery_east", cfg.Platform.Site)              // from base
	assert.Equal(t, []string{"nats://base:4222"}, cfg.NATS.URLs)     // from base
	assert.Equal(t, "opc.tcp://override:4840/", cfg.OPCUA.Endpoint)  // from override
	assert.Equal(t, "None", cfg.OPCUA.SecurityPolicy)                // from base
}

func TestConfig_Save(t *testing.T) {
	cfg := &Config{
		Version: "1.2.0",
		Platform: PlatformConfig{
			Org:  "acme",
			ID:   "bridge1",
			Site: "refinery_east",
		},
		NATS: NATSConfig{
			URLs: []string{"nats://localhost:4222"},
		},
		OPCUA: OPCUAConfig{
			Endpoint:       "opc.tcp://plant:4840/",
			SecurityPolicy: "None",
		},
		Components: ComponentConfigs{
			"opcua-plant-1": component.InstanceConfig{
				Name:    "opcua",
				Type:    "input",
				Enabled: true,
				Config:  json.RawMessage(`{}`),
			},
		},
	}

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved.json")

	err := cfg.SaveToFile(configFile)
	require.NoError(t, err)

	loader := NewLoader()
	loaded, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	assert.Equal(t, cfg.Version, loaded.Version)
	assert.Equal(t, cfg.Platform.ID, loaded.Platform.ID)
	assert.Equal(t, cfg.Platform.Site, loaded.Platform.Site)
	assert.Equal(t, cfg.OPCUA.Endpoint, loaded.OPCUA.Endpoint)
	require.Contains(t, loaded.Components, "opcua-plant-1")
	assert.Equal(t, "opcua", loaded.Components["opcua-plant-1"].Name)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2  string
		want    int
		wantErr bool
	}{
		{"1.0.0", "1.0.0", 0, false},
		{"1.2.0", "1.1.9", 1, false},
		{"1.0.0", "2.0.0", -1, false},
		{"v1.0.1", "1.0.0", 1, false},
		{"1.0", "1.0.0", 0, true},
		{"", "1.0.0", 0, true},
	}

	for _, tt := range tests {
		got, err := CompareVersions(tt.v1, tt.v2)
		if tt.wantErr {
			assert.Error(t, err, "%s vs %s", tt.v1, tt.v2)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.v1, tt.v2)
	}
}

func TestParseDurationWithDays(t *testing.T) {
	d, err := parseDurationWithDays("14d")
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, d)

	d, err = parseDurationWithDays("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDurationWithDays("xd")
	assert.Error(t, err)
}
