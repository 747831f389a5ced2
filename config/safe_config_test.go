package config

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
)

func TestSafeConfig_NilBase(t *testing.T) {
	sc := NewSafeConfig(nil)
	assert.NotNil(t, sc.Get())
	assert.Error(t, sc.Update(nil))
}

func TestSafeConfig_UpdateValidates(t *testing.T) {
	sc := NewSafeConfig(&Config{
		Platform: PlatformConfig{Org: "acme", ID: "bridge1"},
	})

	// missing platform.id must be rejected and leave the old config in
	// place
	err := sc.Update(&Config{Platform: PlatformConfig{Org: "acme"}})
	require.Error(t, err)
	assert.Equal(t, "bridge1", sc.Get().Platform.ID)
}

func TestSafeConfig_GetReturnsIndependentCopies(t *testing.T) {
	sc := NewSafeConfig(&Config{
		Platform: PlatformConfig{Org: "acme", ID: "bridge1", InstanceID: "east-1"},
		NATS:     NATSConfig{URLs: []string{"nats://localhost:4222"}},
		Components: ComponentConfigs{
			"opcua-plant-1": component.InstanceConfig{
				Name: "opcua", Type: "input", Enabled: true,
				Config: json.RawMessage(`{}`),
			},
		},
	})

	a := sc.Get()
	a.Platform.ID = "mutated"
	a.NATS.URLs = append(a.NATS.URLs, "nats://other:4222")
	a.Components["injected"] = component.InstanceConfig{}

	b := sc.Get()
	assert.Equal(t, "bridge1", b.Platform.ID)
	assert.Len(t, b.NATS.URLs, 1)
	assert.Len(t, b.Components, 1)
}

func TestSafeConfig_ConcurrentReadersAndWriters(t *testing.T) {
	sc := NewSafeConfig(&Config{
		Platform:   PlatformConfig{Org: "acme", ID: "bridge-a"},
		Components: make(ComponentConfigs),
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				cfg := sc.Get()
				assert.Contains(t, []string{"bridge-a", "bridge-b"}, cfg.Platform.ID)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := sc.Update(&Config{
					Platform:   PlatformConfig{Org: "acme", ID: "bridge-b"},
					Components: make(ComponentConfigs),
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

func TestConfigClone(t *testing.T) {
	var nilCfg *Config
	assert.NotNil(t, nilCfg.Clone(), "clone of nil yields an empty config")
	assert.NotNil(t, (&Config{}).Clone())

	cfg := &Config{
		Platform: PlatformConfig{Org: "acme", ID: "bridge1", Site: "refinery_east"},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			ReconnectWait: 2 * time.Second,
		},
		Components: make(ComponentConfigs),
	}

	clone := cfg.Clone()
	cfg.NATS.URLs = append(cfg.NATS.URLs, "nats://other:4222")
	cfg.Components["late"] = component.InstanceConfig{}

	assert.Len(t, clone.NATS.URLs, 1)
	assert.Empty(t, clone.Components)
	assert.Equal(t, 2*time.Second, clone.NATS.ReconnectWait)
}
