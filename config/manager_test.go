package config

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/natsclient"
)

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		pattern string
		want    bool
	}{
		{"exact section", "opcua", "opcua", true},
		{"exact component", "components.opcua-plant-1", "components.opcua-plant-1", true},
		{"section wildcard", "components.opcua-plant-1", "components.*", true},
		{"prefix wildcard", "components.modbus-pump-1", "components.modbus-*", true},
		{"prefix wildcard miss", "components.opcua-plant-1", "components.modbus-*", false},
		{"section wildcard miss", "opcua", "components.*", false},
		{"different section", "opcua", "gateway", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesPattern(tt.key, tt.pattern),
				"pattern %s against key %s", tt.pattern, tt.key)
		})
	}
}

func TestConfigManager_Subscriptions(t *testing.T) {
	// Create a test config
	cfg := &Config{
		OPCUA: OPCUAConfig{
			Endpoint: "opc.tcp://plant:4840/",
		},
		Components: ComponentConfigs{
			"opcua-plant-1": component.InstanceConfig{
				Type:    "input",
				Name:    "opcua",
				Enabled: true,
				Config:  json.RawMessage(`{"endpoint": "opc.tcp://plant:4840/"}`),
			},
		},
	}

	client := natsclient.NewTestClient(t, natsclient.WithJetStream())

	cm, err := NewConfigManager(cfg, client.Client, nil)
	require.NoError(t, err)

	// Start Manager
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err = cm.Start(ctx)
	require.NoError(t, err)
	defer func() { _ = cm.Stop(5 * time.Second) }()

	// Subscribe to component changes
	componentUpdates := cm.OnChange("components.*")
	require.NotNil(t, componentUpdates)

	// Subscribe to connection default changes
	opcuaUpdates := cm.OnChange("opcua")
	require.NotNil(t, opcuaUpdates)

	// Should receive initial config immediately
	select {
	case update := <-componentUpdates:
		assert.Equal(t, "components.*", update.Path)
		assert.NotNil(t, update.Config)
		currentCfg := update.Config.Get()
		assert.Contains(t, currentCfg.Components, "opcua-plant-1")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for initial component config")
	}

	select {
	case update := <-opcuaUpdates:
		assert.Equal(t, "opcua", update.Path)
		currentCfg := update.Config.Get()
		assert.Equal(t, "opc.tcp://plant:4840/", currentCfg.OPCUA.Endpoint)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for initial opcua config")
	}
}

func TestConfigManager_KVUpdates(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Create initial config with required fields
	cfg := &Config{
		Platform: PlatformConfig{
			Org:  "acme",
			ID:   "test-bridge",
			Type: "plant",
		},
		Components: ComponentConfigs{
			"opcua-plant-1": component.InstanceConfig{
				Type:    "input",
				Name:    "opcua",
				Enabled: true,
				Config:  json.RawMessage(`{"endpoint": "opc.tcp://plant:4840/"}`),
			},
		},
	}

	client := natsclient.NewTestClient(t, natsclient.WithJetStream())

	cm, err := NewConfigManager(cfg, client.Client, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Push initial config to KV before starting watcher
	err = cm.PushToKV(ctx)
	require.NoError(t, err)

	// Start Manager
	// This will detect existing KV and sync from it
	err = cm.Start(ctx)
	require.NoError(t, err)
	defer func() { _ = cm.Stop(5 * time.Second) }()

	// Subscribe AFTER starting; OnChange sends current config immediately
	updates := cm.OnChange("components.opcua-plant-1")

	select {
	case <-updates:
		// Got initial config from OnChange
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for initial config from OnChange")
	}

	// Update config via KV, disabling the component
	newConfig := json.RawMessage(
		`{"type": "input", "name": "opcua", "enabled": false, "config": {"endpoint": "opc.tcp://plant:4840/"}}`)
	_, err = cm.kv.Put(ctx, "components.opcua-plant-1", newConfig)
	require.NoError(t, err)

	// Should receive update
	select {
	case update := <-updates:
		assert.Equal(t, "components.opcua-plant-1", update.Path)
		currentCfg := update.Config.Get()

		// Verify the config was updated
		instance := currentCfg.Components["opcua-plant-1"]
		assert.False(t, instance.Enabled)

	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for config update")
	}
}

func TestConfigManager_PushToKV(t *testing.T) {
	// Create a config to push
	cfg := &Config{
		Platform: PlatformConfig{
			Org: "acme",
			ID:  "test-bridge",
		},
		OPCUA: OPCUAConfig{
			Endpoint:       "opc.tcp://plant:4840/",
			SecurityPolicy: "None",
		},
		Components: ComponentConfigs{
			"opcua-plant-1": component.InstanceConfig{
				Type:    "input",
				Name:    "opcua",
				Enabled: true,
				Config:  json.RawMessage(`{"endpoint": "opc.tcp://plant:4840/"}`),
			},
			"modbus-pump": component.InstanceConfig{
				Type:    "input",
				Name:    "modbus",
				Enabled: false,
				Config:  json.RawMessage(`{"address": "localhost:1502"}`),
			},
		},
	}

	client := natsclient.NewTestClient(t, natsclient.WithJetStream())

	cm, err := NewConfigManager(cfg, client.Client, nil)
	require.NoError(t, err)

	ctx := context.Background()

	// Push config to KV
	err = cm.PushToKV(ctx)
	require.NoError(t, err)

	// Verify components were pushed
	entry, err := cm.kv.Get(ctx, "components.opcua-plant-1")
	require.NoError(t, err)

	var compConfig component.InstanceConfig
	err = json.Unmarshal(entry.Value(), &compConfig)
	require.NoError(t, err)
	assert.Equal(t, "input", compConfig.Type)
	assert.Equal(t, "opcua", compConfig.Name)
	assert.True(t, compConfig.Enabled)

	entry, err = cm.kv.Get(ctx, "components.modbus-pump")
	require.NoError(t, err)
	err = json.Unmarshal(entry.Value(), &compConfig)
	require.NoError(t, err)
	assert.False(t, compConfig.Enabled)

	// Verify platform was pushed
	entry, err = cm.kv.Get(ctx, "platform")
	require.NoError(t, err)

	var platformConfig PlatformConfig
	err = json.Unmarshal(entry.Value(), &platformConfig)
	require.NoError(t, err)
	assert.Equal(t, "acme", platformConfig.Org)
	assert.Equal(t, "test-bridge", platformConfig.ID)

	// Verify OPC UA defaults were pushed
	entry, err = cm.kv.Get(ctx, "opcua")
	require.NoError(t, err)

	var opcuaConfig OPCUAConfig
	err = json.Unmarshal(entry.Value(), &opcuaConfig)
	require.NoError(t, err)
	assert.Equal(t, "opc.tcp://plant:4840/", opcuaConfig.Endpoint)
}

func TestConfigManager_MultipleSubscribers(t *testing.T) {
	cfg := &Config{
		Components: make(ComponentConfigs),
	}

	client := natsclient.NewTestClient(t, natsclient.WithJetStream())

	cm, err := NewConfigManager(cfg, client.Client, nil)
	require.NoError(t, err)

	// Create multiple subscribers for the same pattern
	sub1 := cm.OnChange("components.*")
	sub2 := cm.OnChange("components.*")
	sub3 := cm.OnChange("components.opcua-plant-1") // Exact match

	// All should receive initial config
	for i, sub := range []<-chan Update{sub1, sub2, sub3} {
		select {
		case update := <-sub:
			assert.NotNil(t, update.Config, "subscriber %d", i+1)
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for initial config on subscriber %d", i+1)
		}
	}
}
