package config

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Readers hammer the accessors with mistyped values while writers swap
// the config underneath them. Nothing here may panic or observe a torn
// config.
func TestConfigSystem_ConcurrencyStress(t *testing.T) {
	safeConfig := NewSafeConfig(&Config{
		Platform:   PlatformConfig{Org: "acme", ID: "stress-test", Type: "plant"},
		Components: make(ComponentConfigs),
	})

	const workers = 25
	const iterations = 100

	var wg sync.WaitGroup
	errCh := make(chan error, 2*workers)

	mistyped := map[string]any{
		"port":     1502,
		"host":     "localhost",
		"subjects": []string{"input.modbus.datachange"},
		"enabled":  true,
		"interval": map[string]string{"nested": "value"},
		"count":    "not-a-number",
		"flag":     42,
		"name":     []int{1, 2, 3},
		"null":     nil,
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				cfg := safeConfig.Get()

				_ = GetString(mistyped, "host", "default")
				_ = GetInt(mistyped, "port", 8080)
				_ = GetBool(mistyped, "enabled", false)
				_ = GetStringSlice(mistyped, "subjects", nil)
				_ = GetString(mistyped, "count", "safe")
				_ = GetInt(mistyped, "flag", 0)
				_ = GetBool(mistyped, "name", false)
				_ = GetString(mistyped, "null", "safe")

				if cfg.Platform.ID != "stress-test" && cfg.Platform.ID != "stress-test-v2" {
					errCh <- assert.AnError
					return
				}
			}
		}()
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations/10; j++ {
				err := safeConfig.Update(&Config{
					Platform:   PlatformConfig{Org: "acme", ID: "stress-test-v2", Type: "plant"},
					Components: make(ComponentConfigs),
				})
				if err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(errCh)
		for err := range errCh {
			t.Fatalf("concurrent access failed: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("stress test timed out")
	}
}

func TestComponentConfigAccess_MalformedShapes(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
	}{
		{"valid", map[string]any{
			"components": map[string]any{
				"modbus": map[string]any{"port": 1502, "host": "0.0.0.0"},
			},
		}},
		{"components not a map", map[string]any{"components": "not-a-map"}},
		{"empty document", map[string]any{}},
		{"components nil", map[string]any{"components": nil}},
		{"instance not a map", map[string]any{
			"components": map[string]any{"modbus": []string{"bad", "shape"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotPanics(t, func() {
				_, _ = GetComponentConfig(tt.cfg, "modbus")
				_ = GetString(tt.cfg, "components", "")
				_ = HasKey(tt.cfg, "components")

				if modbus, err := GetComponentConfig(tt.cfg, "modbus"); err == nil {
					assert.Equal(t, 1502, GetInt(modbus, "port", 8080))
					assert.Equal(t, "0.0.0.0", GetString(modbus, "host", "localhost"))
				}
			})
		})
	}
}

func TestNestedAccess_BrokenChains(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
		want string
	}{
		{"deep value present", map[string]any{
			"opcua": map[string]any{
				"security": map[string]any{
					"tls": map[string]any{"min_version": "1.3"},
				},
			},
		}, "1.3"},
		{"intermediate not a map", map[string]any{"opcua": "not-a-map"}, "default"},
		{"intermediate empty", map[string]any{"opcua": map[string]any{}}, "default"},
		{"nil in chain", map[string]any{
			"opcua": map[string]any{"security": nil},
		}, "default"},
	}

	path := []string{"opcua", "security", "tls", "min_version"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotPanics(t, func() {
				assert.Equal(t, tt.want, GetNestedString(tt.cfg, path, "default"))
				_ = GetNestedInt(tt.cfg, []string{"opcua", "security", "depth"}, 0)
				_ = GetNestedBool(tt.cfg, []string{"opcua", "security", "enabled"}, false)
				_ = HasNestedKey(tt.cfg, []string{"opcua", "security", "tls"})
			})
		})
	}
}
