package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/natsclient"
)

// configBucket is the KV bucket holding the runtime configuration. The
// UI writes into it; every bridge instance watches it.
const configBucket = "dias_config"

// Update is delivered to OnChange subscribers after a config change
// has been applied.
type Update struct {
	Path   string      // changed path, e.g. "components.opcua-plant-1"
	Config *SafeConfig // full latest configuration
}

// kvSections maps the non-component top-level KV keys to the config
// field each one updates. Component keys ("components.<name>") are
// handled separately because they carry the instance name.
var kvSections = map[string]struct {
	apply   func(*Config, []byte) error
	extract func(*Config) any
}{
	"platform": {
		apply:   func(c *Config, v []byte) error { return json.Unmarshal(v, &c.Platform) },
		extract: func(c *Config) any { return c.Platform },
	},
	"nats": {
		apply:   func(c *Config, v []byte) error { return json.Unmarshal(v, &c.NATS) },
		extract: func(c *Config) any { return c.NATS },
	},
	"opcua": {
		apply:   func(c *Config, v []byte) error { return json.Unmarshal(v, &c.OPCUA) },
		extract: func(c *Config) any { return c.OPCUA },
	},
	"gateway": {
		apply:   func(c *Config, v []byte) error { return json.Unmarshal(v, &c.Gateway) },
		extract: func(c *Config) any { return c.Gateway },
	},
}

// Manager keeps the live configuration in sync with the KV bucket and
// fans out change notifications to subscribed components.
type Manager struct {
	config  *SafeConfig
	kv      jetstream.KeyValue
	kvStore *natsclient.KVStore
	logger  *slog.Logger

	mu          sync.RWMutex
	subscribers map[string][]chan Update

	watchers   []jetstream.KeyWatcher
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	stopped    atomic.Bool
}

// NewConfigManager binds a Manager to the config bucket, creating the
// bucket if needed.
func NewConfigManager(cfg *Config, natsClient *natsclient.Client, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if natsClient == nil {
		return nil, fmt.Errorf("nats client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	kv, err := natsClient.CreateKeyValueBucket(context.Background(), jetstream.KeyValueConfig{
		Bucket:      configBucket,
		Description: "Industrial automation suite runtime configuration",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create/get KV bucket: %w", err)
	}

	return &Manager{
		config:      NewSafeConfig(cfg),
		kv:          kv,
		kvStore:     natsClient.NewKVStore(kv),
		logger:      logger,
		subscribers: make(map[string][]chan Update),
	}, nil
}

// GetConfig returns the live configuration wrapper.
func (cm *Manager) GetConfig() *SafeConfig {
	return cm.config
}

// OnChange subscribes to changes under a pattern and returns the
// delivery channel. The current config is delivered immediately.
//
// Pattern forms:
//   - "components.opcua-plant-1" exact key
//   - "components.*" everything one level under components
//   - "components.modbus-*" prefix match
//   - "opcua" a single top-level section
func (cm *Manager) OnChange(pattern string) <-chan Update {
	ch := make(chan Update, 1)

	cm.mu.Lock()
	cm.subscribers[pattern] = append(cm.subscribers[pattern], ch)
	cm.mu.Unlock()

	// buffered, so this cannot block
	ch <- Update{Path: pattern, Config: cm.config}
	return ch
}

// Start reconciles file config against the KV bucket, then begins
// watching for updates.
func (cm *Manager) Start(ctx context.Context) error {
	cm.shutdownCh = make(chan struct{})
	cm.reconcileStartup(ctx)

	// Two-part patterns only; property-level keys like
	// components.opcua.port are not watched.
	patterns := []string{"components.*", "platform", "nats", "opcua", "gateway"}

	for _, pattern := range patterns {
		// UpdatesOnly because reconcileStartup already consumed the
		// existing values
		watcher, err := cm.kv.Watch(ctx, pattern, jetstream.UpdatesOnly())
		if err != nil {
			cm.logger.Debug("Failed to create watcher", "pattern", pattern, "error", err)
			continue
		}
		cm.watchers = append(cm.watchers, watcher)
	}

	if len(cm.watchers) == 0 {
		return fmt.Errorf("failed to create any watchers")
	}

	for _, watcher := range cm.watchers {
		cm.wg.Add(1)
		go cm.watchLoop(ctx, watcher)
	}
	return nil
}

// reconcileStartup decides which side wins at boot. A fresh bucket is
// seeded from the file. Otherwise the semver in the file is compared
// against the one in KV: a newer file pushes, anything else pulls, so
// edits made through the UI survive a restart.
func (cm *Manager) reconcileStartup(ctx context.Context) {
	keys, err := cm.kv.Keys(ctx)
	if err != nil || len(keys) == 0 {
		if err != nil {
			cm.logger.Warn("Failed to list KV config keys, assuming first boot", "error", err)
		}
		cm.logger.Info("Seeding KV with file configuration")
		if err := cm.PushToKV(ctx); err != nil {
			cm.logger.Error("Failed to push initial config to KV", "error", err)
		}
		return
	}

	fileVersion := cm.config.Get().Version
	kvVersion := cm.kvVersion(ctx)

	cmp, err := CompareVersions(fileVersion, kvVersion)
	if err != nil {
		cm.logger.Warn("Cannot compare config versions, using KV",
			"file_version", fileVersion, "kv_version", kvVersion, "error", err)
		cmp = -1
	}

	if cmp > 0 {
		cm.logger.Info("File config is newer, updating KV",
			"file_version", fileVersion, "kv_version", kvVersion)
		if err := cm.PushToKV(ctx); err != nil {
			cm.logger.Error("Failed to update KV with newer config", "error", err)
		}
		return
	}

	if cmp < 0 {
		cm.logger.Warn("File config is older than KV, using KV",
			"file_version", fileVersion, "kv_version", kvVersion,
			"hint", "bump the file version to push it")
	}
	if err := cm.syncFromKV(ctx); err != nil {
		cm.logger.Warn("Failed to sync config from KV on startup", "error", err)
	}
}

// Stop halts the watchers, waits for the loops to drain, then closes
// every subscriber channel.
func (cm *Manager) Stop(timeout time.Duration) error {
	if !cm.stopped.CompareAndSwap(false, true) {
		return nil
	}

	if cm.shutdownCh != nil {
		close(cm.shutdownCh)
	}
	for _, watcher := range cm.watchers {
		if watcher != nil {
			_ = watcher.Stop()
		}
	}

	done := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		cm.logger.Warn("Config manager shutdown timeout", "timeout", timeout)
	}

	cm.mu.Lock()
	for _, channels := range cm.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	cm.subscribers = make(map[string][]chan Update)
	cm.mu.Unlock()

	return nil
}

func (cm *Manager) watchLoop(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer cm.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.shutdownCh:
			return
		case entry := <-watcher.Updates():
			if entry == nil {
				continue
			}
			cm.handleUpdate(entry.Key(), entry.Value())
		}
	}
}

// handleUpdate applies one KV change and notifies subscribers. Sends
// are non-blocking: a subscriber that is not draining its channel
// misses intermediate updates but always has the latest SafeConfig.
func (cm *Manager) handleUpdate(key string, value []byte) {
	if cm.stopped.Load() {
		return
	}

	if err := cm.applyKV(key, value); err != nil {
		cm.logger.Error("Failed to apply configuration update", "key", key, "error", err)
		return
	}

	update := Update{Path: key, Config: cm.config}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for pattern, channels := range cm.subscribers {
		if !matchesPattern(key, pattern) {
			continue
		}
		for _, ch := range channels {
			if cm.stopped.Load() {
				return
			}
			select {
			case ch <- update:
			default:
			}
		}
	}
}

// matchesPattern reports whether a KV key falls under a subscription
// pattern.
func matchesPattern(key, pattern string) bool {
	if pattern == key {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(key, prefix+".")
	}
	if prefix, rest, ok := strings.Cut(pattern, "*"); ok && rest == "" {
		return strings.HasPrefix(key, prefix)
	}
	return false
}

// applyKV folds one KV entry into the live config. An empty value is a
// deletion, which only makes sense for component keys.
func (cm *Manager) applyKV(key string, value []byte) error {
	if len(value) > maxConfigSize {
		return fmt.Errorf("config value too large: %d bytes > %d", len(value), maxConfigSize)
	}
	if len(value) > 0 {
		if err := validateJSONDepth(value); err != nil {
			return fmt.Errorf("invalid JSON structure in KV update: %w", err)
		}
	}

	cfg := cm.config.Get()

	section, name, isComponent := strings.Cut(key, ".")
	switch {
	case isComponent && section == "components":
		if strings.Contains(name, ".") {
			return fmt.Errorf("invalid component key format: %s", key)
		}
		if len(value) == 0 {
			delete(cfg.Components, name)
			break
		}
		var instance component.InstanceConfig
		if err := json.Unmarshal(value, &instance); err != nil {
			return fmt.Errorf("parse component config: %w", err)
		}
		if cfg.Components == nil {
			cfg.Components = make(ComponentConfigs)
		}
		cfg.Components[name] = instance

	case !isComponent:
		sec, known := kvSections[section]
		if !known {
			return nil // unknown top-level key, ignore
		}
		if err := sec.apply(cfg, value); err != nil {
			return fmt.Errorf("parse %s config: %w", section, err)
		}

	default:
		return nil
	}

	return cm.config.Update(cfg)
}

// PushToKV writes the current configuration into the bucket, one key
// per section plus one per component instance.
func (cm *Manager) PushToKV(ctx context.Context) error {
	cfg := cm.config.Get()

	if cfg.Version == "" {
		cm.logger.Warn("Config version is empty, not pushing version key")
	} else {
		data, err := json.Marshal(cfg.Version)
		if err != nil {
			return fmt.Errorf("marshal version: %w", err)
		}
		if _, err := cm.kvStore.Put(ctx, "version", data); err != nil {
			return fmt.Errorf("push version: %w", err)
		}
	}

	for name, instance := range cfg.Components {
		data, err := json.Marshal(instance)
		if err != nil {
			return fmt.Errorf("marshal component %s: %w", name, err)
		}
		key := "components." + sanitizeKVKey(name)
		if _, err := cm.kvStore.Put(ctx, key, data); err != nil {
			return fmt.Errorf("push component %s: %w", name, err)
		}
	}

	for section, sec := range kvSections {
		data, err := json.Marshal(sec.extract(cfg))
		if err != nil || len(data) <= 2 { // skip empty {} sections
			continue
		}
		if _, err := cm.kvStore.Put(ctx, section, data); err != nil {
			return fmt.Errorf("push %s: %w", section, err)
		}
	}
	return nil
}

// sanitizeKVKey makes an instance name safe for use as a KV key.
func sanitizeKVKey(key string) string {
	return strings.ReplaceAll(key, " ", "_")
}

// kvVersion reads the semver stored in the bucket. Missing or
// unparseable versions read as 0.0.0, which makes any file version win.
func (cm *Manager) kvVersion(ctx context.Context) string {
	entry, err := cm.kv.Get(ctx, "version")
	if err != nil {
		return "0.0.0"
	}

	var version string
	if err := json.Unmarshal(entry.Value(), &version); err != nil {
		cm.logger.Warn("Unparseable version in KV, treating as 0.0.0", "error", err)
		return "0.0.0"
	}
	return version
}

// syncFromKV replays every section-level key in the bucket into the
// live config.
func (cm *Manager) syncFromKV(ctx context.Context) error {
	keys, err := cm.kv.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list KV keys: %w", err)
	}

	for _, key := range keys {
		if strings.Count(key, ".") > 1 {
			continue // property-level key
		}
		entry, err := cm.kv.Get(ctx, key)
		if err != nil {
			cm.logger.Warn("Failed to read KV entry during sync", "key", key, "error", err)
			continue
		}
		if err := cm.applyKV(key, entry.Value()); err != nil {
			cm.logger.Warn("Failed to apply KV entry during sync", "key", key, "error", err)
		}
	}

	cm.logger.Info("Synced configuration from KV", "keys", len(keys))
	return nil
}
