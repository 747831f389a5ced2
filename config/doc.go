// Package config loads, validates, and distributes the bridge
// configuration.
//
// A Config carries platform identity, the NATS connection, OPC UA
// session settings, the HTTP gateway, the plant simulator, and
// per-component instance definitions. Three pieces move it around:
//
//   - Loader reads layered JSON/YAML files with last-wins merging and
//     DIAS_* environment overrides, then validates the result.
//   - SafeConfig is the shared handle. Get returns a deep copy and
//     Update swaps in a validated replacement, so readers never see a
//     half-written config.
//   - Manager mirrors the config into a NATS KV bucket and watches it,
//     fanning out changes to OnChange subscribers by key pattern.
//
// # Loading
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.json")
//	loader.AddLayer("config/production.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//
// Environment variables override file values at load time, for example
// DIAS_PLATFORM_ID, DIAS_NATS_URLS (comma separated), and
// DIAS_OPCUA_ENDPOINT.
//
// # Distribution
//
//	cm, err := config.NewConfigManager(cfg, natsClient, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cm.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer cm.Stop(5 * time.Second)
//
//	for update := range cm.OnChange("components.*") {
//		log.Printf("config changed: %s", update.Path)
//	}
//
// On Start the manager reconciles the file config against the KV
// bucket by semver: the newer side wins. PushToKV publishes the local
// config for other instances.
//
// # Hardening
//
// File reads are capped at 10MB, JSON nesting at 100 levels, and paths
// are checked for traversal before opening. ValidateDocument checks a
// raw document against the embedded JSON schema before it is applied.
package config
