// Package component provides the core component infrastructure for the
// industrial automation suite, enabling component discovery, registration,
// lifecycle management, and instance creation.
//
// # Overview
//
// The component package defines the fundamental abstractions shared by all
// runtime components: inputs (device data sources such as the OPC UA and
// Modbus bridges), processors (data transformers such as the threshold
// monitor), and gateways (external surfaces such as the HTTP API). Components
// are self-describing units that can be discovered at runtime, configured
// through schemas, and managed through their lifecycle.
//
// The Registry is the central component management system, handling both
// factory registration and instance management with thread-safe operations.
//
// # Component Registration Pattern
//
// Registration is EXPLICIT rather than init() self-registration. Each
// component package exports a Register(*Registry) error function, and the
// application entry point calls them against a Registry it owns. This keeps
// the dependency graph visible, avoids global state, and lets tests create
// isolated registries.
//
// Example component registration:
//
//	func Register(registry *component.Registry) error {
//		return registry.RegisterWithConfig(component.RegistrationConfig{
//			Name:        "opcua",
//			Factory:     NewInput,
//			Schema:      configSchema,
//			Type:        "input",
//			Protocol:    "opc.tcp",
//			Description: "OPC UA data change input",
//			Version:     "1.0.0",
//		})
//	}
//
// # Lifecycle
//
// Components optionally implement LifecycleComponent (Initialize, Start,
// Stop). Factories must not do I/O; connections are opened in Start and
// released in Stop. The service manager starts components in registration
// order and stops them in reverse.
//
// # Dependencies
//
// All external dependencies (NATS client, metrics registry, logger, platform
// identity, security settings) are injected through the Dependencies struct.
// Factories receive raw JSON configuration plus Dependencies and return an
// initialized Discoverable.
//
// # Configuration Validation
//
// SafeUnmarshal is the security gate for all component configuration: it
// bounds JSON size, nesting depth, array and string lengths, rejects control
// characters, then unmarshals and invokes Validate() when the target
// implements Validatable. ValidateSchema additionally checks a parsed config
// map against a component's declared ConfigSchema (required fields, types,
// min/max bounds, enums).
package component
