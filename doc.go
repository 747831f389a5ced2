// Package dias is an industrial automation bridge: it connects OPC UA and
// Modbus field devices to HTTP clients and a NATS backbone.
//
// # Architecture
//
// The bridge is built from small components connected over NATS:
//
//	┌──────────────┐   ┌──────────────┐
//	│ OPC UA Input │   │ Modbus Input │   field side
//	└──────┬───────┘   └──────┬───────┘
//	       │ input.opcua.*    │ input.modbus.*
//	       └────────┬─────────┘
//	                ↓
//	┌─────────────────────────────────────┐
//	│           NATS Messaging            │  subjects, JetStream,
//	│      (pub/sub, KV state)            │  KV buckets
//	└────────────────┬────────────────────┘
//	                 │
//	      ┌──────────┴──────────┐
//	      ↓                     ↓
//	┌───────────────┐   ┌───────────────┐
//	│   Threshold   │   │  downstream   │
//	│    Monitor    │   │  consumers    │
//	└───────┬───────┘   └───────────────┘
//	        │ alerts.threshold
//
// Alongside the NATS pipeline, the HTTP gateway exposes device operations
// directly: browse the address space, read and write values, manage
// subscriptions, and stream data changes over SSE or WebSocket. A
// certificate manager generates the self-signed X.509 material needed for
// encrypted OPC UA security policies, and the plant simulator provides a
// complete in-process OPC UA address space for development.
//
// # Packages
//
// Device access:
//   - opcua: OPC UA session layer (connect, browse, read, write, subscribe)
//   - certmanager: self-signed certificate generation for secure channels
//   - simulator: in-process plant simulation with a Modbus mirror
//
// Components:
//   - input/opcuainput: OPC UA data-change input
//   - input/modbusinput: Modbus TCP polling input
//   - processor/monitor: threshold monitor with edge-triggered alerts
//   - gateway/http: HTTP gateway with SSE and WebSocket streaming
//
// Infrastructure:
//   - component: component lifecycle, registry, config schemas
//   - componentregistry: registration of the built-in factories
//   - service: component host and central HTTP server
//   - config: configuration loading, validation, NATS KV sync
//   - natsclient: NATS connection management
//   - metric: Prometheus metrics
//   - errors: structured error classification
//   - health: health monitoring and aggregation
//
// Utilities:
//   - pkg/buffer: ring buffer for decoupling producers from publishers
//   - pkg/retry: retry policies with exponential backoff
//   - pkg/security, pkg/tlsutil: TLS configuration
//
// # Usage
//
// Component wiring follows the registry pattern:
//
//	natsClient, _ := natsclient.NewClient("nats://localhost:4222")
//	natsClient.Connect(ctx)
//
//	registry := component.NewRegistry()
//	componentregistry.Register(registry)
//
//	deps := component.Dependencies{NATSClient: natsClient, Logger: logger}
//	input, _ := registry.CreateComponent("opcua-plant", instanceConfig, deps)
//
// # Binary
//
// Build and run the bridge:
//
//	# Run against a live OPC UA server
//	./bin/dias-server --config configs/example.json
//
//	# Run self-contained against the plant simulator
//	./bin/dias-server --simulate
//
// In simulate mode the OPC UA input and HTTP gateway are bound to the
// in-process plant, so the full pipeline works without field hardware.
package dias
