// Package gateway provides the HTTP-facing surface of the bridge.
//
// Gateway components expose device operations (OPC UA setup, browse, read,
// write, subscriptions), certificate management and data-change streaming
// to external clients.
//
// # Gateway vs Input
//
// - Gateway: request-driven (External client ↔ device session)
// - Input: unidirectional push (device → NATS)
//
// # Architecture
//
// The gateway translates HTTP requests into operations on an OPC UA session:
//
//	┌─────────────────┐
//	│  HTTP Client    │  GET /opcua-api/opcua/read/ns%3D2%3Bi%3D5
//	└────────┬────────┘
//	         ↓
//	┌────────────────────────────────────────┐
//	│  ServiceManager (Port 8080)            │
//	│  /opcua-api/* → HTTP gateway handlers  │
//	└────────┬───────────────────────────────┘
//	         ↓ opcua.Session
//	┌────────────────────────────────────────┐
//	│  OPC UA server (or plant simulator)    │
//	└────────────────────────────────────────┘
//
// Data-change subscriptions additionally fan out to Server-Sent Events and
// WebSocket stream clients, rate-limited per client so a slow consumer
// never stalls the subscription.
//
// # Handler Registration
//
// Gateways register HTTP handlers via ServiceManager's central HTTP server:
//
//	type Gateway interface {
//	    component.Discoverable
//	    RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
//	}
//
// ServiceManager discovers Gateway implementers and registers their handlers
// at startup using the component instance name as URL prefix.
//
// # Example Configuration
//
//	{
//	  "components": {
//	    "opcua-api": {
//	      "type": "gateway",
//	      "name": "http",
//	      "enabled": true,
//	      "config": {
//	        "request_timeout": "10s",
//	        "stream_rate": 100,
//	        "certs_dir": "/etc/dias/certs"
//	      }
//	    }
//	  }
//	}
//
// # Usage
//
// With the above configuration, external clients can operate the bridge:
//
//	# Point the bridge at a server
//	curl -X POST http://localhost:8080/opcua-api/opcua/setup \
//	  -H "Content-Type: application/json" \
//	  -d '{"endpoint": "opc.tcp://plant-gateway:4840/freeopcua/server/"}'
//
//	# Read a node (node IDs arrive URL-escaped)
//	curl http://localhost:8080/opcua-api/opcua/read/ns%3D2%3Bi%3D5
//
//	# Stream data changes
//	curl -N http://localhost:8080/opcua-api/opcua/stream
//
// # Security
//
// Gateways support:
//   - TLS encryption (via ServiceManager HTTP server)
//   - CORS headers with explicit origin allow-lists
//   - Request size and timeout limits
//   - Per-client stream rate limiting
//   - Managed client certificates for secure OPC UA channels
package gateway
