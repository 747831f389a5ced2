package gateway

import (
	"net/http"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
)

// Gateway is a protocol bridge component that exposes device operations
// to external clients over HTTP. Unlike inputs, which push data into
// NATS on their own schedule, gateways sit idle until a client asks for
// a read, a write, a browse, or a certificate operation.
type Gateway interface {
	component.Discoverable

	// RegisterHTTPHandlers mounts the gateway's routes on the service
	// manager's shared mux. The prefix comes from the instance name,
	// "/opcua-api/" for an instance named opcua-api.
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}

// HTTPHandler is the narrow interface the service manager probes for
// when deciding which components get routes on the shared HTTP server.
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}
