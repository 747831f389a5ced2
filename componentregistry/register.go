// Package componentregistry wires the built-in component factories into a
// component.Registry so instances can be created from configuration.
package componentregistry

import (
	"errors"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	pkgerrors "github.com/irfanghat/databricks-industrial-automation-suite/errors"
	gatewayhttp "github.com/irfanghat/databricks-industrial-automation-suite/gateway/http"
	"github.com/irfanghat/databricks-industrial-automation-suite/input/modbusinput"
	"github.com/irfanghat/databricks-industrial-automation-suite/input/opcuainput"
	"github.com/irfanghat/databricks-industrial-automation-suite/processor/monitor"
)

// Register registers all built-in component factories with the provided
// registry:
//
//   - OPC UA input ("opcua"): subscribes to OPC UA node data changes
//   - Modbus input ("modbus"): polls Modbus TCP holding registers
//   - Threshold monitor ("monitor"): raises alerts on value breaches
//   - HTTP gateway ("http"): exposes device operations over HTTP
func Register(registry *component.Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	if err := opcuainput.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "OPC UA input component registration")
	}

	if err := modbusinput.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "Modbus input component registration")
	}

	if err := monitor.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "threshold monitor component registration")
	}

	if err := gatewayhttp.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "HTTP gateway component registration")
	}

	return nil
}
