// Package component defines the Discoverable interface and related types
package component

import (
	"time"
)

// Discoverable is what the registry and the HTTP gateway know about a
// component: identity, ports, config schema, health, and throughput.
// Inputs pull from field devices (OPC UA, Modbus), processors evaluate
// readings (threshold monitor), gateways expose data outward.
type Discoverable interface {
	Meta() Metadata
	InputPorts() []Port
	OutputPorts() []Port
	ConfigSchema() ConfigSchema
	Health() HealthStatus
	DataFlow() FlowMetrics
}

// Metadata identifies a component type. Type is one of "input",
// "processor", or "gateway".
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// ConfigSchema declares the settings a component accepts, checked by
// ValidateSchema before a config is persisted.
type ConfigSchema struct {
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

// PropertySchema describes one setting. Type is "string", "int",
// "bool", "float", "enum", "array", or "object".
type PropertySchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *int     `json:"minimum,omitempty"`
	Maximum     *int     `json:"maximum,omitempty"`
}

// HealthStatus is the component's own view of its health, folded into
// the /healthz aggregate by the service manager.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics is a point-in-time throughput snapshot.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}

// PlatformMeta carries platform identity into components for subject
// construction.
type PlatformMeta struct {
	Org  string `json:"org"`
	Site string `json:"site"`
}
