package component

// Direction indicates whether a port consumes or produces data
type Direction int

const (
	// DirectionInput marks ports a component consumes data on
	DirectionInput Direction = iota
	// DirectionOutput marks ports a component produces data on
	DirectionOutput
)

// String returns the string representation of Direction
func (d Direction) String() string {
	if d == DirectionInput {
		return "input"
	}
	return "output"
}

// Port describes a single data connection point of a component
type Port struct {
	Name        string    `json:"name"`
	Direction   Direction `json:"direction"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
	Config      any       `json:"config,omitempty"`
}

// NATSPort describes a NATS pub/sub connection
type NATSPort struct {
	Subject string `json:"subject"`
}

// NetworkPort describes a network socket connection
type NetworkPort struct {
	Protocol string `json:"protocol"` // "opc.tcp", "modbus-tcp", "http"
	Host     string `json:"host"`
	Port     int    `json:"port"`
}
