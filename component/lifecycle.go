package component

import (
	"context"
	"time"
)

// State tracks where a component is in its lifecycle. The service
// manager drives transitions created -> initialized -> started ->
// stopped, with failed reachable from any of them.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateFailed
)

var stateNames = map[State]string{
	StateCreated:     "created",
	StateInitialized: "initialized",
	StateStarted:     "started",
	StateStopped:     "stopped",
	StateFailed:      "failed",
}

func (cs State) String() string {
	if name, ok := stateNames[cs]; ok {
		return name
	}
	return "unknown"
}

// LifecycleComponent is a Discoverable the manager can run. Initialize
// allocates without side effects, Start takes the run context, and Stop
// gets a deadline for graceful shutdown.
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// AsLifecycleComponent reports whether a component can be run by the
// service manager.
func AsLifecycleComponent(comp Discoverable) (LifecycleComponent, bool) {
	lc, ok := comp.(LifecycleComponent)
	return lc, ok
}
