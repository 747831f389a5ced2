package health

import (
	"time"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
)

// State is the reported condition of a component or of the whole bridge.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// rank orders states by severity so aggregation can pick the worst one.
func (s State) rank() int {
	switch s {
	case StateUnhealthy:
		return 2
	case StateDegraded:
		return 1
	default:
		return 0
	}
}

// Status is a point-in-time health report. The gateway serves the
// aggregated form of this struct on /healthz, so the JSON shape is part
// of the HTTP API.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	State       State     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the numeric counters a component reports alongside
// its state.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

func newStatus(name string, state State, message string) Status {
	return Status{
		Component: name,
		Healthy:   state == StateHealthy,
		State:     state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy reports a component as healthy.
func NewHealthy(name, message string) Status {
	return newStatus(name, StateHealthy, message)
}

// NewDegraded reports a component as impaired but still serving.
func NewDegraded(name, message string) Status {
	return newStatus(name, StateDegraded, message)
}

// NewUnhealthy reports a component as down.
func NewUnhealthy(name, message string) Status {
	return newStatus(name, StateUnhealthy, message)
}

func (s Status) IsHealthy() bool   { return s.State == StateHealthy }
func (s Status) IsDegraded() bool  { return s.State == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(m *Metrics) Status {
	s.Metrics = m
	return s
}

// WithSubStatus returns a copy with one more sub-status. The slice is
// reallocated so callers holding the original are not affected.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// Aggregate rolls a set of component statuses into one report whose
// state is the worst state found. An empty set is healthy, which keeps
// /healthz green while the manager is still starting components.
func Aggregate(name string, subs []Status) Status {
	worst := StateHealthy
	for _, sub := range subs {
		if sub.State.rank() > worst.rank() {
			worst = sub.State
		}
	}

	var msg string
	switch worst {
	case StateUnhealthy:
		msg = "one or more components are down"
	case StateDegraded:
		msg = "one or more components are degraded"
	default:
		if len(subs) == 0 {
			msg = "no components registered"
		} else {
			msg = "all components healthy"
		}
	}

	agg := newStatus(name, worst, msg)
	agg.SubStatuses = make([]Status, len(subs))
	copy(agg.SubStatuses, subs)
	return agg
}

// FromComponentHealth converts the health a component self-reports into
// a Status. Error messages are redacted before they leave the process
// because /healthz may be reachable from outside the plant network.
//
// A component that is up but has accumulated errors since its last
// restart is reported as degraded rather than healthy, so a flapping
// OPC UA subscription shows up on /healthz before it fails outright.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	state := StateUnhealthy
	msg := "component is down"
	switch {
	case ch.Healthy && ch.ErrorCount == 0:
		state = StateHealthy
		msg = "ok"
	case ch.Healthy:
		state = StateDegraded
		msg = "running with errors"
	}
	if ch.LastError != "" {
		msg = redactErrorMessage(ch.LastError)
	}

	s := newStatus(name, state, msg)
	s.Metrics = &Metrics{
		Uptime:       ch.Uptime,
		ErrorCount:   ch.ErrorCount,
		LastActivity: ch.LastCheck,
	}
	return s
}
