package health

import (
	"sync"
	"time"
)

// Monitor holds the latest status per component. The service manager
// writes into it from its poll loop and the gateway reads from it on
// every /healthz request, so all access goes through the lock.
type Monitor struct {
	mu     sync.RWMutex
	latest map[string]Status
}

func NewMonitor() *Monitor {
	return &Monitor{latest: make(map[string]Status)}
}

// Update records the latest status for a component. The component name
// on the status is forced to match the key it is stored under.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.latest[name] = status
	m.mu.Unlock()
}

func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get returns the latest status for a component, if one was recorded.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.latest[name]
	return s, ok
}

// GetAll returns a copy of every recorded status keyed by component.
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.latest))
	for name, s := range m.latest {
		out[name] = s
	}
	return out
}

// Remove forgets a component, typically after the manager stops it.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.latest, name)
	m.mu.Unlock()
}

// AggregateHealth rolls every recorded status into one system-level
// report under the given name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.latest))
	for _, s := range m.latest {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	return Aggregate(systemName, subs)
}
