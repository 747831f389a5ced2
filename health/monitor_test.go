package health

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor()

	_, ok := m.Get("opcua-input")
	assert.False(t, ok)

	m.UpdateHealthy("opcua-input", "subscribed")
	got, ok := m.Get("opcua-input")
	require.True(t, ok)
	assert.True(t, got.IsHealthy())
	assert.Equal(t, "subscribed", got.Message)
}

func TestMonitor_UpdateForcesComponentName(t *testing.T) {
	m := NewMonitor()

	// a status built under one name but stored under another keeps the key
	m.Update("modbus-input", NewHealthy("something-else", "ok"))

	got, ok := m.Get("modbus-input")
	require.True(t, ok)
	assert.Equal(t, "modbus-input", got.Component)
}

func TestMonitor_UpdateStampsMissingTimestamp(t *testing.T) {
	m := NewMonitor()
	m.Update("plant", Status{State: StateHealthy, Healthy: true})

	got, _ := m.Get("plant")
	assert.WithinDuration(t, time.Now(), got.Timestamp, time.Second)
}

func TestMonitor_Remove(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("monitor", "ok")
	m.Remove("monitor")

	_, ok := m.Get("monitor")
	assert.False(t, ok)
	assert.True(t, m.AggregateHealth("dias").IsHealthy())
}

func TestMonitor_GetAllIsACopy(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("a", "ok")

	all := m.GetAll()
	delete(all, "a")

	_, ok := m.Get("a")
	assert.True(t, ok)
}

func TestMonitor_AggregateHealth(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("opcua-input", "ok")
	m.UpdateHealthy("plant", "ok")

	agg := m.AggregateHealth("dias")
	assert.True(t, agg.IsHealthy())
	assert.Len(t, agg.SubStatuses, 2)

	m.UpdateDegraded("modbus-input", "slave slow")
	assert.True(t, m.AggregateHealth("dias").IsDegraded())

	m.UpdateUnhealthy("opcua-input", "session lost")
	assert.True(t, m.AggregateHealth("dias").IsUnhealthy())

	// recovery flows back through
	m.UpdateHealthy("opcua-input", "reconnected")
	m.UpdateHealthy("modbus-input", "caught up")
	assert.True(t, m.AggregateHealth("dias").IsHealthy())
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("component-%d", n)
			for j := 0; j < 100; j++ {
				m.UpdateHealthy(name, "ok")
				m.Get(name)
				m.AggregateHealth("dias")
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, m.GetAll(), 8)
}
