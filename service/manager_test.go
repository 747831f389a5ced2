package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
	"github.com/irfanghat/databricks-industrial-automation-suite/health"
)

// recorder collects lifecycle events across mock components
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// mockComponent implements component.LifecycleComponent for manager tests
type mockComponent struct {
	name      string
	rec       *recorder
	healthy   bool
	failStart bool
	failStop  bool
}

func newMockComponent(name string, rec *recorder) *mockComponent {
	return &mockComponent{name: name, rec: rec, healthy: true}
}

func (m *mockComponent) Meta() component.Metadata {
	return component.Metadata{Name: m.name, Type: "input", Version: "1.0.0"}
}

func (m *mockComponent) InputPorts() []component.Port  { return nil }
func (m *mockComponent) OutputPorts() []component.Port { return nil }

func (m *mockComponent) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{}
}

func (m *mockComponent) Health() component.HealthStatus {
	return component.HealthStatus{Healthy: m.healthy, LastCheck: time.Now()}
}

func (m *mockComponent) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}

func (m *mockComponent) Initialize() error {
	m.rec.add("init:" + m.name)
	return nil
}

func (m *mockComponent) Start(_ context.Context) error {
	if m.failStart {
		return fmt.Errorf("start failed")
	}
	m.rec.add("start:" + m.name)
	return nil
}

func (m *mockComponent) Stop(_ time.Duration) error {
	if m.failStop {
		return fmt.Errorf("stop failed")
	}
	m.rec.add("stop:" + m.name)
	return nil
}

// mockHandlerComponent additionally implements gateway.HTTPHandler
type mockHandlerComponent struct {
	*mockComponent
	prefix string
}

func (m *mockHandlerComponent) RegisterHTTPHandlers(pathPrefix string, mux *http.ServeMux) {
	m.prefix = pathPrefix
	mux.HandleFunc(pathPrefix+"ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	})
}

func newTestManager() *Manager {
	return NewManager(ManagerConfig{
		HTTPPort:       -1,
		HealthInterval: 10 * time.Millisecond,
	}, ManagerDeps{})
}

func TestManager_Add(t *testing.T) {
	rec := &recorder{}
	m := newTestManager()

	require.NoError(t, m.Add("one", newMockComponent("one", rec)))

	err := m.Add("one", newMockComponent("one", rec))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = m.Add("", newMockComponent("x", rec))
	require.Error(t, err)

	err = m.Add("nilcomp", nil)
	require.Error(t, err)
}

func TestManager_Add_AfterStart(t *testing.T) {
	rec := &recorder{}
	m := newTestManager()
	require.NoError(t, m.Add("one", newMockComponent("one", rec)))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(time.Second)

	err := m.Add("late", newMockComponent("late", rec))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestManager_StartStop_Order(t *testing.T) {
	rec := &recorder{}
	m := newTestManager()

	require.NoError(t, m.Add("first", newMockComponent("first", rec)))
	require.NoError(t, m.Add("second", newMockComponent("second", rec)))
	require.NoError(t, m.Add("third", newMockComponent("third", rec)))

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(time.Second))

	want := []string{
		"init:first", "start:first",
		"init:second", "start:second",
		"init:third", "start:third",
		"stop:third", "stop:second", "stop:first",
	}
	if diff := cmp.Diff(want, rec.all()); diff != "" {
		t.Errorf("lifecycle order mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_Start_RollbackOnFailure(t *testing.T) {
	rec := &recorder{}
	m := newTestManager()

	good := newMockComponent("good", rec)
	bad := newMockComponent("bad", rec)
	bad.failStart = true

	require.NoError(t, m.Add("good", good))
	require.NoError(t, m.Add("bad", bad))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")

	// the component started before the failure was rolled back
	assert.Contains(t, rec.all(), "stop:good")
}

func TestManager_Stop_CollectsErrors(t *testing.T) {
	rec := &recorder{}
	m := newTestManager()

	stubborn := newMockComponent("stubborn", rec)
	stubborn.failStop = true

	require.NoError(t, m.Add("ok", newMockComponent("ok", rec)))
	require.NoError(t, m.Add("stubborn", stubborn))
	require.NoError(t, m.Start(context.Background()))

	err := m.Stop(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stubborn")

	// other components still stopped
	assert.Contains(t, rec.all(), "stop:ok")
}

func TestManager_StopIdempotent(t *testing.T) {
	rec := &recorder{}
	m := newTestManager()
	require.NoError(t, m.Add("one", newMockComponent("one", rec)))
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Stop(time.Second))
	require.NoError(t, m.Stop(time.Second))
}

func TestManager_HealthPolling(t *testing.T) {
	rec := &recorder{}
	m := newTestManager()

	comp := newMockComponent("boiler-input", rec)
	require.NoError(t, m.Add("boiler-input", comp))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(time.Second)

	require.Eventually(t, func() bool {
		status, ok := m.HealthMonitor().Get("boiler-input")
		return ok && status.IsHealthy()
	}, time.Second, 5*time.Millisecond)
}

func TestManager_MountsHTTPHandlers(t *testing.T) {
	rec := &recorder{}
	m := NewManager(ManagerConfig{
		HTTPPort:       0,
		HealthInterval: 10 * time.Millisecond,
	}, ManagerDeps{})

	handler := &mockHandlerComponent{mockComponent: newMockComponent("api", rec)}
	require.NoError(t, m.Add("api", handler))
	assert.Equal(t, "/api/", handler.prefix)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(time.Second)

	resp, err := http.Get("http://" + m.Addr() + "/api/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestManager_Healthz(t *testing.T) {
	rec := &recorder{}
	m := NewManager(ManagerConfig{
		HTTPPort:       0,
		HealthInterval: 10 * time.Millisecond,
	}, ManagerDeps{})

	require.NoError(t, m.Add("plant", newMockComponent("plant", rec)))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(time.Second)

	// wait for the first health poll to land
	require.Eventually(t, func() bool {
		_, ok := m.HealthMonitor().Get("plant")
		return ok
	}, time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + m.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status health.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.IsHealthy())
}

func TestManager_Healthz_Unhealthy(t *testing.T) {
	rec := &recorder{}
	m := NewManager(ManagerConfig{
		HTTPPort:       0,
		HealthInterval: 10 * time.Millisecond,
	}, ManagerDeps{})

	sick := newMockComponent("sick", rec)
	sick.healthy = false
	require.NoError(t, m.Add("sick", sick))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(time.Second)

	require.Eventually(t, func() bool {
		status, ok := m.HealthMonitor().Get("sick")
		return ok && !status.IsHealthy()
	}, time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + m.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
