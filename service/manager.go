package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
	"github.com/irfanghat/databricks-industrial-automation-suite/gateway"
	"github.com/irfanghat/databricks-industrial-automation-suite/health"
	"github.com/irfanghat/databricks-industrial-automation-suite/metric"
)

const (
	// DefaultHTTPPort is where the central HTTP server listens
	DefaultHTTPPort = 8080

	// DefaultHealthInterval is how often component health is aggregated
	DefaultHealthInterval = 15 * time.Second

	// DefaultStopTimeout bounds each component's shutdown
	DefaultStopTimeout = 10 * time.Second
)

// ManagerConfig configures the service manager
type ManagerConfig struct {
	// HTTPHost and HTTPPort locate the central HTTP server. Port 0 binds
	// an ephemeral port, -1 disables the server entirely.
	HTTPHost string `json:"http_host,omitempty"`
	HTTPPort int    `json:"http_port,omitempty"`

	// HealthInterval is the component health polling cadence
	HealthInterval time.Duration `json:"-"`

	// StopTimeout bounds each component's Stop call during shutdown
	StopTimeout time.Duration `json:"-"`
}

// ManagerDeps holds runtime dependencies for the service manager
type ManagerDeps struct {
	Logger          *slog.Logger
	HealthMonitor   *health.Monitor
	MetricsRegistry *metric.MetricsRegistry
}

// entry pairs a component with its instance name
type entry struct {
	name      string
	component component.Discoverable
}

// Manager hosts components. Components start in registration order and
// stop in reverse, so consumers outlive their producers during shutdown.
type Manager struct {
	config          ManagerConfig
	logger          *slog.Logger
	healthMonitor   *health.Monitor
	metricsRegistry *metric.MetricsRegistry

	mux      *http.ServeMux
	server   *http.Server
	httpAddr string

	mu      sync.Mutex
	entries []entry
	started []entry // components whose Start succeeded, in order

	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
}

// NewManager creates a service manager
func NewManager(config ManagerConfig, deps ManagerDeps) *Manager {
	if config.HealthInterval <= 0 {
		config.HealthInterval = DefaultHealthInterval
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "service-manager")
	}

	monitor := deps.HealthMonitor
	if monitor == nil {
		monitor = health.NewMonitor()
	}

	m := &Manager{
		config:          config,
		logger:          logger,
		healthMonitor:   monitor,
		metricsRegistry: deps.MetricsRegistry,
		mux:             http.NewServeMux(),
	}
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	return m
}

// HealthMonitor returns the manager's health monitor so components and
// gateways can share it
func (m *Manager) HealthMonitor() *health.Monitor {
	return m.healthMonitor
}

// Mux returns the central HTTP mux
func (m *Manager) Mux() *http.ServeMux {
	return m.mux
}

// Add registers a component under an instance name. Components implementing
// gateway.HTTPHandler get their routes mounted at /<name>/.
func (m *Manager) Add(name string, comp component.Discoverable) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "Add",
			"instance name validation")
	}
	if comp == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "Add",
			"component validation")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Add",
			"registration after start")
	}
	for _, e := range m.entries {
		if e.name == name {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "Add",
				fmt.Sprintf("duplicate instance name %s", name))
		}
	}

	m.entries = append(m.entries, entry{name: name, component: comp})

	if handler, ok := comp.(gateway.HTTPHandler); ok {
		handler.RegisterHTTPHandlers("/"+name+"/", m.mux)
		m.logger.Info("Mounted HTTP handlers", "instance", name, "prefix", "/"+name+"/")
	}
	return nil
}

// Start initializes and starts every registered component in order, then
// brings up the central HTTP server and health polling. A component failure
// rolls back the components already started, in reverse.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		return nil
	}

	m.started = m.started[:0]
	for _, e := range m.entries {
		lifecycle, ok := component.AsLifecycleComponent(e.component)
		if !ok {
			continue
		}

		if err := lifecycle.Initialize(); err != nil {
			m.stopStartedLocked()
			return errors.Wrap(err, "Manager", "Start",
				fmt.Sprintf("initialize %s", e.name))
		}
		if err := lifecycle.Start(ctx); err != nil {
			m.stopStartedLocked()
			return errors.Wrap(err, "Manager", "Start",
				fmt.Sprintf("start %s", e.name))
		}

		m.started = append(m.started, e)
		m.logger.Info("Component started", "instance", e.name, "type", e.component.Meta().Type)
	}

	if m.config.HTTPPort >= 0 {
		if err := m.startHTTPLocked(); err != nil {
			m.stopStartedLocked()
			return err
		}
	}

	m.shutdown = make(chan struct{})
	m.done = make(chan struct{})
	m.running.Store(true)
	go m.healthLoop()

	m.logger.Info("Service manager started", "components", len(m.started))
	return nil
}

// startHTTPLocked binds and serves the central HTTP server
func (m *Manager) startHTTPLocked() error {
	addr := fmt.Sprintf("%s:%d", m.config.HTTPHost, m.config.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapTransient(err, "Manager", "startHTTP", "listen")
	}

	m.server = &http.Server{
		Handler:           m.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	m.httpAddr = listener.Addr().String()

	go func() {
		if serveErr := m.server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			m.logger.Error("HTTP server failed", "error", serveErr)
		}
	}()

	m.logger.Info("HTTP server listening", "addr", listener.Addr().String())
	return nil
}

// Stop shuts down the HTTP server and stops components in reverse start
// order, bounding each stop with the configured timeout
func (m *Manager) Stop(timeout time.Duration) error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}

	// Stop the health loop before taking the lock; it polls under it
	close(m.shutdown)
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			m.logger.Warn("HTTP server shutdown failed", "error", err)
		}
		m.server = nil
	}

	errs := m.stopStartedLocked()
	if len(errs) > 0 {
		return errors.Wrap(fmt.Errorf("%d components failed to stop: %v", len(errs), errs),
			"Manager", "Stop", "component shutdown")
	}

	m.logger.Info("Service manager stopped")
	return nil
}

// stopStartedLocked stops the started components in reverse order
func (m *Manager) stopStartedLocked() []error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		e := m.started[i]
		lifecycle, ok := component.AsLifecycleComponent(e.component)
		if !ok {
			continue
		}
		if err := lifecycle.Stop(m.config.StopTimeout); err != nil {
			m.logger.Error("Component stop failed", "instance", e.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			continue
		}
		m.healthMonitor.Remove(e.name)
		m.logger.Info("Component stopped", "instance", e.name)
	}
	m.started = m.started[:0]
	return errs
}

// healthLoop periodically aggregates component health into the monitor
func (m *Manager) healthLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.HealthInterval)
	defer ticker.Stop()

	m.pollHealth()
	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.pollHealth()
		}
	}
}

// pollHealth checks every started component concurrently so one slow
// Health call does not delay the rest of the poll
func (m *Manager) pollHealth() {
	m.mu.Lock()
	polled := make([]entry, len(m.started))
	copy(polled, m.started)
	m.mu.Unlock()

	var g errgroup.Group
	for _, e := range polled {
		e := e
		g.Go(func() error {
			status := health.FromComponentHealth(e.name, e.component.Health())
			m.healthMonitor.Update(e.name, status)

			if core := m.coreMetrics(); core != nil {
				core.RecordHealthStatus(e.name, status.Healthy)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) coreMetrics() *metric.Metrics {
	if m.metricsRegistry == nil {
		return nil
	}
	return m.metricsRegistry.CoreMetrics()
}

// handleHealthz serves the aggregated system health
func (m *Manager) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	aggregate := m.healthMonitor.AggregateHealth("dias")

	statusCode := http.StatusOK
	if aggregate.IsUnhealthy() {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	data, err := json.Marshal(aggregate)
	if err != nil {
		return
	}
	w.Write(data)
}

// Addr returns the HTTP server's listen address, empty before Start
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return ""
	}
	return m.httpAddr
}
