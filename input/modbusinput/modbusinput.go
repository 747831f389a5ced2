// Package modbusinput provides the Modbus TCP input component. It polls
// holding registers at a fixed interval, applies per-register scaling and
// publishes the readings to NATS.
package modbusinput

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
	"github.com/irfanghat/databricks-industrial-automation-suite/metric"
	"github.com/irfanghat/databricks-industrial-automation-suite/natsclient"
	"github.com/irfanghat/databricks-industrial-automation-suite/pkg/retry"
)

// DefaultSubject is the NATS subject register readings are published to
const DefaultSubject = "input.modbus.readings"

// Metrics holds Prometheus metrics for the Modbus input component
type Metrics struct {
	pollsTotal     prometheus.Counter
	pollErrors     prometheus.Counter
	readingsTotal  prometheus.Counter
	pollDuration   prometheus.Histogram
	lastPollTime   prometheus.Gauge
	registerValues *prometheus.GaugeVec
}

func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		pollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dias",
			Subsystem: "modbus_input",
			Name:      "polls_total",
			Help:      "Total register poll cycles",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dias",
			Subsystem: "modbus_input",
			Name:      "poll_errors_total",
			Help:      "Poll cycles that failed to read registers",
		}),
		readingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dias",
			Subsystem: "modbus_input",
			Name:      "readings_published_total",
			Help:      "Total register readings published to NATS",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dias",
			Subsystem: "modbus_input",
			Name:      "poll_duration_seconds",
			Help:      "Time to complete a poll cycle",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		lastPollTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dias",
			Subsystem: "modbus_input",
			Name:      "last_poll_timestamp",
			Help:      "Unix timestamp of the last successful poll",
		}),
		registerValues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dias",
			Subsystem: "modbus_input",
			Name:      "register_value",
			Help:      "Last scaled value per register",
		}, []string{"register"}),
	}

	registry.RegisterCounter(name, "polls", metrics.pollsTotal)
	registry.RegisterCounter(name, "poll_errors", metrics.pollErrors)
	registry.RegisterCounter(name, "readings", metrics.readingsTotal)
	registry.RegisterHistogram(name, "poll_duration", metrics.pollDuration)
	registry.RegisterGauge(name, "last_poll", metrics.lastPollTime)
	registry.RegisterGaugeVec(name, "register_values", metrics.registerValues)

	return metrics
}

// RegisterSpec maps one holding register to a named, scaled signal
type RegisterSpec struct {
	// Name identifies the signal in published readings
	Name string `json:"name"`

	// Address is the holding register address
	Address uint16 `json:"address"`

	// Scale divides the raw register value (10 means the register holds
	// the value times ten). Zero means no scaling.
	Scale float64 `json:"scale,omitempty"`
}

// Reading is the JSON payload published per polled register
type Reading struct {
	Name    string    `json:"name"`
	Address uint16    `json:"address"`
	Raw     uint16    `json:"raw"`
	Value   float64   `json:"value"`
	ReadAt  time.Time `json:"read_at"`
}

// InputConfig holds configuration for the Modbus input component
type InputConfig struct {
	// Address is the Modbus TCP server address (default 127.0.0.1:1502)
	Address string `json:"address"`

	// SlaveID is the Modbus unit identifier (default 1)
	SlaveID byte `json:"slave_id,omitempty"`

	// Registers lists the holding registers to poll
	Registers []RegisterSpec `json:"registers"`

	// PollIntervalMS is the polling cadence (default 1000)
	PollIntervalMS int `json:"poll_interval_ms,omitempty"`

	// TimeoutMS bounds each Modbus transaction (default 5000)
	TimeoutMS int `json:"timeout_ms,omitempty"`

	// Subject is the NATS subject to publish to (default input.modbus.readings)
	Subject string `json:"subject,omitempty"`
}

// Validate implements component.Validatable for secure config validation
func (c *InputConfig) Validate() error {
	if c.PollIntervalMS < 0 || c.TimeoutMS < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"InputConfig", "Validate", "interval validation")
	}
	seen := make(map[string]bool, len(c.Registers))
	for _, reg := range c.Registers {
		if reg.Name == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"InputConfig", "Validate", "register name validation")
		}
		if seen[reg.Name] {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"InputConfig", "Validate", "duplicate register name validation")
		}
		seen[reg.Name] = true
		if reg.Scale < 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"InputConfig", "Validate", "register scale validation")
		}
	}
	return nil
}

// DefaultConfig returns defaults matching the plant simulator's register
// layout (values stored times ten, pH times one hundred, RPM raw).
func DefaultConfig() InputConfig {
	return InputConfig{
		Address:        "127.0.0.1:1502",
		SlaveID:        1,
		PollIntervalMS: 1000,
		TimeoutMS:      5000,
		Subject:        DefaultSubject,
		Registers: []RegisterSpec{
			{Name: "boiler_temperature", Address: 0, Scale: 10},
			{Name: "boiler_pressure", Address: 1, Scale: 10},
			{Name: "pump_rpm", Address: 2},
			{Name: "pump_flow_rate", Address: 3, Scale: 10},
			{Name: "tank_level", Address: 4, Scale: 10},
			{Name: "tank_ph", Address: 5, Scale: 100},
		},
	}
}

func (c *InputConfig) pollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *InputConfig) timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

var modbusSchema = component.ConfigSchema{
	Properties: map[string]component.PropertySchema{
		"address": {
			Type:        "string",
			Description: "Modbus TCP server address (host:port)",
			Default:     "127.0.0.1:1502",
		},
		"slave_id": {
			Type:        "int",
			Description: "Modbus unit identifier",
			Default:     1,
		},
		"registers": {
			Type:        "array",
			Description: "Holding registers to poll (name, address, scale)",
		},
		"poll_interval_ms": {
			Type:        "int",
			Description: "Polling interval in milliseconds",
			Default:     1000,
		},
		"timeout_ms": {
			Type:        "int",
			Description: "Per-transaction timeout in milliseconds",
			Default:     5000,
		},
		"subject": {
			Type:        "string",
			Description: "NATS subject for published readings",
			Default:     DefaultSubject,
		},
	},
	Required: []string{"address", "registers"},
}

// registerReader abstracts the Modbus client for testing
type registerReader interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// Input polls Modbus holding registers and publishes readings to NATS
type Input struct {
	name       string
	config     InputConfig
	natsClient *natsclient.Client
	logger     *slog.Logger

	handler *modbus.TCPClientHandler
	reader  registerReader

	retryConfig retry.Config

	// Lifecycle management
	cancel    context.CancelFunc
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex

	pollCount      atomic.Int64
	readingsCount  atomic.Int64
	bytesPublished atomic.Int64
	errorCount     atomic.Int64
	lastError      atomic.Value // stores string
	lastActivity   atomic.Value // stores time.Time

	metrics *Metrics
}

var _ component.Discoverable = (*Input)(nil)
var _ component.LifecycleComponent = (*Input)(nil)

// InputDeps holds runtime dependencies for the Modbus input component
type InputDeps struct {
	Name            string
	Config          InputConfig
	Reader          registerReader // Optional; a TCP client is built from Config when nil
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// NewInput creates a Modbus input component
func NewInput(deps InputDeps) (*Input, error) {
	cfg := deps.Config
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.SlaveID == 0 {
		cfg.SlaveID = 1
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "modbus-input")
	}

	name := deps.Name
	if name == "" {
		name = "modbus-input"
	}

	in := &Input{
		name:        name,
		config:      cfg,
		natsClient:  deps.NATSClient,
		logger:      logger,
		reader:      deps.Reader,
		retryConfig: retry.DefaultConfig(),
		startTime:   time.Now(),
		metrics:     newMetrics(deps.MetricsRegistry, name),
	}
	in.lastActivity.Store(time.Time{})
	in.lastError.Store("")
	return in, nil
}

// Meta returns the component metadata
func (in *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        in.name,
		Type:        "input",
		Description: fmt.Sprintf("Modbus TCP register poller for %s publishing to %s", in.config.Address, in.config.Subject),
		Version:     "1.0.0",
	}
}

// InputPorts returns the input ports for this component
func (in *Input) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "modbus_tcp",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "Modbus TCP holding registers",
			Config: component.NetworkPort{
				Protocol: "modbus-tcp",
			},
		},
	}
}

// OutputPorts returns the output ports for this component
func (in *Input) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "nats_output",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "NATS subject for published register readings",
			Config: component.NATSPort{
				Subject: in.config.Subject,
			},
		},
	}
}

// ConfigSchema returns the configuration schema for this component
func (in *Input) ConfigSchema() component.ConfigSchema {
	return modbusSchema
}

// Health returns the current health status of the component
func (in *Input) Health() component.HealthStatus {
	lastError, _ := in.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    in.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(in.errorCount.Load()),
		LastError:  lastError,
		Uptime:     time.Since(in.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (in *Input) DataFlow() component.FlowMetrics {
	readings := in.readingsCount.Load()
	bytes := in.bytesPublished.Load()
	errs := in.errorCount.Load()
	lastActivity, _ := in.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(in.startTime).Seconds(); uptime > 0 {
		perSecond = float64(readings) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if polls := in.pollCount.Load(); polls > 0 {
		errorRate = float64(errs) / float64(polls)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the component's wiring but does no I/O
func (in *Input) Initialize() error {
	if in.config.Address == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"modbus-input", "Initialize", "address validation")
	}
	if len(in.config.Registers) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"modbus-input", "Initialize", "register list validation")
	}
	if in.natsClient == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"modbus-input", "Initialize", "NATS client validation")
	}
	return nil
}

// Start connects to the Modbus server and begins the polling loop
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running.Load() {
		return nil // Already running, idempotent
	}

	if in.reader == nil {
		handler := modbus.NewTCPClientHandler(in.config.Address)
		handler.Timeout = in.config.timeout()
		handler.SlaveId = in.config.SlaveID

		connect := func() error {
			return handler.Connect()
		}
		if err := retry.Do(ctx, retry.Connect(), connect); err != nil {
			return errors.WrapTransient(err, "modbus-input", "Start", "TCP connect")
		}
		in.handler = handler
		in.reader = modbus.NewClient(handler)
	}

	runCtx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	in.done = make(chan struct{})
	in.running.Store(true)
	in.startTime = time.Now()

	go in.pollLoop(runCtx)

	in.logger.Info("Modbus input started",
		"address", in.config.Address,
		"registers", len(in.config.Registers),
		"subject", in.config.Subject)
	return nil
}

// Stop halts polling and closes the TCP connection
func (in *Input) Stop(timeout time.Duration) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.running.Load() {
		return nil
	}
	in.running.Store(false)

	in.cancel()
	select {
	case <-in.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"modbus-input", "Stop", "wait for poll loop")
	}

	if in.handler != nil {
		if err := in.handler.Close(); err != nil {
			in.logger.Warn("Failed to close Modbus connection", "error", err)
		}
		in.handler = nil
		in.reader = nil
	}

	in.logger.Info("Modbus input stopped")
	return nil
}

// pollLoop reads the configured registers once per interval
func (in *Input) pollLoop(ctx context.Context) {
	defer close(in.done)

	ticker := time.NewTicker(in.config.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.poll(ctx)
		}
	}
}

// poll reads every configured register and publishes the readings
func (in *Input) poll(ctx context.Context) {
	start := time.Now()
	in.pollCount.Add(1)
	if in.metrics != nil {
		in.metrics.pollsTotal.Inc()
	}

	readings, err := in.readRegisters()
	if err != nil {
		in.recordError(err)
		if in.metrics != nil {
			in.metrics.pollErrors.Inc()
		}
		in.logger.Warn("Register poll failed", "error", err)
		return
	}

	for _, reading := range readings {
		if err := in.publish(ctx, reading); err != nil {
			in.recordError(err)
		}
	}

	in.lastActivity.Store(time.Now())
	if in.metrics != nil {
		in.metrics.pollDuration.Observe(time.Since(start).Seconds())
		in.metrics.lastPollTime.Set(float64(time.Now().Unix()))
	}
}

// readRegisters reads each configured register and applies its scale
func (in *Input) readRegisters() ([]Reading, error) {
	now := time.Now()
	readings := make([]Reading, 0, len(in.config.Registers))

	for _, spec := range in.config.Registers {
		data, err := in.reader.ReadHoldingRegisters(spec.Address, 1)
		if err != nil {
			return nil, errors.WrapTransient(err, "modbus-input", "readRegisters",
				fmt.Sprintf("read register %d", spec.Address))
		}
		if len(data) < 2 {
			return nil, errors.WrapTransient(errors.ErrInvalidValue,
				"modbus-input", "readRegisters", "short register response")
		}

		raw := binary.BigEndian.Uint16(data)
		value := float64(raw)
		if spec.Scale > 0 {
			value /= spec.Scale
		}

		readings = append(readings, Reading{
			Name:    spec.Name,
			Address: spec.Address,
			Raw:     raw,
			Value:   value,
			ReadAt:  now,
		})

		if in.metrics != nil {
			in.metrics.registerValues.WithLabelValues(spec.Name).Set(value)
		}
	}

	return readings, nil
}

func (in *Input) publish(ctx context.Context, reading Reading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return errors.Wrap(err, "modbus-input", "publish", "reading serialization")
	}

	publish := func() error {
		return in.natsClient.Publish(ctx, in.config.Subject, data)
	}
	if err := retry.Do(ctx, in.retryConfig, publish); err != nil {
		return errors.WrapTransient(err, "modbus-input", "publish", "NATS publish")
	}

	in.readingsCount.Add(1)
	in.bytesPublished.Add(int64(len(data)))
	if in.metrics != nil {
		in.metrics.readingsTotal.Inc()
	}
	return nil
}

func (in *Input) recordError(err error) {
	in.errorCount.Add(1)
	in.lastError.Store(err.Error())
}

// CreateInput creates a Modbus input component from raw configuration
func CreateInput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig InputConfig
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "modbus-input-factory", "create", "secure config parsing")
		}
		if userConfig.Address != "" {
			cfg.Address = userConfig.Address
		}
		if userConfig.SlaveID != 0 {
			cfg.SlaveID = userConfig.SlaveID
		}
		if len(userConfig.Registers) > 0 {
			cfg.Registers = userConfig.Registers
		}
		if userConfig.PollIntervalMS > 0 {
			cfg.PollIntervalMS = userConfig.PollIntervalMS
		}
		if userConfig.TimeoutMS > 0 {
			cfg.TimeoutMS = userConfig.TimeoutMS
		}
		if userConfig.Subject != "" {
			cfg.Subject = userConfig.Subject
		}
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"modbus-input-factory", "create", "NATS client validation")
	}

	return NewInput(InputDeps{
		Name:            "modbus-input",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("modbus-input"),
	})
}

// Register registers the Modbus input component with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "modbus",
		Factory:     CreateInput,
		Schema:      modbusSchema,
		Type:        "input",
		Protocol:    "modbus-tcp",
		Description: "Modbus TCP input component polling holding registers",
		Version:     "1.0.0",
	})
}
