// Package opcuainput provides the OPC UA input component. It owns a
// data-change subscription over an OPC UA session and publishes each
// change as JSON to NATS.
package opcuainput

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
	"github.com/irfanghat/databricks-industrial-automation-suite/metric"
	"github.com/irfanghat/databricks-industrial-automation-suite/natsclient"
	"github.com/irfanghat/databricks-industrial-automation-suite/opcua"
	"github.com/irfanghat/databricks-industrial-automation-suite/pkg/buffer"
	"github.com/irfanghat/databricks-industrial-automation-suite/pkg/retry"
)

// DefaultSubject is the NATS subject data changes are published to
const DefaultSubject = "input.opcua.datachange"

// Metrics holds Prometheus metrics for the OPC UA input component
type Metrics struct {
	eventsReceived  prometheus.Counter
	eventsPublished prometheus.Counter
	eventsDropped   prometheus.Counter
	publishLatency  prometheus.Histogram
	lastActivity    prometheus.Gauge
}

// newMetrics creates and registers OPC UA input metrics
func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dias",
			Subsystem: "opcua_input",
			Name:      "events_received_total",
			Help:      "Total data-change events received from the server",
		}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dias",
			Subsystem: "opcua_input",
			Name:      "events_published_total",
			Help:      "Total data-change events published to NATS",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dias",
			Subsystem: "opcua_input",
			Name:      "events_dropped_total",
			Help:      "Events dropped due to buffer overflow",
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dias",
			Subsystem: "opcua_input",
			Name:      "publish_duration_seconds",
			Help:      "Time to publish events to NATS",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dias",
			Subsystem: "opcua_input",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of the last received data change",
		}),
	}

	registry.RegisterCounter(name, "events_received", metrics.eventsReceived)
	registry.RegisterCounter(name, "events_published", metrics.eventsPublished)
	registry.RegisterCounter(name, "events_dropped", metrics.eventsDropped)
	registry.RegisterHistogram(name, "publish_latency", metrics.publishLatency)
	registry.RegisterGauge(name, "last_activity", metrics.lastActivity)

	return metrics
}

// DataChangeEvent is the JSON payload published for each data change
type DataChangeEvent struct {
	NodeID     string    `json:"node_id"`
	Value      any       `json:"value"`
	SourceTime time.Time `json:"source_time,omitempty"`
	ServerTime time.Time `json:"server_time,omitempty"`
	Endpoint   string    `json:"endpoint"`
	ReceivedAt time.Time `json:"received_at"`
}

// InputConfig holds configuration for the OPC UA input component
type InputConfig struct {
	// Endpoint is the server URL (default opc.tcp://127.0.0.1:4840/)
	Endpoint string `json:"endpoint"`

	// SecurityPolicy / SecurityMode select the secure channel settings
	SecurityPolicy string `json:"security_policy,omitempty"`
	SecurityMode   string `json:"security_mode,omitempty"`
	CertFile       string `json:"cert_file,omitempty"`
	KeyFile        string `json:"key_file,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`

	// NodeIDs are the nodes to monitor
	NodeIDs []string `json:"node_ids"`

	// SubscribeIntervalMS is the subscription publish interval (default 1000)
	SubscribeIntervalMS int `json:"subscribe_interval_ms,omitempty"`

	// Subject is the NATS subject to publish to (default input.opcua.datachange)
	Subject string `json:"subject,omitempty"`

	// UseJetStream publishes through JetStream for persistent history
	UseJetStream bool `json:"use_jetstream,omitempty"`
}

// Validate implements component.Validatable for secure config validation
func (c *InputConfig) Validate() error {
	if c.Endpoint != "" && !opcua.ValidEndpoint(c.Endpoint) {
		return errors.WrapInvalid(errors.ErrInvalidEndpoint,
			"InputConfig", "Validate", "endpoint validation")
	}
	if c.SecurityPolicy != "" && !opcua.ValidPolicy(c.SecurityPolicy) {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"InputConfig", "Validate", "security policy validation")
	}
	if c.SecurityMode != "" && !opcua.ValidMode(c.SecurityMode) {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"InputConfig", "Validate", "security mode validation")
	}
	if c.SubscribeIntervalMS < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"InputConfig", "Validate", "subscribe interval validation")
	}
	return nil
}

// DefaultConfig returns sensible defaults for the OPC UA input
func DefaultConfig() InputConfig {
	return InputConfig{
		Endpoint:            "opc.tcp://127.0.0.1:4840/",
		SubscribeIntervalMS: 1000,
		Subject:             DefaultSubject,
	}
}

// interval returns the subscription interval as a duration
func (c *InputConfig) interval() time.Duration {
	if c.SubscribeIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(c.SubscribeIntervalMS) * time.Millisecond
}

// opcuaSchema defines the configuration schema for the OPC UA input
var opcuaSchema = component.ConfigSchema{
	Properties: map[string]component.PropertySchema{
		"endpoint": {
			Type:        "string",
			Description: "OPC UA server URL (opc.tcp://)",
			Default:     "opc.tcp://127.0.0.1:4840/",
		},
		"security_policy": {
			Type:        "enum",
			Description: "OPC UA security policy",
			Default:     opcua.PolicyNone,
			Enum:        opcua.KnownPolicies,
		},
		"security_mode": {
			Type:        "enum",
			Description: "OPC UA message security mode",
			Default:     opcua.ModeNone,
			Enum:        opcua.KnownModes,
		},
		"cert_file": {
			Type:        "string",
			Description: "Client certificate PEM path",
		},
		"key_file": {
			Type:        "string",
			Description: "Client private key PEM path",
		},
		"node_ids": {
			Type:        "array",
			Description: "Node IDs to monitor for data changes",
		},
		"subscribe_interval_ms": {
			Type:        "int",
			Description: "Subscription publish interval in milliseconds",
			Default:     1000,
		},
		"subject": {
			Type:        "string",
			Description: "NATS subject for published data changes",
			Default:     DefaultSubject,
		},
		"use_jetstream": {
			Type:        "bool",
			Description: "Publish through JetStream for persistent history",
			Default:     false,
		},
	},
	Required: []string{"node_ids"},
}

// Input subscribes to OPC UA data changes and publishes them to NATS
type Input struct {
	name       string
	config     InputConfig
	session    opcua.Session
	natsClient *natsclient.Client
	logger     *slog.Logger

	buffer      *buffer.Ring[[]byte]
	retryConfig retry.Config

	// Lifecycle management
	cancel    context.CancelFunc
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex

	// Flow counters
	eventsReceived atomic.Int64
	bytesPublished atomic.Int64
	errorCount     atomic.Int64
	lastError      atomic.Value // stores string
	lastActivity   atomic.Value // stores time.Time

	metrics *Metrics
}

var _ component.Discoverable = (*Input)(nil)
var _ component.LifecycleComponent = (*Input)(nil)

// InputDeps holds runtime dependencies for the OPC UA input component
type InputDeps struct {
	Name            string
	Config          InputConfig
	Session         opcua.Session // Optional; built from Config when nil
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// NewInput creates an OPC UA input component
func NewInput(deps InputDeps) (*Input, error) {
	cfg := deps.Config
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "opcua-input")
	}

	session := deps.Session
	if session == nil {
		client, err := opcua.NewClient(opcua.Config{
			Endpoint:       cfg.Endpoint,
			SecurityPolicy: cfg.SecurityPolicy,
			SecurityMode:   cfg.SecurityMode,
			CertFile:       cfg.CertFile,
			KeyFile:        cfg.KeyFile,
			Username:       cfg.Username,
			Password:       cfg.Password,
		}, logger)
		if err != nil {
			return nil, err
		}
		session = client
	}

	eventBuffer, err := buffer.NewRing[[]byte](1024)
	if err != nil {
		return nil, errors.WrapFatal(err, "opcua-input", "NewInput", "create event buffer")
	}

	name := deps.Name
	if name == "" {
		name = "opcua-input"
	}

	in := &Input{
		name:        name,
		config:      cfg,
		session:     session,
		natsClient:  deps.NATSClient,
		logger:      logger,
		buffer:      eventBuffer,
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
		Description: fmt.Sprintf("OPC UA data-change input from %s publishing to %s", in.session.Endpoint(), in.config.Subject),
		Version:     "1.0.0",
	}
}

// InputPorts returns the input ports for this component
func (in *Input) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "opcua_session",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "OPC UA data-change subscription",
			Config: component.NetworkPort{
				Protocol: "opc.tcp",
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
			Description: "NATS subject for published data changes",
			Config: component.NATSPort{
				Subject: in.config.Subject,
			},
		},
	}
}

// ConfigSchema returns the configuration schema for this component
func (in *Input) ConfigSchema() component.ConfigSchema {
	return opcuaSchema
}

// Health returns the current health status of the component
func (in *Input) Health() component.HealthStatus {
	lastError, _ := in.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    in.running.Load() && in.session.Connected(),
		LastCheck:  time.Now(),
		ErrorCount: int(in.errorCount.Load()),
		LastError:  lastError,
		Uptime:     time.Since(in.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (in *Input) DataFlow() component.FlowMetrics {
	events := in.eventsReceived.Load()
	bytes := in.bytesPublished.Load()
	errs := in.errorCount.Load()
	lastActivity, _ := in.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(in.startTime).Seconds(); uptime > 0 {
		perSecond = float64(events) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if events > 0 {
		errorRate = float64(errs) / float64(events)
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
	if len(in.config.NodeIDs) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"opcua-input", "Initialize", "node IDs validation")
	}
	if in.config.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"opcua-input", "Initialize", "subject validation")
	}
	if in.natsClient == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"opcua-input", "Initialize", "NATS client validation")
	}
	return nil
}

// Start connects the session, subscribes to the configured nodes and
// begins publishing data changes
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running.Load() {
		return nil // Already running, idempotent
	}

	connect := func() error {
		return in.session.Connect(ctx)
	}
	if err := retry.Do(ctx, retry.Connect(), connect); err != nil {
		return errors.WrapTransient(err, "opcua-input", "Start", "session connect")
	}

	if err := in.session.Subscribe(ctx, in.config.NodeIDs, in.config.interval()); err != nil {
		_ = in.session.Close(ctx)
		return errors.Wrap(err, "opcua-input", "Start", "subscribe")
	}

	runCtx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	in.done = make(chan struct{})
	in.running.Store(true)
	in.startTime = time.Now()

	go in.consumeLoop(runCtx)

	in.logger.Info("OPC UA input started",
		"endpoint", in.session.Endpoint(),
		"node_ids", in.config.NodeIDs,
		"subject", in.config.Subject)
	return nil
}

// Stop unsubscribes, disconnects and waits for the consume loop to drain
func (in *Input) Stop(timeout time.Duration) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.running.Load() {
		return nil
	}
	in.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := in.session.Unsubscribe(ctx); err != nil && !errors.IsInvalid(err) {
		in.logger.Warn("Failed to cancel subscription", "error", err)
	}
	if err := in.session.Close(ctx); err != nil {
		in.logger.Warn("Failed to close session", "error", err)
	}

	in.cancel()
	select {
	case <-in.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"opcua-input", "Stop", "wait for consume loop")
	}

	_ = in.buffer.Close()
	in.logger.Info("OPC UA input stopped")
	return nil
}

// consumeLoop reads data changes from the session and publishes them
func (in *Input) consumeLoop(ctx context.Context) {
	defer close(in.done)

	changes := in.session.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			in.handleChange(ctx, change)
		}
	}
}

func (in *Input) handleChange(ctx context.Context, change opcua.DataChange) {
	now := time.Now()
	in.eventsReceived.Add(1)
	in.lastActivity.Store(now)
	if in.metrics != nil {
		in.metrics.eventsReceived.Inc()
		in.metrics.lastActivity.Set(float64(now.Unix()))
	}

	event := DataChangeEvent{
		NodeID:     change.NodeID,
		Value:      change.Value,
		SourceTime: change.SourceTime,
		ServerTime: change.ServerTime,
		Endpoint:   in.session.Endpoint(),
		ReceivedAt: now,
	}
	data, err := json.Marshal(event)
	if err != nil {
		in.recordError(err)
		return
	}

	if err := in.buffer.Write(data); err != nil {
		if in.metrics != nil {
			in.metrics.eventsDropped.Inc()
		}
		return
	}

	in.publishBuffered(ctx)
}

// publishBuffered drains the buffer to NATS, retrying transient failures
func (in *Input) publishBuffered(ctx context.Context) {
	const maxBatchSize = 64
	for _, data := range in.buffer.ReadBatch(maxBatchSize) {
		payload := data
		publish := func() error {
			return in.publish(ctx, payload)
		}
		if err := retry.Do(ctx, in.retryConfig, publish); err != nil {
			in.recordError(err)
		}
	}
}

func (in *Input) publish(ctx context.Context, data []byte) error {
	var start time.Time
	if in.metrics != nil {
		start = time.Now()
	}

	var err error
	if in.config.UseJetStream {
		err = in.natsClient.PublishToStream(ctx, in.config.Subject, data)
	} else {
		err = in.natsClient.Publish(ctx, in.config.Subject, data)
	}
	if err != nil {
		return errors.WrapTransient(err, "opcua-input", "publish", "NATS publish")
	}

	in.bytesPublished.Add(int64(len(data)))
	if in.metrics != nil {
		in.metrics.eventsPublished.Inc()
		in.metrics.publishLatency.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (in *Input) recordError(err error) {
	in.errorCount.Add(1)
	in.lastError.Store(err.Error())
}

// CreateInput creates an OPC UA input component from raw configuration
func CreateInput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig InputConfig
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "opcua-input-factory", "create", "secure config parsing")
		}
		if userConfig.Endpoint != "" {
			cfg.Endpoint = userConfig.Endpoint
		}
		cfg.SecurityPolicy = userConfig.SecurityPolicy
		cfg.SecurityMode = userConfig.SecurityMode
		cfg.CertFile = userConfig.CertFile
		cfg.KeyFile = userConfig.KeyFile
		cfg.Username = userConfig.Username
		cfg.Password = userConfig.Password
		cfg.NodeIDs = userConfig.NodeIDs
		if userConfig.SubscribeIntervalMS > 0 {
			cfg.SubscribeIntervalMS = userConfig.SubscribeIntervalMS
		}
		if userConfig.Subject != "" {
			cfg.Subject = userConfig.Subject
		}
		cfg.UseJetStream = userConfig.UseJetStream
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"opcua-input-factory", "create", "NATS client validation")
	}

	return NewInput(InputDeps{
		Name:            "opcua-input",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("opcua-input"),
	})
}

// Register registers the OPC UA input component with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "opcua",
		Factory:     CreateInput,
		Schema:      opcuaSchema,
		Type:        "input",
		Protocol:    "opc.tcp",
		Description: "OPC UA input component publishing data-change events",
		Version:     "1.0.0",
	})
}
