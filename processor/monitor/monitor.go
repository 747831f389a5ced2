// Package monitor provides the threshold monitor processor. It consumes
// data-change events and register readings from NATS, tracks the last value
// per signal and raises alerts when configured thresholds are crossed.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cast"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
	"github.com/irfanghat/databricks-industrial-automation-suite/metric"
	"github.com/irfanghat/databricks-industrial-automation-suite/natsclient"
)

const (
	// DefaultAlertSubject is the NATS subject alerts are published to
	DefaultAlertSubject = "alerts.threshold"

	// DefaultStateKey is the KV key monitor state is persisted under
	DefaultStateKey = "monitor_state"
)

// DefaultInputSubjects are the subjects the monitor consumes by default
var DefaultInputSubjects = []string{
	"input.opcua.datachange",
	"input.modbus.readings",
}

// Direction indicates which threshold bound an alert crossed
const (
	DirectionHigh = "high"
	DirectionLow  = "low"
)

// Metrics holds Prometheus metrics for the threshold monitor
type Metrics struct {
	valuesProcessed prometheus.Counter
	parseFailures   prometheus.Counter
	alertsTotal     *prometheus.CounterVec
	signalValues    *prometheus.GaugeVec
}

func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		valuesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dias",
			Subsystem: "monitor",
			Name:      "values_processed_total",
			Help:      "Total signal values consumed from NATS",
		}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dias",
			Subsystem: "monitor",
			Name:      "parse_failures_total",
			Help:      "Messages that could not be parsed into a signal value",
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dias",
			Subsystem: "monitor",
			Name:      "alerts_total",
			Help:      "Threshold alerts raised, by signal and direction",
		}, []string{"signal", "direction"}),
		signalValues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dias",
			Subsystem: "monitor",
			Name:      "signal_value",
			Help:      "Last observed value per signal",
		}, []string{"signal"}),
	}

	registry.RegisterCounter(name, "values_processed", metrics.valuesProcessed)
	registry.RegisterCounter(name, "parse_failures", metrics.parseFailures)
	registry.RegisterCounterVec(name, "alerts", metrics.alertsTotal)
	registry.RegisterGaugeVec(name, "signal_values", metrics.signalValues)

	return metrics
}

// Threshold bounds a single signal. Nil bounds are not checked.
type Threshold struct {
	Signal string   `json:"signal"`
	High   *float64 `json:"high,omitempty"`
	Low    *float64 `json:"low,omitempty"`
}

// Alert is the JSON payload published when a threshold is crossed
type Alert struct {
	Signal    string    `json:"signal"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Direction string    `json:"direction"`
	Time      time.Time `json:"time"`
	Count     int64     `json:"count"`
}

// SignalState tracks the last observation and alert count for one signal
type SignalState struct {
	LastValue  float64   `json:"last_value"`
	LastSeen   time.Time `json:"last_seen"`
	AlertCount int64     `json:"alert_count"`
	InBreach   bool      `json:"in_breach"`
}

// ProcessorConfig holds configuration for the threshold monitor
type ProcessorConfig struct {
	// InputSubjects are the NATS subjects to consume signal values from
	InputSubjects []string `json:"input_subjects,omitempty"`

	// AlertSubject is where alerts are published (default alerts.threshold)
	AlertSubject string `json:"alert_subject,omitempty"`

	// Thresholds configures per-signal bounds
	Thresholds []Threshold `json:"thresholds"`

	// PersistIntervalMS controls how often state is written to KV. Zero
	// disables persistence.
	PersistIntervalMS int `json:"persist_interval_ms,omitempty"`

	// StateBucket is the KV bucket state snapshots go to (default dias_monitor)
	StateBucket string `json:"state_bucket,omitempty"`

	// QuerySubject answers state queries over request/reply
	// (default monitor.state.query)
	QuerySubject string `json:"query_subject,omitempty"`
}

// Validate implements component.Validatable for secure config validation
func (c *ProcessorConfig) Validate() error {
	seen := make(map[string]bool, len(c.Thresholds))
	for _, th := range c.Thresholds {
		if th.Signal == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"ProcessorConfig", "Validate", "threshold signal validation")
		}
		if seen[th.Signal] {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"ProcessorConfig", "Validate", "duplicate threshold validation")
		}
		seen[th.Signal] = true
		if th.High == nil && th.Low == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"ProcessorConfig", "Validate", "threshold bound validation")
		}
		if th.High != nil && th.Low != nil && *th.Low >= *th.High {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"ProcessorConfig", "Validate", "threshold range validation")
		}
	}
	if c.PersistIntervalMS < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"ProcessorConfig", "Validate", "persist interval validation")
	}
	return nil
}

// DefaultConfig returns defaults with no thresholds configured
func DefaultConfig() ProcessorConfig {
	return ProcessorConfig{
		InputSubjects:     append([]string(nil), DefaultInputSubjects...),
		AlertSubject:      DefaultAlertSubject,
		PersistIntervalMS: 30000,
		StateBucket:       DefaultStateBucket,
		QuerySubject:      DefaultQuerySubject,
	}
}

var monitorSchema = component.ConfigSchema{
	Properties: map[string]component.PropertySchema{
		"input_subjects": {
			Type:        "array",
			Description: "NATS subjects to consume signal values from",
		},
		"alert_subject": {
			Type:        "string",
			Description: "NATS subject alerts are published to",
			Default:     DefaultAlertSubject,
		},
		"thresholds": {
			Type:        "array",
			Description: "Per-signal bounds (signal, high, low)",
		},
		"persist_interval_ms": {
			Type:        "int",
			Description: "State persistence interval in milliseconds, 0 disables",
			Default:     30000,
		},
		"state_bucket": {
			Type:        "string",
			Description: "KV bucket for state snapshots",
			Default:     DefaultStateBucket,
		},
		"query_subject": {
			Type:        "string",
			Description: "Request/reply subject for state queries",
			Default:     DefaultQuerySubject,
		},
	},
	Required: []string{"thresholds"},
}

// Processor consumes signal values and raises threshold alerts
type Processor struct {
	name       string
	config     ProcessorConfig
	natsClient *natsclient.Client
	logger     *slog.Logger

	thresholds map[string]Threshold
	kvStore    *natsclient.KVStore // nil disables persistence
	resolver   *natsclient.TemporalResolver
	querySub   *nats.Subscription

	stateMu sync.RWMutex
	state   map[string]*SignalState

	// Lifecycle management
	cancel    context.CancelFunc
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex

	valuesProcessed atomic.Int64
	alertsRaised    atomic.Int64
	errorCount      atomic.Int64
	lastError       atomic.Value // stores string
	lastActivity    atomic.Value // stores time.Time

	metrics *Metrics
}

var _ component.Discoverable = (*Processor)(nil)
var _ component.LifecycleComponent = (*Processor)(nil)

// ProcessorDeps holds runtime dependencies for the threshold monitor
type ProcessorDeps struct {
	Name            string
	Config          ProcessorConfig
	NATSClient      *natsclient.Client
	KVStore         *natsclient.KVStore // Optional; enables state persistence
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// NewProcessor creates a threshold monitor processor
func NewProcessor(deps ProcessorDeps) (*Processor, error) {
	cfg := deps.Config
	if len(cfg.InputSubjects) == 0 {
		cfg.InputSubjects = append([]string(nil), DefaultInputSubjects...)
	}
	if cfg.AlertSubject == "" {
		cfg.AlertSubject = DefaultAlertSubject
	}
	if cfg.StateBucket == "" {
		cfg.StateBucket = DefaultStateBucket
	}
	if cfg.QuerySubject == "" {
		cfg.QuerySubject = DefaultQuerySubject
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "threshold-monitor")
	}

	name := deps.Name
	if name == "" {
		name = "threshold-monitor"
	}

	thresholds := make(map[string]Threshold, len(cfg.Thresholds))
	for _, th := range cfg.Thresholds {
		thresholds[th.Signal] = th
	}

	p := &Processor{
		name:       name,
		config:     cfg,
		natsClient: deps.NATSClient,
		logger:     logger,
		thresholds: thresholds,
		kvStore:    deps.KVStore,
		state:      make(map[string]*SignalState),
		startTime:  time.Now(),
		metrics:    newMetrics(deps.MetricsRegistry, name),
	}
	p.lastActivity.Store(time.Time{})
	p.lastError.Store("")
	return p, nil
}

// Meta returns the component metadata
func (p *Processor) Meta() component.Metadata {
	return component.Metadata{
		Name:        p.name,
		Type:        "processor",
		Description: fmt.Sprintf("Threshold monitor for %d signals publishing to %s", len(p.thresholds), p.config.AlertSubject),
		Version:     "1.0.0",
	}
}

// InputPorts returns the input ports for this component
func (p *Processor) InputPorts() []component.Port {
	ports := make([]component.Port, 0, len(p.config.InputSubjects))
	for _, subject := range p.config.InputSubjects {
		ports = append(ports, component.Port{
			Name:        "signal_input",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "Signal values to monitor",
			Config:      component.NATSPort{Subject: subject},
		})
	}
	return ports
}

// OutputPorts returns the output ports for this component
func (p *Processor) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "alert_output",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "Threshold alerts",
			Config:      component.NATSPort{Subject: p.config.AlertSubject},
		},
	}
}

// ConfigSchema returns the configuration schema for this component
func (p *Processor) ConfigSchema() component.ConfigSchema {
	return monitorSchema
}

// Health returns the current health status of the component
func (p *Processor) Health() component.HealthStatus {
	lastError, _ := p.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    p.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(p.errorCount.Load()),
		LastError:  lastError,
		Uptime:     time.Since(p.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (p *Processor) DataFlow() component.FlowMetrics {
	values := p.valuesProcessed.Load()
	errs := p.errorCount.Load()
	lastActivity, _ := p.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(p.startTime).Seconds(); uptime > 0 {
		perSecond = float64(values) / uptime
	}
	if values > 0 {
		errorRate = float64(errs) / float64(values)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the component's wiring but does no I/O
func (p *Processor) Initialize() error {
	if len(p.thresholds) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"threshold-monitor", "Initialize", "threshold validation")
	}
	if p.natsClient == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"threshold-monitor", "Initialize", "NATS client validation")
	}
	return nil
}

// Start restores persisted state, subscribes to the input subjects and
// begins evaluating thresholds
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return nil // Already running, idempotent
	}

	runCtx, cancel := context.WithCancel(ctx)

	p.setupPersistence(runCtx)
	if err := p.restoreState(runCtx); err != nil {
		// Missing state is a cold start, not a failure
		p.logger.Info("No persisted monitor state, starting fresh", "reason", err)
	}
	p.startQueryHandler(runCtx)

	for _, subject := range p.config.InputSubjects {
		if err := p.natsClient.Subscribe(runCtx, subject, p.handleMessage); err != nil {
			p.stopQueryHandler()
			cancel()
			return errors.WrapTransient(err, "threshold-monitor", "Start",
				fmt.Sprintf("subscribe %s", subject))
		}
	}

	p.cancel = cancel
	p.done = make(chan struct{})
	p.running.Store(true)
	p.startTime = time.Now()

	go p.persistLoop(runCtx)

	p.logger.Info("Threshold monitor started",
		"subjects", p.config.InputSubjects,
		"thresholds", len(p.thresholds),
		"alert_subject", p.config.AlertSubject)
	return nil
}

// Stop persists state and cancels the subscriptions
func (p *Processor) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)

	ctx, cancelPersist := context.WithTimeout(context.Background(), timeout)
	defer cancelPersist()
	if err := p.persistState(ctx); err != nil {
		p.logger.Warn("Failed to persist monitor state on shutdown", "error", err)
	}

	p.stopQueryHandler()
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"threshold-monitor", "Stop", "wait for persist loop")
	}

	p.logger.Info("Threshold monitor stopped")
	return nil
}

// handleMessage normalizes an inbound message to a signal observation.
// Data-change events carry "node_id", register readings carry "name".
func (p *Processor) handleMessage(ctx context.Context, data []byte) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		p.recordParseFailure(err)
		return
	}

	signal, _ := payload["node_id"].(string)
	if signal == "" {
		signal, _ = payload["name"].(string)
	}
	if signal == "" {
		p.recordParseFailure(fmt.Errorf("message has neither node_id nor name"))
		return
	}

	value, err := cast.ToFloat64E(payload["value"])
	if err != nil {
		p.recordParseFailure(err)
		return
	}

	p.observe(ctx, signal, value)
}

// observe updates the signal state and raises an alert on a fresh breach.
// A signal already in breach does not re-alert until it recovers.
func (p *Processor) observe(ctx context.Context, signal string, value float64) {
	now := time.Now()
	p.valuesProcessed.Add(1)
	p.lastActivity.Store(now)
	if p.metrics != nil {
		p.metrics.valuesProcessed.Inc()
		p.metrics.signalValues.WithLabelValues(signal).Set(value)
	}

	threshold, watched := p.thresholds[signal]

	p.stateMu.Lock()
	state, ok := p.state[signal]
	if !ok {
		state = &SignalState{}
		p.state[signal] = state
	}
	state.LastValue = value
	state.LastSeen = now

	var alert *Alert
	if watched {
		direction, bound, breached := threshold.check(value)
		if breached && !state.InBreach {
			state.AlertCount++
			alert = &Alert{
				Signal:    signal,
				Value:     value,
				Threshold: bound,
				Direction: direction,
				Time:      now,
				Count:     state.AlertCount,
			}
		}
		state.InBreach = breached
	}
	p.stateMu.Unlock()

	if alert != nil {
		p.publishAlert(ctx, *alert)
	}
}

// check reports whether value breaches the threshold and which bound
func (t Threshold) check(value float64) (direction string, bound float64, breached bool) {
	if t.High != nil && value > *t.High {
		return DirectionHigh, *t.High, true
	}
	if t.Low != nil && value < *t.Low {
		return DirectionLow, *t.Low, true
	}
	return "", 0, false
}

func (p *Processor) publishAlert(ctx context.Context, alert Alert) {
	data, err := json.Marshal(alert)
	if err != nil {
		p.recordError(err)
		return
	}
	if err := p.natsClient.Publish(ctx, p.config.AlertSubject, data); err != nil {
		p.recordError(err)
		return
	}

	p.alertsRaised.Add(1)
	if p.metrics != nil {
		p.metrics.alertsTotal.WithLabelValues(alert.Signal, alert.Direction).Inc()
	}
	p.logger.Warn("Threshold alert",
		"signal", alert.Signal,
		"value", alert.Value,
		"threshold", alert.Threshold,
		"direction", alert.Direction,
		"count", alert.Count)
}

// persistLoop writes monitor state to KV at the configured interval
func (p *Processor) persistLoop(ctx context.Context) {
	defer close(p.done)

	if p.kvStore == nil || p.config.PersistIntervalMS <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(time.Duration(p.config.PersistIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.persistState(ctx); err != nil {
				p.logger.Warn("Failed to persist monitor state", "error", err)
			}
		}
	}
}

func (p *Processor) persistState(ctx context.Context) error {
	if p.kvStore == nil {
		return nil
	}

	p.stateMu.RLock()
	data, err := json.Marshal(p.state)
	p.stateMu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "threshold-monitor", "persistState", "state serialization")
	}

	if _, err := p.kvStore.Put(ctx, DefaultStateKey, data); err != nil {
		return errors.WrapTransient(err, "threshold-monitor", "persistState", "KV put")
	}
	return nil
}

func (p *Processor) restoreState(ctx context.Context) error {
	if p.kvStore == nil {
		return fmt.Errorf("persistence disabled")
	}

	entry, err := p.kvStore.Get(ctx, DefaultStateKey)
	if err != nil {
		return err
	}

	restored := make(map[string]*SignalState)
	if err := json.Unmarshal(entry.Value, &restored); err != nil {
		return errors.Wrap(err, "threshold-monitor", "restoreState", "state parsing")
	}

	p.stateMu.Lock()
	p.state = restored
	p.stateMu.Unlock()

	p.logger.Info("Restored monitor state", "signals", len(restored))
	return nil
}

// State returns a snapshot of the tracked signal states
func (p *Processor) State() map[string]SignalState {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()

	snapshot := make(map[string]SignalState, len(p.state))
	for signal, state := range p.state {
		snapshot[signal] = *state
	}
	return snapshot
}

func (p *Processor) recordError(err error) {
	p.errorCount.Add(1)
	p.lastError.Store(err.Error())
}

func (p *Processor) recordParseFailure(err error) {
	p.recordError(err)
	if p.metrics != nil {
		p.metrics.parseFailures.Inc()
	}
}

// CreateProcessor creates a threshold monitor from raw configuration
func CreateProcessor(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()

	if len(rawConfig) > 0 {
		var userConfig ProcessorConfig
		if err := component.SafeUnmarshal(rawConfig, &userConfig); err != nil {
			return nil, errors.Wrap(err, "monitor-factory", "create", "secure config parsing")
		}
		if len(userConfig.InputSubjects) > 0 {
			cfg.InputSubjects = userConfig.InputSubjects
		}
		if userConfig.AlertSubject != "" {
			cfg.AlertSubject = userConfig.AlertSubject
		}
		cfg.Thresholds = userConfig.Thresholds
		if userConfig.PersistIntervalMS > 0 {
			cfg.PersistIntervalMS = userConfig.PersistIntervalMS
		}
		if userConfig.StateBucket != "" {
			cfg.StateBucket = userConfig.StateBucket
		}
		if userConfig.QuerySubject != "" {
			cfg.QuerySubject = userConfig.QuerySubject
		}
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"monitor-factory", "create", "NATS client validation")
	}

	return NewProcessor(ProcessorDeps{
		Name:            "threshold-monitor",
		Config:          cfg,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent("threshold-monitor"),
	})
}

// Register registers the threshold monitor with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "monitor",
		Factory:     CreateProcessor,
		Schema:      monitorSchema,
		Type:        "processor",
		Protocol:    "nats",
		Description: "Threshold monitor raising alerts on signal bounds",
		Version:     "1.0.0",
	})
}
