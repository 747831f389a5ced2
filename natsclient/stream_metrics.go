package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/irfanghat/databricks-industrial-automation-suite/metric"
)

// streamMetrics exposes JetStream state for the telemetry streams this
// client provisions. Only streams created through the client are
// tracked; the poller refreshes their message and byte counts.
//
// All methods are nil-safe so call sites don't need to care whether
// metrics are enabled.
type streamMetrics struct {
	streamMessages *prometheus.GaugeVec   // message count per stream
	streamBytes    *prometheus.GaugeVec   // storage bytes per stream
	streamUp       *prometheus.GaugeVec   // 1 while the stream answers Info
	publishes      *prometheus.CounterVec // acknowledged stream publishes per subject
	errors         *prometheus.CounterVec // failed JetStream operations

	mu      sync.RWMutex
	streams map[string]jetstream.Stream
}

func newStreamMetrics(registry *metric.MetricsRegistry) (*streamMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &streamMetrics{
		streamMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dias",
			Subsystem: "jetstream",
			Name:      "stream_messages",
			Help:      "Current number of messages in stream",
		}, []string{"stream"}),

		streamBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dias",
			Subsystem: "jetstream",
			Name:      "stream_bytes",
			Help:      "Storage bytes used by stream",
		}, []string{"stream"}),

		streamUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dias",
			Subsystem: "jetstream",
			Name:      "stream_up",
			Help:      "Whether the stream is reachable (1) or not (0)",
		}, []string{"stream"}),

		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dias",
			Subsystem: "jetstream",
			Name:      "publishes_total",
			Help:      "Acknowledged JetStream publishes by subject",
		}, []string{"subject"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dias",
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "Failed JetStream operations by operation",
		}, []string{"operation"}),

		streams: make(map[string]jetstream.Stream),
	}

	if err := registry.RegisterGaugeVec("jetstream", "stream_messages", m.streamMessages); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("jetstream", "stream_bytes", m.streamBytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("jetstream", "stream_up", m.streamUp); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("jetstream", "publishes", m.publishes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("jetstream", "errors", m.errors); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *streamMetrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[name] = stream
	m.streamUp.WithLabelValues(name).Set(1)
}

func (m *streamMetrics) recordPublish(subject string) {
	if m != nil {
		m.publishes.WithLabelValues(subject).Inc()
	}
}

func (m *streamMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// updateStats refreshes gauges for every tracked stream. A stream that
// stops answering Info is marked down rather than treated as an error.
func (m *streamMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	streams := make(map[string]jetstream.Stream, len(m.streams))
	for k, v := range m.streams {
		streams[k] = v
	}
	m.mu.RUnlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			m.streamUp.WithLabelValues(name).Set(0)
			continue
		}

		m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
		m.streamBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
		m.streamUp.WithLabelValues(name).Set(1)
	}
}

// startPoller refreshes stream stats on a ticker until the returned
// cancel function is called
func (m *streamMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.updateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return cancel
}
