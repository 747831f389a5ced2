package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dias"

func gaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func gauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

// Metrics holds the platform-level collectors every service shares.
// Component-specific collectors go through MetricsRegistrar instead.
type Metrics struct {
	ServiceStatus      *prometheus.GaugeVec
	MessagesReceived   *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec

	DeviceConnected     *prometheus.GaugeVec
	DeviceReadsTotal    *prometheus.CounterVec
	DeviceWritesTotal   *prometheus.CounterVec
	SubscriptionsActive *prometheus.GaugeVec
	DataChangesTotal    *prometheus.CounterVec

	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: gaugeVec("service", "status",
			"Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			"service"),
		MessagesReceived: counterVec("messages", "received_total",
			"Total number of messages received",
			"service", "type"),
		MessagesProcessed: counterVec("messages", "processed_total",
			"Total number of messages processed",
			"service", "type", "status"),
		MessagesPublished: counterVec("messages", "published_total",
			"Total number of messages published",
			"service", "subject"),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processing",
			Name:      "duration_seconds",
			Help:      "Message processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation"}),
		ErrorsTotal: counterVec("errors", "total",
			"Total number of errors",
			"service", "type"),
		HealthCheckStatus: gaugeVec("health", "status",
			"Health check status (0=unhealthy, 1=healthy)",
			"service"),

		DeviceConnected: gaugeVec("device", "connected",
			"Device connection status (0=disconnected, 1=connected)",
			"protocol", "endpoint"),
		DeviceReadsTotal: counterVec("device", "reads_total",
			"Total number of attribute reads against field devices",
			"protocol", "status"),
		DeviceWritesTotal: counterVec("device", "writes_total",
			"Total number of attribute writes against field devices",
			"protocol", "status"),
		SubscriptionsActive: gaugeVec("device", "subscriptions_active",
			"Number of active data change subscriptions",
			"protocol"),
		DataChangesTotal: counterVec("device", "data_changes_total",
			"Total number of data change notifications received",
			"protocol", "node"),

		NATSConnected: gauge("nats", "connected",
			"NATS connection status (0=disconnected, 1=connected)"),
		NATSRTT: gauge("nats", "rtt_milliseconds",
			"NATS round-trip time in milliseconds"),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
		NATSCircuitBreaker: gauge("nats", "circuit_breaker",
			"NATS circuit breaker status (0=closed, 1=open, 2=half-open)"),
	}
}

// collectors lists everything NewMetricsRegistry must register up front.
func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.MessagesReceived,
		c.MessagesProcessed,
		c.MessagesPublished,
		c.ProcessingDuration,
		c.ErrorsTotal,
		c.HealthCheckStatus,
		c.DeviceConnected,
		c.DeviceReadsTotal,
		c.DeviceWritesTotal,
		c.SubscriptionsActive,
		c.DataChangesTotal,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

func (c *Metrics) RecordMessageReceived(service, messageType string) {
	c.MessagesReceived.WithLabelValues(service, messageType).Inc()
}

func (c *Metrics) RecordMessageProcessed(service, messageType, status string) {
	c.MessagesProcessed.WithLabelValues(service, messageType, status).Inc()
}

func (c *Metrics) RecordMessagePublished(service, subject string) {
	c.MessagesPublished.WithLabelValues(service, subject).Inc()
}

func (c *Metrics) RecordProcessingDuration(service, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func (c *Metrics) RecordError(service, errorType string) {
	c.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	c.HealthCheckStatus.WithLabelValues(service).Set(boolToGauge(healthy))
}

func (c *Metrics) RecordDeviceConnected(protocol, endpoint string, connected bool) {
	c.DeviceConnected.WithLabelValues(protocol, endpoint).Set(boolToGauge(connected))
}

func (c *Metrics) RecordDeviceRead(protocol, status string) {
	c.DeviceReadsTotal.WithLabelValues(protocol, status).Inc()
}

func (c *Metrics) RecordDeviceWrite(protocol, status string) {
	c.DeviceWritesTotal.WithLabelValues(protocol, status).Inc()
}

func (c *Metrics) RecordSubscriptions(protocol string, count int) {
	c.SubscriptionsActive.WithLabelValues(protocol).Set(float64(count))
}

func (c *Metrics) RecordDataChange(protocol, node string) {
	c.DataChangesTotal.WithLabelValues(protocol, node).Inc()
}

func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolToGauge(connected))
}

func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
