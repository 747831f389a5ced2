package metric

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func gatherContains(t *testing.T, registry *MetricsRegistry, name string) bool {
	t.Helper()
	metricFamilies, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() == name {
			return true
		}
	}
	return false
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	err := registry.RegisterCounter("opcua-input", "test_counter", counter)
	require.NoError(t, err)

	counter.Inc()
	assert.True(t, gatherContains(t, registry, "test_counter"))
}

func TestRegisterDuplicateMetric(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dup_gauge",
		Help: "A gauge",
	})

	require.NoError(t, registry.RegisterGauge("svc", "dup_gauge", gauge))
	err := registry.RegisterGauge("svc", "dup_gauge", gauge)
	assert.Error(t, err)
}

func TestRegisterVectorMetrics(t *testing.T) {
	registry := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vec_counter",
		Help: "A counter vector",
	}, []string{"node"})
	require.NoError(t, registry.RegisterCounterVec("svc", "vec_counter", cv))

	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vec_gauge",
		Help: "A gauge vector",
	}, []string{"node"})
	require.NoError(t, registry.RegisterGaugeVec("svc", "vec_gauge", gv))

	histVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "vec_hist",
		Help: "A histogram vector",
	}, []string{"node"})
	require.NoError(t, registry.RegisterHistogramVec("svc", "vec_hist", histVec))

	cv.WithLabelValues("ns=2;i=2").Inc()
	gv.WithLabelValues("ns=2;i=2").Set(42)
	histVec.WithLabelValues("ns=2;i=2").Observe(0.01)

	assert.True(t, gatherContains(t, registry, "vec_counter"))
	assert.True(t, gatherContains(t, registry, "vec_gauge"))
	assert.True(t, gatherContains(t, registry, "vec_hist"))
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "removable_counter",
		Help: "A counter",
	})
	require.NoError(t, registry.RegisterCounter("svc", "removable", counter))

	assert.True(t, registry.Unregister("svc", "removable"))
	assert.False(t, registry.Unregister("svc", "removable"))
	assert.False(t, registry.Unregister("svc", "never-existed"))
}

func TestCoreMetricsRecording(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordServiceStatus("gateway", 2)
	core.RecordMessageReceived("opcua-input", "datachange")
	core.RecordMessageProcessed("monitor", "reading", "success")
	core.RecordMessagePublished("opcua-input", "input.opcua.datachange")
	core.RecordProcessingDuration("monitor", "evaluate", 5*time.Millisecond)
	core.RecordError("opcua-input", "read")
	core.RecordHealthStatus("gateway", true)
	core.RecordDeviceConnected("opc.tcp", "opc.tcp://localhost:4840", true)
	core.RecordDeviceRead("opc.tcp", "success")
	core.RecordDeviceWrite("opc.tcp", "error")
	core.RecordSubscriptions("opc.tcp", 3)
	core.RecordDataChange("opc.tcp", "ns=2;i=2")
	core.RecordNATSStatus(true)
	core.RecordNATSRTT(3 * time.Millisecond)
	core.RecordNATSReconnect()
	core.RecordCircuitBreakerState(0)

	assert.True(t, gatherContains(t, registry, "dias_device_connected"))
	assert.True(t, gatherContains(t, registry, "dias_device_reads_total"))
	assert.True(t, gatherContains(t, registry, "dias_device_data_changes_total"))
	assert.True(t, gatherContains(t, registry, "dias_nats_connected"))
}

func TestConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_counter_%d", n),
				Help: "A counter",
			})
			errs[n] = registry.RegisterCounter("svc", fmt.Sprintf("counter_%d", n), counter)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "registration %d failed", i)
	}
}
