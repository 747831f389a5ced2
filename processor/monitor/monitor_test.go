package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
	"github.com/irfanghat/databricks-industrial-automation-suite/natsclient"
)

func floatPtr(v float64) *float64 { return &v }

func testConfig() ProcessorConfig {
	cfg := DefaultConfig()
	cfg.Thresholds = []Threshold{
		{Signal: "ns=2;i=5", High: floatPtr(110), Low: floatPtr(90)},
		{Signal: "tank_ph", High: floatPtr(9), Low: floatPtr(5)},
	}
	cfg.PersistIntervalMS = 0
	return cfg
}

func newTestProcessor(t *testing.T, client *natsclient.Client) *Processor {
	t.Helper()
	p, err := NewProcessor(ProcessorDeps{
		Name:       "threshold-monitor",
		Config:     testConfig(),
		NATSClient: client,
	})
	require.NoError(t, err)
	return p
}

func TestProcessorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProcessorConfig)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(c *ProcessorConfig) {},
		},
		{
			name: "unnamed threshold",
			mutate: func(c *ProcessorConfig) {
				c.Thresholds = append(c.Thresholds, Threshold{High: floatPtr(1)})
			},
			wantErr: true,
		},
		{
			name: "duplicate signal",
			mutate: func(c *ProcessorConfig) {
				c.Thresholds = append(c.Thresholds, Threshold{Signal: "tank_ph", High: floatPtr(1)})
			},
			wantErr: true,
		},
		{
			name: "no bounds",
			mutate: func(c *ProcessorConfig) {
				c.Thresholds = append(c.Thresholds, Threshold{Signal: "x"})
			},
			wantErr: true,
		},
		{
			name: "inverted range",
			mutate: func(c *ProcessorConfig) {
				c.Thresholds = append(c.Thresholds, Threshold{Signal: "x", High: floatPtr(1), Low: floatPtr(2)})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestThreshold_Check(t *testing.T) {
	th := Threshold{Signal: "x", High: floatPtr(100), Low: floatPtr(10)}

	direction, bound, breached := th.check(150)
	assert.True(t, breached)
	assert.Equal(t, DirectionHigh, direction)
	assert.Equal(t, 100.0, bound)

	direction, bound, breached = th.check(5)
	assert.True(t, breached)
	assert.Equal(t, DirectionLow, direction)
	assert.Equal(t, 10.0, bound)

	_, _, breached = th.check(50)
	assert.False(t, breached)

	// Bounds are exclusive
	_, _, breached = th.check(100)
	assert.False(t, breached)
	_, _, breached = th.check(10)
	assert.False(t, breached)
}

func TestProcessor_Meta(t *testing.T) {
	p := newTestProcessor(t, &natsclient.Client{})

	meta := p.Meta()
	assert.Equal(t, "threshold-monitor", meta.Name)
	assert.Equal(t, "processor", meta.Type)
}

func TestProcessor_Ports(t *testing.T) {
	p := newTestProcessor(t, &natsclient.Client{})

	inputPorts := p.InputPorts()
	require.Len(t, inputPorts, 2)
	subjects := []string{
		inputPorts[0].Config.(component.NATSPort).Subject,
		inputPorts[1].Config.(component.NATSPort).Subject,
	}
	assert.ElementsMatch(t, DefaultInputSubjects, subjects)

	outputPorts := p.OutputPorts()
	require.Len(t, outputPorts, 1)
	assert.Equal(t, DefaultAlertSubject, outputPorts[0].Config.(component.NATSPort).Subject)
}

func TestProcessor_Initialize(t *testing.T) {
	t.Run("valid wiring", func(t *testing.T) {
		p := newTestProcessor(t, &natsclient.Client{})
		assert.NoError(t, p.Initialize())
	})

	t.Run("no thresholds", func(t *testing.T) {
		p, err := NewProcessor(ProcessorDeps{NATSClient: &natsclient.Client{}})
		require.NoError(t, err)
		assert.True(t, errors.IsInvalid(p.Initialize()))
	})

	t.Run("no NATS client", func(t *testing.T) {
		p, err := NewProcessor(ProcessorDeps{Config: testConfig()})
		require.NoError(t, err)
		assert.True(t, errors.IsInvalid(p.Initialize()))
	})
}

func TestProcessor_Observe(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithFastStartup())
	defer testClient.Terminate()

	p := newTestProcessor(t, testClient.Client)
	ctx := context.Background()

	// In-range value updates state without alerting
	p.observe(ctx, "ns=2;i=5", 100)
	state := p.State()
	require.Contains(t, state, "ns=2;i=5")
	assert.Equal(t, 100.0, state["ns=2;i=5"].LastValue)
	assert.False(t, state["ns=2;i=5"].InBreach)
	assert.Zero(t, state["ns=2;i=5"].AlertCount)

	// Breach raises exactly one alert until recovery
	p.observe(ctx, "ns=2;i=5", 120)
	p.observe(ctx, "ns=2;i=5", 125)
	state = p.State()
	assert.True(t, state["ns=2;i=5"].InBreach)
	assert.Equal(t, int64(1), state["ns=2;i=5"].AlertCount)

	// Recovery re-arms the alert
	p.observe(ctx, "ns=2;i=5", 100)
	p.observe(ctx, "ns=2;i=5", 80)
	state = p.State()
	assert.Equal(t, int64(2), state["ns=2;i=5"].AlertCount)

	// Unwatched signals are tracked but never alert
	p.observe(ctx, "ns=2;i=7", 99999)
	state = p.State()
	assert.Equal(t, 99999.0, state["ns=2;i=7"].LastValue)
	assert.Zero(t, state["ns=2;i=7"].AlertCount)
}

func TestProcessor_HandleMessage(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithFastStartup())
	defer testClient.Terminate()

	p := newTestProcessor(t, testClient.Client)
	ctx := context.Background()

	// Data-change event shape
	p.handleMessage(ctx, []byte(`{"node_id":"ns=2;i=5","value":102.5}`))
	// Register reading shape
	p.handleMessage(ctx, []byte(`{"name":"tank_ph","value":7.1,"raw":710}`))
	// Unparseable payloads are counted, not fatal
	p.handleMessage(ctx, []byte(`not json`))
	p.handleMessage(ctx, []byte(`{"value":1}`))
	p.handleMessage(ctx, []byte(`{"node_id":"x","value":"not a number at all"}`))

	state := p.State()
	assert.Equal(t, 102.5, state["ns=2;i=5"].LastValue)
	assert.Equal(t, 7.1, state["tank_ph"].LastValue)
	assert.Equal(t, int64(2), p.valuesProcessed.Load())
	assert.Equal(t, int64(3), p.errorCount.Load())
}

func TestProcessor_AlertFlow(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithFastStartup())
	defer testClient.Terminate()

	cfg := testConfig()
	cfg.InputSubjects = []string{"test.monitor.values"}
	cfg.AlertSubject = "test.monitor.alerts"
	p, err := NewProcessor(ProcessorDeps{
		Name:       "threshold-monitor",
		Config:     cfg,
		NATSClient: testClient.Client,
	})
	require.NoError(t, err)
	require.NoError(t, p.Initialize())

	alerts := make(chan []byte, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err = testClient.Client.Subscribe(ctx, cfg.AlertSubject, func(_ context.Context, data []byte) {
		alerts <- data
	})
	require.NoError(t, err)

	require.NoError(t, p.Start(ctx))
	defer p.Stop(5 * time.Second)

	err = testClient.Client.Publish(ctx, "test.monitor.values", []byte(`{"name":"tank_ph","value":13.2}`))
	require.NoError(t, err)

	select {
	case data := <-alerts:
		var alert Alert
		require.NoError(t, json.Unmarshal(data, &alert))
		assert.Equal(t, "tank_ph", alert.Signal)
		assert.Equal(t, 13.2, alert.Value)
		assert.Equal(t, 9.0, alert.Threshold)
		assert.Equal(t, DirectionHigh, alert.Direction)
		assert.Equal(t, int64(1), alert.Count)
	case <-time.After(5 * time.Second):
		t.Fatal("no alert published within 5s")
	}
}

func TestProcessor_StatePersistence(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithFastStartup())
	defer testClient.Terminate()

	ctx := context.Background()
	bucket, err := testClient.CreateKVBucket(ctx, "monitor_test")
	require.NoError(t, err)
	kvStore := testClient.Client.NewKVStore(bucket)

	cfg := testConfig()
	cfg.PersistIntervalMS = 50
	p, err := NewProcessor(ProcessorDeps{
		Config:     cfg,
		NATSClient: testClient.Client,
		KVStore:    kvStore,
	})
	require.NoError(t, err)

	p.observe(ctx, "tank_ph", 7.3)
	require.NoError(t, p.persistState(ctx))

	// A fresh processor restores the persisted table
	restored, err := NewProcessor(ProcessorDeps{
		Config:     cfg,
		NATSClient: testClient.Client,
		KVStore:    kvStore,
	})
	require.NoError(t, err)
	require.NoError(t, restored.restoreState(ctx))

	state := restored.State()
	require.Contains(t, state, "tank_ph")
	assert.Equal(t, 7.3, state["tank_ph"].LastValue)
}

func TestCreateProcessor(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithFastStartup())
	defer testClient.Terminate()

	rawConfig := json.RawMessage(`{
		"thresholds": [{"signal": "ns=2;i=6", "high": 20}],
		"alert_subject": "custom.alerts"
	}`)

	comp, err := CreateProcessor(rawConfig, component.Dependencies{
		NATSClient: testClient.Client,
	})
	require.NoError(t, err)

	p, ok := comp.(*Processor)
	require.True(t, ok)
	assert.Equal(t, "custom.alerts", p.config.AlertSubject)
	require.Contains(t, p.thresholds, "ns=2;i=6")
	assert.Equal(t, 20.0, *p.thresholds["ns=2;i=6"].High)
}

func TestCreateProcessor_Errors(t *testing.T) {
	t.Run("missing NATS client", func(t *testing.T) {
		_, err := CreateProcessor(json.RawMessage(`{"thresholds":[{"signal":"x","high":1}]}`), component.Dependencies{})
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("invalid thresholds", func(t *testing.T) {
		_, err := CreateProcessor(json.RawMessage(`{"thresholds":[{"signal":"x"}]}`), component.Dependencies{
			NATSClient: &natsclient.Client{},
		})
		assert.Error(t, err)
	})
}

func TestRegister(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))
	require.Contains(t, registry.ListFactories(), "monitor")
}
