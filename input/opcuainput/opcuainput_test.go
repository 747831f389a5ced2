package opcuainput

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
	"github.com/irfanghat/databricks-industrial-automation-suite/simulator"
)

func testConfig(nodeIDs []string, subject string) InputConfig {
	cfg := DefaultConfig()
	cfg.NodeIDs = nodeIDs
	if subject != "" {
		cfg.Subject = subject
	}
	cfg.SubscribeIntervalMS = 10
	return cfg
}

func testDeps(t *testing.T, cfg InputConfig, client *natsclient.Client) InputDeps {
	t.Helper()
	return InputDeps{
		Name:       "opcua-input",
		Config:     cfg,
		Session:    simulator.NewPlant(simulator.Config{UpdateInterval: 5 * time.Millisecond, Seed: 1}, nil),
		NATSClient: client,
	}
}

func TestNewInput(t *testing.T) {
	mockClient := &natsclient.Client{}

	in, err := NewInput(testDeps(t, testConfig([]string{simulator.NodeBoilerTemperature}, "test.opcua"), mockClient))
	require.NoError(t, err)
	require.NotNil(t, in)

	assert.Equal(t, "test.opcua", in.config.Subject)
	assert.Equal(t, mockClient, in.natsClient)
}

func TestNewInput_DefaultSubject(t *testing.T) {
	cfg := testConfig([]string{simulator.NodeBoilerTemperature}, "")
	cfg.Subject = ""

	in, err := NewInput(testDeps(t, cfg, &natsclient.Client{}))
	require.NoError(t, err)
	assert.Equal(t, DefaultSubject, in.config.Subject)
}

func TestInput_Meta(t *testing.T) {
	in, err := NewInput(testDeps(t, testConfig([]string{simulator.NodeBoilerTemperature}, ""), &natsclient.Client{}))
	require.NoError(t, err)

	meta := in.Meta()
	assert.Equal(t, "opcua-input", meta.Name)
	assert.Equal(t, "input", meta.Type)
	assert.NotEmpty(t, meta.Description)
	assert.NotEmpty(t, meta.Version)
}

func TestInput_Ports(t *testing.T) {
	in, err := NewInput(testDeps(t, testConfig([]string{simulator.NodeBoilerTemperature}, "test.subject"), &natsclient.Client{}))
	require.NoError(t, err)

	inputPorts := in.InputPorts()
	require.Len(t, inputPorts, 1)
	assert.Equal(t, "opcua_session", inputPorts[0].Name)
	assert.Equal(t, component.DirectionInput, inputPorts[0].Direction)
	netPort, ok := inputPorts[0].Config.(component.NetworkPort)
	require.True(t, ok)
	assert.Equal(t, "opc.tcp", netPort.Protocol)

	outputPorts := in.OutputPorts()
	require.Len(t, outputPorts, 1)
	assert.Equal(t, "nats_output", outputPorts[0].Name)
	assert.Equal(t, component.DirectionOutput, outputPorts[0].Direction)
	natsPort, ok := outputPorts[0].Config.(component.NATSPort)
	require.True(t, ok)
	assert.Equal(t, "test.subject", natsPort.Subject)
}

func TestInput_ConfigSchema(t *testing.T) {
	in, err := NewInput(testDeps(t, testConfig([]string{simulator.NodeBoilerTemperature}, ""), &natsclient.Client{}))
	require.NoError(t, err)

	schema := in.ConfigSchema()
	assert.Contains(t, schema.Properties, "endpoint")
	assert.Contains(t, schema.Properties, "node_ids")
	assert.Contains(t, schema.Properties, "security_policy")
	assert.Contains(t, schema.Required, "node_ids")
}

func TestInputConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*InputConfig)
		wantErr bool
	}{
		{
			name:   "valid defaults",
			mutate: func(c *InputConfig) {},
		},
		{
			name:    "bad endpoint scheme",
			mutate:  func(c *InputConfig) { c.Endpoint = "http://example.com" },
			wantErr: true,
		},
		{
			name:    "unknown security policy",
			mutate:  func(c *InputConfig) { c.SecurityPolicy = "Basic9000" },
			wantErr: true,
		},
		{
			name:    "unknown security mode",
			mutate:  func(c *InputConfig) { c.SecurityMode = "Scrambled" },
			wantErr: true,
		},
		{
			name:    "negative interval",
			mutate:  func(c *InputConfig) { c.SubscribeIntervalMS = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInput_Initialize(t *testing.T) {
	tests := []struct {
		name       string
		nodeIDs    []string
		subject    string
		natsClient *natsclient.Client
		wantErr    bool
	}{
		{
			name:       "valid wiring",
			nodeIDs:    []string{simulator.NodeBoilerTemperature},
			subject:    "test.opcua",
			natsClient: &natsclient.Client{},
		},
		{
			name:       "no node IDs",
			nodeIDs:    nil,
			subject:    "test.opcua",
			natsClient: &natsclient.Client{},
			wantErr:    true,
		},
		{
			name:       "no NATS client",
			nodeIDs:    []string{simulator.NodeBoilerTemperature},
			subject:    "test.opcua",
			natsClient: nil,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := NewInput(testDeps(t, testConfig(tt.nodeIDs, tt.subject), tt.natsClient))
			require.NoError(t, err)

			err = in.Initialize()
			if tt.wantErr {
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInput_Health(t *testing.T) {
	in, err := NewInput(testDeps(t, testConfig([]string{simulator.NodeBoilerTemperature}, ""), &natsclient.Client{}))
	require.NoError(t, err)

	health := in.Health()
	assert.False(t, health.Healthy) // Not started yet
	assert.Zero(t, health.ErrorCount)
	assert.Empty(t, health.LastError)
}

func TestInput_DataFlow(t *testing.T) {
	in, err := NewInput(testDeps(t, testConfig([]string{simulator.NodeBoilerTemperature}, ""), &natsclient.Client{}))
	require.NoError(t, err)

	flow := in.DataFlow()
	assert.Zero(t, flow.MessagesPerSecond)
	assert.Zero(t, flow.ErrorRate)
	assert.True(t, flow.LastActivity.IsZero())
}

func TestInput_StartStop(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithFastStartup())
	defer testClient.Terminate()

	in, err := NewInput(testDeps(t,
		testConfig([]string{simulator.NodeBoilerTemperature, simulator.NodeTankPH}, "test.opcua.startstop"),
		testClient.Client))
	require.NoError(t, err)
	require.NoError(t, in.Initialize())

	ctx := context.Background()
	require.NoError(t, in.Start(ctx))
	assert.True(t, in.running.Load())
	assert.True(t, in.Health().Healthy)

	// Idempotent start
	require.NoError(t, in.Start(ctx))

	require.NoError(t, in.Stop(5*time.Second))
	assert.False(t, in.running.Load())

	// Idempotent stop
	require.NoError(t, in.Stop(5*time.Second))
}

func TestInput_PublishesDataChanges(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithFastStartup())
	defer testClient.Terminate()

	subject := "test.opcua.changes"
	plant := simulator.NewPlant(simulator.Config{UpdateInterval: 5 * time.Millisecond, Seed: 7}, nil)

	in, err := NewInput(InputDeps{
		Name:       "opcua-input",
		Config:     testConfig([]string{simulator.NodeBoilerTemperature}, subject),
		Session:    plant,
		NATSClient: testClient.Client,
	})
	require.NoError(t, err)
	require.NoError(t, in.Initialize())

	received := make(chan []byte, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err = testClient.Client.Subscribe(ctx, subject, func(_ context.Context, data []byte) {
		select {
		case received <- data:
		default:
		}
	})
	require.NoError(t, err)

	require.NoError(t, in.Start(ctx))
	defer in.Stop(5 * time.Second)

	// The plant walks values once started; drive it so changes flow
	require.NoError(t, plant.Start(ctx))
	defer plant.Stop(time.Second)

	select {
	case data := <-received:
		var event DataChangeEvent
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, simulator.NodeBoilerTemperature, event.NodeID)
		assert.NotNil(t, event.Value)
		assert.False(t, event.ReceivedAt.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("no data change published within 5s")
	}

	assert.Positive(t, in.eventsReceived.Load())
	assert.Positive(t, in.bytesPublished.Load())
}

func TestCreateInput(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithFastStartup())
	defer testClient.Terminate()

	rawConfig := json.RawMessage(`{
		"endpoint": "opc.tcp://127.0.0.1:4840/",
		"node_ids": ["ns=2;i=5", "ns=2;i=10"],
		"subscribe_interval_ms": 250,
		"subject": "custom.opcua"
	}`)

	comp, err := CreateInput(rawConfig, component.Dependencies{
		NATSClient: testClient.Client,
	})
	require.NoError(t, err)

	in, ok := comp.(*Input)
	require.True(t, ok)
	assert.Equal(t, []string{"ns=2;i=5", "ns=2;i=10"}, in.config.NodeIDs)
	assert.Equal(t, 250, in.config.SubscribeIntervalMS)
	assert.Equal(t, "custom.opcua", in.config.Subject)
}

func TestCreateInput_Errors(t *testing.T) {
	t.Run("missing NATS client", func(t *testing.T) {
		_, err := CreateInput(json.RawMessage(`{"node_ids":["ns=2;i=5"]}`), component.Dependencies{})
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("malformed config", func(t *testing.T) {
		_, err := CreateInput(json.RawMessage(`{not json`), component.Dependencies{
			NATSClient: &natsclient.Client{},
		})
		assert.Error(t, err)
	})

	t.Run("invalid endpoint", func(t *testing.T) {
		_, err := CreateInput(json.RawMessage(`{"endpoint":"http://x","node_ids":["ns=2;i=5"]}`), component.Dependencies{
			NATSClient: &natsclient.Client{},
		})
		assert.Error(t, err)
	})
}

func TestRegister(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))

	factories := registry.ListFactories()
	require.Contains(t, factories, "opcua")
}
