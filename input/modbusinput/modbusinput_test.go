package modbusinput

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
	"github.com/irfanghat/databricks-industrial-automation-suite/natsclient"
)

// fakeReader serves canned register values without a TCP server
type fakeReader struct {
	mu        sync.Mutex
	registers map[uint16]uint16
	failAddr  *uint16
}

func (f *fakeReader) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAddr != nil && *f.failAddr == address {
		return nil, fmt.Errorf("modbus: exception '4' (server device failure)")
	}
	data := make([]byte, 2*quantity)
	for i := uint16(0); i < quantity; i++ {
		binary.BigEndian.PutUint16(data[2*i:], f.registers[address+i])
	}
	return data, nil
}

func plantRegisters() *fakeReader {
	return &fakeReader{registers: map[uint16]uint16{
		0: 1000, // boiler temperature x10
		1: 150,  // boiler pressure x10
		2: 1200, // pump RPM raw
		3: 750,  // flow rate x10
		4: 550,  // tank level x10
		5: 700,  // pH x100
	}}
}

func testDeps(reader registerReader, client *natsclient.Client, subject string) InputDeps {
	cfg := DefaultConfig()
	cfg.PollIntervalMS = 10
	if subject != "" {
		cfg.Subject = subject
	}
	return InputDeps{
		Name:       "modbus-input",
		Config:     cfg,
		Reader:     reader,
		NATSClient: client,
	}
}

func TestNewInput_Defaults(t *testing.T) {
	in, err := NewInput(InputDeps{NATSClient: &natsclient.Client{}})
	require.NoError(t, err)

	assert.Equal(t, DefaultSubject, in.config.Subject)
	assert.Equal(t, byte(1), in.config.SlaveID)
	assert.Equal(t, "modbus-input", in.name)
}

func TestInput_Meta(t *testing.T) {
	in, err := NewInput(testDeps(plantRegisters(), &natsclient.Client{}, ""))
	require.NoError(t, err)

	meta := in.Meta()
	assert.Equal(t, "modbus-input", meta.Name)
	assert.Equal(t, "input", meta.Type)
	assert.Contains(t, meta.Description, "127.0.0.1:1502")
}

func TestInput_Ports(t *testing.T) {
	in, err := NewInput(testDeps(plantRegisters(), &natsclient.Client{}, "test.modbus"))
	require.NoError(t, err)

	inputPorts := in.InputPorts()
	require.Len(t, inputPorts, 1)
	netPort, ok := inputPorts[0].Config.(component.NetworkPort)
	require.True(t, ok)
	assert.Equal(t, "modbus-tcp", netPort.Protocol)

	outputPorts := in.OutputPorts()
	require.Len(t, outputPorts, 1)
	natsPort, ok := outputPorts[0].Config.(component.NATSPort)
	require.True(t, ok)
	assert.Equal(t, "test.modbus", natsPort.Subject)
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
			name:    "negative poll interval",
			mutate:  func(c *InputConfig) { c.PollIntervalMS = -1 },
			wantErr: true,
		},
		{
			name:    "unnamed register",
			mutate:  func(c *InputConfig) { c.Registers = append(c.Registers, RegisterSpec{Address: 9}) },
			wantErr: true,
		},
		{
			name: "duplicate register name",
			mutate: func(c *InputConfig) {
				c.Registers = append(c.Registers, RegisterSpec{Name: "tank_ph", Address: 9})
			},
			wantErr: true,
		},
		{
			name: "negative scale",
			mutate: func(c *InputConfig) {
				c.Registers = []RegisterSpec{{Name: "x", Address: 0, Scale: -10}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
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

func TestInput_Initialize(t *testing.T) {
	t.Run("valid wiring", func(t *testing.T) {
		in, err := NewInput(testDeps(plantRegisters(), &natsclient.Client{}, ""))
		require.NoError(t, err)
		assert.NoError(t, in.Initialize())
	})

	t.Run("no registers", func(t *testing.T) {
		deps := testDeps(plantRegisters(), &natsclient.Client{}, "")
		deps.Config.Registers = nil
		in, err := NewInput(deps)
		require.NoError(t, err)
		assert.True(t, errors.IsInvalid(in.Initialize()))
	})

	t.Run("no NATS client", func(t *testing.T) {
		in, err := NewInput(testDeps(plantRegisters(), nil, ""))
		require.NoError(t, err)
		assert.True(t, errors.IsInvalid(in.Initialize()))
	})
}

func TestInput_ReadRegisters_Scaling(t *testing.T) {
	in, err := NewInput(testDeps(plantRegisters(), &natsclient.Client{}, ""))
	require.NoError(t, err)

	readings, err := in.readRegisters()
	require.NoError(t, err)
	require.Len(t, readings, 6)

	byName := make(map[string]Reading, len(readings))
	for _, r := range readings {
		byName[r.Name] = r
	}

	assert.InDelta(t, 100.0, byName["boiler_temperature"].Value, 0.001)
	assert.InDelta(t, 15.0, byName["boiler_pressure"].Value, 0.001)
	assert.InDelta(t, 1200.0, byName["pump_rpm"].Value, 0.001)
	assert.InDelta(t, 75.0, byName["pump_flow_rate"].Value, 0.001)
	assert.InDelta(t, 55.0, byName["tank_level"].Value, 0.001)
	assert.InDelta(t, 7.0, byName["tank_ph"].Value, 0.001)
	assert.Equal(t, uint16(1000), byName["boiler_temperature"].Raw)
}

func TestInput_ReadRegisters_Error(t *testing.T) {
	reader := plantRegisters()
	failAddr := uint16(3)
	reader.failAddr = &failAddr

	in, err := NewInput(testDeps(reader, &natsclient.Client{}, ""))
	require.NoError(t, err)

	_, err = in.readRegisters()
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestInput_StartStop(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithFastStartup())
	defer testClient.Terminate()

	in, err := NewInput(testDeps(plantRegisters(), testClient.Client, "test.modbus.startstop"))
	require.NoError(t, err)
	require.NoError(t, in.Initialize())

	ctx := context.Background()
	require.NoError(t, in.Start(ctx))
	assert.True(t, in.Health().Healthy)

	// Idempotent start
	require.NoError(t, in.Start(ctx))

	require.NoError(t, in.Stop(5*time.Second))
	assert.False(t, in.Health().Healthy)

	// Idempotent stop
	require.NoError(t, in.Stop(5*time.Second))
}

func TestInput_PublishesReadings(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithFastStartup())
	defer testClient.Terminate()

	subject := "test.modbus.readings"
	in, err := NewInput(testDeps(plantRegisters(), testClient.Client, subject))
	require.NoError(t, err)
	require.NoError(t, in.Initialize())

	received := make(chan []byte, 32)
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

	select {
	case data := <-received:
		var reading Reading
		require.NoError(t, json.Unmarshal(data, &reading))
		assert.NotEmpty(t, reading.Name)
		assert.False(t, reading.ReadAt.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("no reading published within 5s")
	}

	assert.Positive(t, in.readingsCount.Load())
	assert.Positive(t, in.pollCount.Load())
}

func TestCreateInput(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithFastStartup())
	defer testClient.Terminate()

	rawConfig := json.RawMessage(`{
		"address": "10.0.0.5:502",
		"slave_id": 3,
		"registers": [{"name": "temperature", "address": 0, "scale": 10}],
		"poll_interval_ms": 500,
		"subject": "custom.modbus"
	}`)

	comp, err := CreateInput(rawConfig, component.Dependencies{
		NATSClient: testClient.Client,
	})
	require.NoError(t, err)

	in, ok := comp.(*Input)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5:502", in.config.Address)
	assert.Equal(t, byte(3), in.config.SlaveID)
	require.Len(t, in.config.Registers, 1)
	assert.Equal(t, "temperature", in.config.Registers[0].Name)
	assert.Equal(t, 500, in.config.PollIntervalMS)
	assert.Equal(t, "custom.modbus", in.config.Subject)
}

func TestCreateInput_Errors(t *testing.T) {
	t.Run("missing NATS client", func(t *testing.T) {
		_, err := CreateInput(nil, component.Dependencies{})
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("invalid register spec", func(t *testing.T) {
		raw := json.RawMessage(`{"registers":[{"address": 0}]}`)
		_, err := CreateInput(raw, component.Dependencies{NATSClient: &natsclient.Client{}})
		assert.Error(t, err)
	})
}

func TestRegister(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))
	require.Contains(t, registry.ListFactories(), "modbus")
}
