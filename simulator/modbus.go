package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tbrandon/mbserver"

	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
)

// Holding register layout of the Modbus companion server. Floating point
// values are scaled to fit uint16 registers; the matching input component
// divides them back out.
const (
	RegBoilerTemperature = 0 // value x10
	RegBoilerPressure    = 1 // value x10
	RegPumpRPM           = 2 // raw
	RegPumpFlowRate      = 3 // value x10
	RegTankLevel         = 4 // value x10
	RegTankPH            = 5 // value x100
)

// DefaultModbusAddr is the companion server's default listen address.
// Port 1502 keeps development runs off the privileged standard port 502.
const DefaultModbusAddr = ":1502"

// ModbusServer mirrors the plant's process variables into Modbus holding
// registers so Modbus clients (and the modbus input component) can poll
// the same simulation.
type ModbusServer struct {
	plant  *Plant
	addr   string
	logger *slog.Logger

	mu      sync.Mutex
	server  *mbserver.Server
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// regMu serializes register access. mbserver's request handlers read
	// HoldingRegisters without any locking of their own, so reads are
	// routed through the same mutex as the mirror loop's writes.
	regMu sync.Mutex
}

// NewModbusServer creates a companion server for plant. addr defaults to
// DefaultModbusAddr.
func NewModbusServer(plant *Plant, addr string, logger *slog.Logger) *ModbusServer {
	if addr == "" {
		addr = DefaultModbusAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModbusServer{
		plant:  plant,
		addr:   addr,
		logger: logger.With("component", "modbus-simulator"),
	}
}

// Addr returns the configured listen address
func (m *ModbusServer) Addr() string {
	return m.addr
}

// Start listens for Modbus TCP connections and begins mirroring plant
// values into the holding registers at the plant's update interval
func (m *ModbusServer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	server := mbserver.NewServer()
	server.RegisterFunctionHandler(3,
		func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
			m.regMu.Lock()
			defer m.regMu.Unlock()
			return mbserver.ReadHoldingRegisters(s, frame)
		})
	if err := server.ListenTCP(m.addr); err != nil {
		return errors.WrapTransient(err, "ModbusServer", "Start", "listen on "+m.addr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.server = server
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.mirror(runCtx)
	m.logger.Info("Modbus simulator started", "addr", m.addr)
	return nil
}

// Stop closes the Modbus listener and the mirror loop
func (m *ModbusServer) Stop(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}

	m.cancel()
	select {
	case <-m.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"ModbusServer", "Stop", "wait for mirror loop")
	}

	m.server.Close()
	m.server = nil
	m.running = false
	m.logger.Info("Modbus simulator stopped")
	return nil
}

// mirror copies plant values into the holding registers each interval
func (m *ModbusServer) mirror(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.plant.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.copyRegisters()
		}
	}
}

func (m *ModbusServer) copyRegisters() {
	m.plant.mu.Lock()
	temp, _ := m.plant.nodes[NodeBoilerTemperature].value.(float64)
	pressure, _ := m.plant.nodes[NodeBoilerPressure].value.(float64)
	rpm, _ := m.plant.nodes[NodePumpRPM].value.(int64)
	flow, _ := m.plant.nodes[NodePumpFlowRate].value.(float64)
	level, _ := m.plant.nodes[NodeTankLevel].value.(float64)
	ph, _ := m.plant.nodes[NodeTankPH].value.(float64)
	m.plant.mu.Unlock()

	m.regMu.Lock()
	defer m.regMu.Unlock()
	regs := m.server.HoldingRegisters
	regs[RegBoilerTemperature] = clampUint16(temp * 10)
	regs[RegBoilerPressure] = clampUint16(pressure * 10)
	regs[RegPumpRPM] = clampUint16(float64(rpm))
	regs[RegPumpFlowRate] = clampUint16(flow * 10)
	regs[RegTankLevel] = clampUint16(level * 10)
	regs[RegTankPH] = clampUint16(ph * 100)
}

func clampUint16(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}
