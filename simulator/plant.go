// Package simulator provides an in-process industrial plant simulation.
// It implements the opcua.Session interface, so the gateway, input
// components and tests run against it exactly as they would against a
// live OPC UA server.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
	"github.com/irfanghat/databricks-industrial-automation-suite/opcua"
)

// Simulated address space node IDs. Objects and variables take sequential
// numeric IDs in namespace 2 in creation order; the demo method keeps its
// string identifier.
const (
	NodePlant             = "ns=2;i=1"
	NodeBoiler            = "ns=2;i=2"
	NodePump              = "ns=2;i=3"
	NodeTank              = "ns=2;i=4"
	NodeBoilerTemperature = "ns=2;i=5"
	NodeBoilerPressure    = "ns=2;i=6"
	NodePumpRPM           = "ns=2;i=7"
	NodePumpFlowRate      = "ns=2;i=8"
	NodeTankLevel         = "ns=2;i=9"
	NodeTankPH            = "ns=2;i=10"
	NodeMultiply          = "ns=2;s=ServerMethod"

	nodeRoot    = "i=84"
	nodeObjects = "i=85"
)

// Initial process values
const (
	InitialBoilerTemperature = 100.0
	InitialBoilerPressure    = 15.0
	InitialPumpRPM           = int64(1200)
	InitialPumpFlowRate      = 75.0
	InitialTankLevel         = 55.0
	InitialTankPH            = 7.0
)

// DefaultUpdateInterval is the simulation step interval
const DefaultUpdateInterval = time.Second

// changeBufferSize bounds the data-change channel, drop-oldest on overflow
const changeBufferSize = 256

// node is one entry in the simulated address space
type node struct {
	id         string
	browseName string
	children   []*node
	value      any
	writable   bool
}

// Plant simulates an industrial plant with boiler, pump and tank
// subsystems. All six process variables drift by a bounded random walk
// each update interval, with pH clamped to [0,14]. Plant implements
// opcua.Session.
type Plant struct {
	logger   *slog.Logger
	interval time.Duration

	mu        sync.Mutex
	nodes     map[string]*node
	root      *node
	connected bool

	monitored map[string]bool
	subActive bool
	changes   chan opcua.DataChange

	rng *rand.Rand

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

var _ opcua.Session = (*Plant)(nil)

// Config holds simulation settings
type Config struct {
	// UpdateInterval is the simulation step period (default 1s)
	UpdateInterval time.Duration

	// Seed makes runs reproducible when non-zero
	Seed int64
}

// NewPlant builds the simulated address space
func NewPlant(config Config, logger *slog.Logger) *Plant {
	if logger == nil {
		logger = slog.Default()
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = DefaultUpdateInterval
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	p := &Plant{
		logger:    logger.With("component", "plant-simulator"),
		interval:  config.UpdateInterval,
		nodes:     make(map[string]*node),
		monitored: make(map[string]bool),
		changes:   make(chan opcua.DataChange, changeBufferSize),
		rng:       rand.New(rand.NewSource(seed)),
	}
	p.buildAddressSpace()
	return p
}

func (p *Plant) buildAddressSpace() {
	boilerTemp := &node{id: NodeBoilerTemperature, browseName: "Temperature", value: InitialBoilerTemperature, writable: true}
	boilerPressure := &node{id: NodeBoilerPressure, browseName: "Pressure", value: InitialBoilerPressure, writable: true}
	pumpRPM := &node{id: NodePumpRPM, browseName: "RPM", value: InitialPumpRPM, writable: true}
	pumpFlow := &node{id: NodePumpFlowRate, browseName: "FlowRate", value: InitialPumpFlowRate, writable: true}
	tankLevel := &node{id: NodeTankLevel, browseName: "Level", value: InitialTankLevel, writable: true}
	tankPH := &node{id: NodeTankPH, browseName: "pH", value: InitialTankPH, writable: true}

	boiler := &node{id: NodeBoiler, browseName: "BoilerSystem", children: []*node{boilerTemp, boilerPressure}}
	pump := &node{id: NodePump, browseName: "PumpSystem", children: []*node{pumpRPM, pumpFlow}}
	tank := &node{id: NodeTank, browseName: "TankSystem", children: []*node{tankLevel, tankPH}}
	multiply := &node{id: NodeMultiply, browseName: "Multiply"}

	plant := &node{id: NodePlant, browseName: "IndustrialPlant",
		children: []*node{boiler, pump, tank, multiply}}
	objects := &node{id: nodeObjects, browseName: "Objects", children: []*node{plant}}
	p.root = &node{id: nodeRoot, browseName: "Root", children: []*node{objects}}

	var index func(n *node)
	index = func(n *node) {
		p.nodes[n.id] = n
		for _, child := range n.children {
			index(child)
		}
	}
	index(p.root)
}

// Endpoint returns a synthetic endpoint URL for the simulation
func (p *Plant) Endpoint() string {
	return "opc.tcp://simulator/"
}

// Connect marks the session established. The simulation loop runs
// independently via Start.
func (p *Plant) Connect(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

// Connected reports whether Connect has been called
func (p *Plant) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Close cancels any subscription and marks the session closed
func (p *Plant) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil
	}
	p.connected = false
	p.subActive = false
	p.monitored = make(map[string]bool)
	close(p.changes)
	p.changes = make(chan opcua.DataChange, changeBufferSize)
	return nil
}

// BrowseAll returns the full simulated address space from the root node
func (p *Plant) BrowseAll(_ context.Context) ([]opcua.BrowseNode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "Plant", "BrowseAll", "check connection")
	}

	tree := make([]opcua.BrowseNode, 0, len(p.root.children))
	for _, child := range p.root.children {
		tree = append(tree, browseTree(child))
	}
	return tree, nil
}

func browseTree(n *node) opcua.BrowseNode {
	result := opcua.BrowseNode{
		ID:         n.id,
		BrowseName: n.browseName,
		Children:   make([]opcua.BrowseNode, 0, len(n.children)),
	}
	for _, child := range n.children {
		result.Children = append(result.Children, browseTree(child))
	}
	return result
}

// BrowseChildren lists the direct children of a node
func (p *Plant) BrowseChildren(_ context.Context, nodeID string) ([]opcua.NodeRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "Plant", "BrowseChildren", "check connection")
	}

	n, ok := p.nodes[nodeID]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNodeNotFound, "Plant", "BrowseChildren",
			"find node "+nodeID)
	}

	refs := make([]opcua.NodeRef, 0, len(n.children))
	for _, child := range n.children {
		refs = append(refs, opcua.NodeRef{ID: child.id, BrowseName: child.browseName})
	}
	return refs, nil
}

// Read returns the current value of a variable node
func (p *Plant) Read(_ context.Context, nodeID string) (opcua.DataValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return opcua.DataValue{}, errors.WrapTransient(errors.ErrNotConnected, "Plant", "Read", "check connection")
	}

	n, ok := p.nodes[nodeID]
	if !ok {
		return opcua.DataValue{}, errors.WrapInvalid(errors.ErrNodeNotFound, "Plant", "Read",
			"find node "+nodeID)
	}
	if n.value == nil {
		return opcua.DataValue{}, errors.WrapInvalid(errors.ErrNodeUnreadable, "Plant", "Read",
			"read non-variable node "+nodeID)
	}

	now := time.Now()
	return opcua.DataValue{
		NodeID:     nodeID,
		Value:      n.value,
		SourceTime: now,
		ServerTime: now,
	}, nil
}

// Write sets a variable value, coercing it to the variable's current type
func (p *Plant) Write(_ context.Context, nodeID string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return errors.WrapTransient(errors.ErrNotConnected, "Plant", "Write", "check connection")
	}

	n, ok := p.nodes[nodeID]
	if !ok {
		return errors.WrapInvalid(errors.ErrNodeNotFound, "Plant", "Write", "find node "+nodeID)
	}
	if !n.writable {
		return errors.WrapInvalid(errors.ErrInvalidValue, "Plant", "Write",
			"write read-only node "+nodeID)
	}

	coerced, err := opcua.CoerceValue(value, n.value)
	if err != nil {
		return errors.WrapInvalid(err, "Plant", "Write", "coerce value for "+nodeID)
	}
	n.value = coerced
	p.notifyLocked(nodeID, coerced)
	return nil
}

// SecurityPolicies returns the single policy the simulation supports
func (p *Plant) SecurityPolicies(_ context.Context) ([]string, error) {
	return []string{"http://opcfoundation.org/UA/SecurityPolicy#None"}, nil
}

// Subscribe marks nodes for data-change notifications. Notifications are
// emitted each simulation step and on writes. Adding a node twice is a
// no-op.
func (p *Plant) Subscribe(_ context.Context, nodeIDs []string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return errors.WrapTransient(errors.ErrNotConnected, "Plant", "Subscribe", "check connection")
	}

	for _, nodeID := range nodeIDs {
		n, ok := p.nodes[nodeID]
		if !ok {
			return errors.WrapInvalid(errors.ErrNodeNotFound, "Plant", "Subscribe",
				"find node "+nodeID)
		}
		if n.value == nil {
			return errors.WrapInvalid(errors.ErrNodeUnreadable, "Plant", "Subscribe",
				"monitor non-variable node "+nodeID)
		}
		p.monitored[nodeID] = true
	}
	p.subActive = true
	return nil
}

// Changes returns the data-change channel
func (p *Plant) Changes() <-chan opcua.DataChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changes
}

// Unsubscribe clears the active subscription
func (p *Plant) Unsubscribe(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.subActive {
		return errors.WrapInvalid(errors.ErrNoSubscription, "Plant", "Unsubscribe",
			"check subscription")
	}
	p.subActive = false
	p.monitored = make(map[string]bool)
	return nil
}

// Multiply is the plant's demo method: doubles the input
func (p *Plant) Multiply(value int64) int64 {
	return value * 2
}

// Start runs the simulation loop until Stop or context cancellation.
// Start on a running plant is a no-op.
func (p *Plant) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(runCtx)
	p.logger.Info("Plant simulation started", "update_interval", p.interval)
	return nil
}

// Stop halts the simulation loop
func (p *Plant) Stop(timeout time.Duration) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if !p.running {
		return nil
	}

	p.cancel()
	select {
	case <-p.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"Plant", "Stop", "wait for simulation loop")
	}
	p.running = false
	p.logger.Info("Plant simulation stopped")
	return nil
}

func (p *Plant) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.step()
		}
	}
}

// step advances every process variable by its bounded random walk
func (p *Plant) step() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.walkFloat(NodeBoilerTemperature, 0.5)
	p.walkFloat(NodeBoilerPressure, 0.1)
	p.walkInt(NodePumpRPM, 50)
	p.walkFloat(NodePumpFlowRate, 1.0)
	p.walkFloat(NodeTankLevel, 0.2)
	p.walkPH()
}

func (p *Plant) walkFloat(nodeID string, span float64) {
	n := p.nodes[nodeID]
	v, _ := n.value.(float64)
	n.value = v + p.uniform(-span, span)
	p.notifyLocked(nodeID, n.value)
}

func (p *Plant) walkInt(nodeID string, span int64) {
	n := p.nodes[nodeID]
	v, _ := n.value.(int64)
	n.value = v + p.rng.Int63n(2*span+1) - span
	p.notifyLocked(nodeID, n.value)
}

// walkPH drifts pH, clamped to the physical [0,14] range
func (p *Plant) walkPH() {
	n := p.nodes[NodeTankPH]
	v, _ := n.value.(float64)
	v += p.uniform(-0.05, 0.05)
	if v < 0 {
		v = 0
	}
	if v > 14 {
		v = 14
	}
	n.value = v
	p.notifyLocked(NodeTankPH, v)
}

func (p *Plant) uniform(low, high float64) float64 {
	return low + p.rng.Float64()*(high-low)
}

// notifyLocked emits a data change for monitored nodes, dropping the
// oldest pending change when the buffer is full
func (p *Plant) notifyLocked(nodeID string, value any) {
	if !p.subActive || !p.monitored[nodeID] {
		return
	}

	now := time.Now()
	change := opcua.DataChange{
		NodeID:     nodeID,
		Value:      value,
		SourceTime: now,
		ServerTime: now,
	}
	select {
	case p.changes <- change:
	default:
		select {
		case <-p.changes:
		default:
		}
		select {
		case p.changes <- change:
		default:
		}
	}
}
