package opcua

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"

	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
)

// changeBufferSize bounds the data-change channel. When consumers fall
// behind the oldest pending change is dropped so the receive loop never
// blocks the underlying subscription.
const changeBufferSize = 256

// browseMaxDepth caps recursive browsing. Real address spaces are shallow;
// the cap guards against reference cycles on misbehaving servers.
const browseMaxDepth = 32

// Config holds the connection settings for a Client
type Config struct {
	// Endpoint is the server URL, e.g. opc.tcp://127.0.0.1:4840/
	Endpoint string

	// SecurityPolicy is one of KnownPolicies (default None)
	SecurityPolicy string

	// SecurityMode is one of KnownModes (default None)
	SecurityMode string

	// CertFile and KeyFile are PEM paths, required for non-None policies
	CertFile string
	KeyFile  string

	// Username and Password select username token authentication when set
	Username string
	Password string
}

// Validate checks the connection settings
func (c Config) Validate() error {
	if !ValidEndpoint(c.Endpoint) {
		return errors.WrapInvalid(errors.ErrInvalidEndpoint, "Client", "Validate",
			"check endpoint "+c.Endpoint)
	}
	if c.SecurityPolicy != "" && !ValidPolicy(c.SecurityPolicy) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Client", "Validate",
			"check security policy "+c.SecurityPolicy)
	}
	if c.SecurityMode != "" && !ValidMode(c.SecurityMode) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Client", "Validate",
			"check security mode "+c.SecurityMode)
	}
	if c.SecurityPolicy != "" && c.SecurityPolicy != PolicyNone && (c.CertFile == "" || c.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Client", "Validate",
			"check certificate paths for policy "+c.SecurityPolicy)
	}
	return nil
}

// Client is a Session backed by a gopcua connection. All methods are safe
// for concurrent use.
type Client struct {
	config Config
	logger *slog.Logger

	mu        sync.Mutex
	conn      *opcua.Client
	connected bool

	sub           *opcua.Subscription
	notifyCh      chan *opcua.PublishNotificationData
	changes       chan DataChange
	changesClosed bool

	// handleMu guards the monitored-item maps. Separate from mu so the
	// dispatch goroutine never contends with lifecycle calls that wait
	// for it to drain.
	handleMu   sync.RWMutex
	monitored  map[string]uint32 // node ID -> client handle
	handles    map[uint32]string // client handle -> node ID
	nextHandle uint32

	dispatchStop chan struct{}
	dispatchDone chan struct{}
}

// NewClient creates a Client for the given connection settings. The
// connection is not established until Connect.
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.SecurityPolicy == "" {
		config.SecurityPolicy = PolicyNone
	}
	if config.SecurityMode == "" {
		config.SecurityMode = ModeNone
	}

	return &Client{
		config:    config,
		logger:    logger.With("component", "opcua-client"),
		changes:   make(chan DataChange, changeBufferSize),
		monitored: make(map[string]uint32),
		handles:   make(map[uint32]string),
	}, nil
}

// Endpoint returns the configured server URL
func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// Connected reports whether the session is established
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect discovers the server's endpoints, selects the one matching the
// configured policy and mode, and establishes the secure channel and
// session. Connect on a connected session is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	// Reopen the change channel when reconnecting a closed session
	if c.changesClosed {
		c.changes = make(chan DataChange, changeBufferSize)
		c.changesClosed = false
	}

	endpoints, err := opcua.GetEndpoints(ctx, c.config.Endpoint)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "discover endpoints")
	}

	ep, err := selectEndpoint(endpoints, c.config.SecurityPolicy, c.config.SecurityMode)
	if err != nil {
		return err
	}
	// Servers frequently advertise an unreachable hostname. Dial the URL we
	// were given, not the one the server reports.
	ep.EndpointURL = c.config.Endpoint

	opts := []opcua.Option{
		opcua.SecurityPolicy(c.config.SecurityPolicy),
		opcua.SecurityModeString(c.config.SecurityMode),
	}
	if c.config.SecurityPolicy != PolicyNone {
		opts = append(opts,
			opcua.CertificateFile(c.config.CertFile),
			opcua.PrivateKeyFile(c.config.KeyFile),
		)
	}
	if c.config.Username != "" {
		opts = append(opts,
			opcua.AuthUsername(c.config.Username, c.config.Password),
			opcua.SecurityFromEndpoint(ep, ua.UserTokenTypeUserName),
		)
	} else {
		opts = append(opts,
			opcua.AuthAnonymous(),
			opcua.SecurityFromEndpoint(ep, ua.UserTokenTypeAnonymous),
		)
	}

	conn, err := opcua.NewClient(ep.EndpointURL, opts...)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "Connect", "create client")
	}
	if err := conn.Connect(ctx); err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "connect to "+c.config.Endpoint)
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("Connected to OPC UA server",
		"endpoint", c.config.Endpoint,
		"security_policy", c.config.SecurityPolicy,
		"security_mode", c.config.SecurityMode)
	return nil
}

// Close cancels any active subscription and disconnects. Close on a closed
// session is a no-op.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	if c.sub != nil {
		if err := c.cancelSubscriptionLocked(ctx); err != nil {
			c.logger.Warn("Failed to cancel subscription on close", "error", err)
		}
	}

	err := c.conn.Close(ctx)
	c.conn = nil
	c.connected = false
	close(c.changes)
	c.changesClosed = true

	if err != nil {
		return errors.WrapTransient(err, "Client", "Close", "disconnect")
	}
	c.logger.Info("Disconnected from OPC UA server", "endpoint", c.config.Endpoint)
	return nil
}

// BrowseAll recursively browses the address space starting from the root
// node's children. Errors on individual nodes are recorded in the tree and
// never abort the walk.
func (c *Client) BrowseAll(ctx context.Context) ([]BrowseNode, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	root := conn.Node(ua.NewNumericNodeID(0, id.RootFolder))
	children, err := root.Children(ctx, id.HierarchicalReferences, ua.NodeClassAll)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "BrowseAll", "browse root node")
	}

	visited := map[string]bool{}
	tree := make([]BrowseNode, 0, len(children))
	for _, child := range children {
		tree = append(tree, c.browseRecursive(ctx, conn, child, visited, 0))
	}
	return tree, nil
}

func (c *Client) browseRecursive(ctx context.Context, conn *opcua.Client, node *opcua.Node, visited map[string]bool, depth int) BrowseNode {
	nodeID := node.ID.String()
	if visited[nodeID] || depth >= browseMaxDepth {
		return BrowseNode{ID: nodeID}
	}
	visited[nodeID] = true

	name, err := node.BrowseName(ctx)
	if err != nil {
		return BrowseNode{Error: err.Error()}
	}

	children, err := node.Children(ctx, id.HierarchicalReferences, ua.NodeClassAll)
	if err != nil {
		return BrowseNode{Error: err.Error()}
	}

	result := BrowseNode{
		ID:         nodeID,
		BrowseName: name.Name,
		Children:   make([]BrowseNode, 0, len(children)),
	}
	for _, child := range children {
		result.Children = append(result.Children, c.browseRecursive(ctx, conn, child, visited, depth+1))
	}
	return result
}

// BrowseChildren lists the direct children of a node
func (c *Client) BrowseChildren(ctx context.Context, nodeID string) ([]NodeRef, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	parsed, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidNodeID, "Client", "BrowseChildren",
			"parse node id "+nodeID)
	}

	children, err := conn.Node(parsed).Children(ctx, id.HierarchicalReferences, ua.NodeClassAll)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "BrowseChildren", "browse "+nodeID)
	}

	refs := make([]NodeRef, 0, len(children))
	for _, child := range children {
		name, err := child.BrowseName(ctx)
		if err != nil {
			return nil, errors.WrapTransient(err, "Client", "BrowseChildren",
				"read browse name of "+child.ID.String())
		}
		refs = append(refs, NodeRef{ID: child.ID.String(), BrowseName: name.Name})
	}
	return refs, nil
}

// Read reads the current value of a node with both timestamps
func (c *Client) Read(ctx context.Context, nodeID string) (DataValue, error) {
	conn, err := c.connection()
	if err != nil {
		return DataValue{}, err
	}

	parsed, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return DataValue{}, errors.WrapInvalid(errors.ErrInvalidNodeID, "Client", "Read",
			"parse node id "+nodeID)
	}

	req := &ua.ReadRequest{
		MaxAge:             2000,
		NodesToRead:        []*ua.ReadValueID{{NodeID: parsed}},
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	}
	resp, err := conn.Read(ctx, req)
	if err != nil {
		return DataValue{}, errors.WrapTransient(err, "Client", "Read", "read "+nodeID)
	}
	if len(resp.Results) == 0 {
		return DataValue{}, errors.WrapTransient(errors.ErrNodeUnreadable, "Client", "Read",
			"read "+nodeID)
	}
	result := resp.Results[0]
	if result.Status != ua.StatusOK {
		return DataValue{}, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrBadStatus, result.Status),
			"Client", "Read", "read "+nodeID)
	}

	return DataValue{
		NodeID:     nodeID,
		Value:      result.Value.Value(),
		SourceTime: result.SourceTimestamp,
		ServerTime: result.ServerTimestamp,
	}, nil
}

// Write writes a value to a node's Value attribute. The value is coerced
// to the node's current value type so JSON numbers land in the right
// variant width.
func (c *Client) Write(ctx context.Context, nodeID string, value any) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	parsed, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return errors.WrapInvalid(errors.ErrInvalidNodeID, "Client", "Write",
			"parse node id "+nodeID)
	}

	current, err := c.Read(ctx, nodeID)
	if err != nil {
		return err
	}
	coerced, err := CoerceValue(value, current.Value)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "Write", "coerce value for "+nodeID)
	}

	variant, err := ua.NewVariant(coerced)
	if err != nil {
		return errors.WrapInvalid(errors.ErrInvalidValue, "Client", "Write",
			"build variant for "+nodeID)
	}

	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      parsed,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        variant,
			},
		}},
	}
	resp, err := conn.Write(ctx, req)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Write", "write "+nodeID)
	}
	if len(resp.Results) > 0 && resp.Results[0] != ua.StatusOK {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrBadStatus, resp.Results[0]),
			"Client", "Write", "write "+nodeID)
	}

	c.logger.Debug("Wrote node value", "node_id", nodeID, "value", coerced)
	return nil
}

// SecurityPolicies returns the SecurityPolicyUri of each endpoint the
// server advertises. Does not require an established session.
func (c *Client) SecurityPolicies(ctx context.Context) ([]string, error) {
	endpoints, err := opcua.GetEndpoints(ctx, c.config.Endpoint)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "SecurityPolicies", "discover endpoints")
	}

	policies := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		policies = append(policies, ep.SecurityPolicyURI)
	}
	return policies, nil
}

// Subscribe starts the session's data-change subscription, or extends it
// with monitored items for nodes not already covered. interval zero means
// DefaultPublishInterval.
func (c *Client) Subscribe(ctx context.Context, nodeIDs []string, interval time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return errors.WrapTransient(errors.ErrNotConnected, "Client", "Subscribe", "check connection")
	}
	if interval <= 0 {
		interval = DefaultPublishInterval
	}

	if c.sub == nil {
		c.notifyCh = make(chan *opcua.PublishNotificationData, changeBufferSize)
		sub, err := c.conn.Subscribe(ctx, &opcua.SubscriptionParameters{
			Interval: interval,
		}, c.notifyCh)
		if err != nil {
			return errors.WrapTransient(
				fmt.Errorf("%w: %v", errors.ErrSubscriptionFailed, err),
				"Client", "Subscribe", "create subscription")
		}
		c.sub = sub
		c.dispatchStop = make(chan struct{})
		c.dispatchDone = make(chan struct{})
		go c.dispatch(c.notifyCh, c.dispatchStop, c.dispatchDone)
		c.logger.Info("Created subscription",
			"subscription_id", sub.SubscriptionID,
			"interval", interval)
	}

	var requests []*ua.MonitoredItemCreateRequest
	var added []string
	c.handleMu.Lock()
	for _, nodeID := range nodeIDs {
		if _, ok := c.monitored[nodeID]; ok {
			continue
		}
		parsed, err := ua.ParseNodeID(nodeID)
		if err != nil {
			c.handleMu.Unlock()
			return errors.WrapInvalid(errors.ErrInvalidNodeID, "Client", "Subscribe",
				"parse node id "+nodeID)
		}
		c.nextHandle++
		handle := c.nextHandle
		c.monitored[nodeID] = handle
		c.handles[handle] = nodeID
		added = append(added, nodeID)
		requests = append(requests,
			opcua.NewMonitoredItemCreateRequestWithDefaults(parsed, ua.AttributeIDValue, handle))
	}
	c.handleMu.Unlock()
	if len(requests) == 0 {
		return nil
	}

	resp, err := c.sub.Monitor(ctx, ua.TimestampsToReturnBoth, requests...)
	if err != nil {
		c.forgetLocked(added)
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrSubscriptionFailed, err),
			"Client", "Subscribe", "create monitored items")
	}
	for i, result := range resp.Results {
		if result.StatusCode != ua.StatusOK {
			c.forgetLocked([]string{added[i]})
			return errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrBadStatus, result.StatusCode),
				"Client", "Subscribe", "monitor "+added[i])
		}
	}

	c.logger.Info("Monitoring nodes", "node_ids", added)
	return nil
}

// Changes returns the data-change channel. Closed when the session closes.
func (c *Client) Changes() <-chan DataChange {
	return c.changes
}

// Unsubscribe cancels the active subscription
func (c *Client) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub == nil {
		return errors.WrapInvalid(errors.ErrNoSubscription, "Client", "Unsubscribe",
			"check subscription")
	}
	return c.cancelSubscriptionLocked(ctx)
}

func (c *Client) cancelSubscriptionLocked(ctx context.Context) error {
	err := c.sub.Cancel(ctx)
	c.sub = nil
	c.handleMu.Lock()
	c.monitored = make(map[string]uint32)
	c.handles = make(map[uint32]string)
	c.handleMu.Unlock()

	// Never close the notify channel: gopcua goroutines spawned before
	// Cancel forgot the subscription may still send into it. Signal the
	// dispatch goroutine instead and let the channel be collected.
	close(c.dispatchStop)
	<-c.dispatchDone
	c.notifyCh = nil
	c.dispatchStop = nil
	c.dispatchDone = nil

	if err != nil {
		return errors.WrapTransient(err, "Client", "Unsubscribe", "cancel subscription")
	}
	c.logger.Info("Subscription cancelled")
	return nil
}

// dispatch translates publish notifications into DataChange events.
// When the changes buffer is full the oldest pending change is dropped so
// a slow consumer never stalls the subscription.
func (c *Client) dispatch(notifyCh chan *opcua.PublishNotificationData, stop, done chan struct{}) {
	defer close(done)

	for {
		var notif *opcua.PublishNotificationData
		select {
		case <-stop:
			return
		case notif = <-notifyCh:
		}
		if notif == nil {
			continue
		}
		if notif.Error != nil {
			c.logger.Debug("Publish notification error", "error", notif.Error)
			continue
		}

		dcn, ok := notif.Value.(*ua.DataChangeNotification)
		if !ok {
			continue
		}
		for _, item := range dcn.MonitoredItems {
			if item.Value == nil || item.Value.Value == nil {
				continue
			}
			c.handleMu.RLock()
			nodeID := c.handles[item.ClientHandle]
			c.handleMu.RUnlock()

			change := DataChange{
				NodeID:     nodeID,
				Value:      item.Value.Value.Value(),
				SourceTime: item.Value.SourceTimestamp,
				ServerTime: item.Value.ServerTimestamp,
			}
			select {
			case c.changes <- change:
			default:
				select {
				case <-c.changes:
				default:
				}
				select {
				case c.changes <- change:
				default:
				}
			}
		}
	}
}

// forgetLocked removes bookkeeping for nodes whose monitor request failed
func (c *Client) forgetLocked(nodeIDs []string) {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()
	for _, nodeID := range nodeIDs {
		if handle, ok := c.monitored[nodeID]; ok {
			delete(c.handles, handle)
			delete(c.monitored, nodeID)
		}
	}
}

// selectEndpoint picks the discovered endpoint matching the configured
// policy and mode. gopcua reports no match by returning nil, not an error.
func selectEndpoint(endpoints []*ua.EndpointDescription, policy, mode string) (*ua.EndpointDescription, error) {
	ep := opcua.SelectEndpoint(endpoints, policy, ua.MessageSecurityModeFromString(mode))
	if ep == nil {
		return nil, errors.WrapInvalid(errors.ErrEndpointUnavailable, "Client", "Connect",
			"select endpoint for policy "+policy)
	}
	return ep, nil
}

// connection returns the live connection or ErrNotConnected
func (c *Client) connection() (*opcua.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "Client", "connection",
			"check connection")
	}
	return c.conn, nil
}
