package opcua

import (
	"context"
	"strings"
	"time"
)

// Security policies accepted by Config. These match the policy URIs the
// server advertises minus the http://opcfoundation.org/UA/SecurityPolicy#
// prefix.
const (
	PolicyNone                = "None"
	PolicyBasic128Rsa15       = "Basic128Rsa15"
	PolicyBasic256            = "Basic256"
	PolicyBasic256Sha256      = "Basic256Sha256"
	PolicyAes128Sha256RsaOaep = "Aes128_Sha256_RsaOaep"
	PolicyAes256Sha256RsaPss  = "Aes256_Sha256_RsaPss"
)

// Message security modes accepted by Config
const (
	ModeNone           = "None"
	ModeSign           = "Sign"
	ModeSignAndEncrypt = "SignAndEncrypt"
)

// DefaultPublishInterval is the subscription publish interval used when a
// caller passes zero
const DefaultPublishInterval = time.Second

// KnownPolicies lists the supported security policy names
var KnownPolicies = []string{
	PolicyNone,
	PolicyBasic128Rsa15,
	PolicyBasic256,
	PolicyBasic256Sha256,
	PolicyAes128Sha256RsaOaep,
	PolicyAes256Sha256RsaPss,
}

// KnownModes lists the supported message security mode names
var KnownModes = []string{ModeNone, ModeSign, ModeSignAndEncrypt}

// ValidEndpoint reports whether url is an OPC UA TCP endpoint
func ValidEndpoint(url string) bool {
	return strings.HasPrefix(url, "opc.tcp://")
}

// ValidPolicy reports whether policy names a supported security policy
func ValidPolicy(policy string) bool {
	for _, p := range KnownPolicies {
		if p == policy {
			return true
		}
	}
	return false
}

// ValidMode reports whether mode names a supported message security mode
func ValidMode(mode string) bool {
	for _, m := range KnownModes {
		if m == mode {
			return true
		}
	}
	return false
}

// BrowseNode is one node in a recursive browse tree. When browsing a node
// fails the error is recorded in place and the walk continues, so a single
// unreadable node never loses the rest of the tree.
type BrowseNode struct {
	ID         string       `json:"id,omitempty"`
	BrowseName string       `json:"browse_name,omitempty"`
	Children   []BrowseNode `json:"children,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// NodeRef identifies a single node from a one-level browse
type NodeRef struct {
	ID         string `json:"id"`
	BrowseName string `json:"browse_name"`
}

// DataValue is a read result with server-reported timestamps
type DataValue struct {
	NodeID     string    `json:"node_id"`
	Value      any       `json:"value"`
	SourceTime time.Time `json:"source_time,omitempty"`
	ServerTime time.Time `json:"server_time,omitempty"`
}

// DataChange is a single data-change notification from a subscription
type DataChange struct {
	NodeID     string    `json:"node_id"`
	Value      any       `json:"value"`
	SourceTime time.Time `json:"source_time,omitempty"`
	ServerTime time.Time `json:"server_time,omitempty"`
}

// Session is the browse/read/write/subscribe surface of an OPC UA server
// connection. Client implements it against a live server; the simulator
// package implements it in-process so the gateway and tests can run without
// a PLC.
type Session interface {
	// Connect establishes the session. Connect on a connected session is
	// a no-op.
	Connect(ctx context.Context) error

	// Close tears down any subscription and disconnects
	Close(ctx context.Context) error

	// Endpoint returns the configured server URL
	Endpoint() string

	// Connected reports whether the session is established
	Connected() bool

	// BrowseAll recursively browses the address space from the root node
	BrowseAll(ctx context.Context) ([]BrowseNode, error)

	// BrowseChildren lists the direct children of a node
	BrowseChildren(ctx context.Context, nodeID string) ([]NodeRef, error)

	// Read reads the current value of a node
	Read(ctx context.Context, nodeID string) (DataValue, error)

	// Write writes a value to a node, coercing it to the node's current
	// value type
	Write(ctx context.Context, nodeID string, value any) error

	// SecurityPolicies returns the SecurityPolicyUri of each endpoint the
	// server advertises
	SecurityPolicies(ctx context.Context) ([]string, error)

	// Subscribe starts (or extends) the session's data-change subscription
	// with the given nodes. Adding a node twice is a no-op.
	Subscribe(ctx context.Context, nodeIDs []string, interval time.Duration) error

	// Changes returns the data-change channel. The channel is owned by the
	// session and closed on Close.
	Changes() <-chan DataChange

	// Unsubscribe cancels the active subscription. Returns
	// errors.ErrNoSubscription when there is none.
	Unsubscribe(ctx context.Context) error
}
