// Package http provides the HTTP gateway exposing OPC UA operations,
// certificate management and data-change streaming to external clients.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/irfanghat/databricks-industrial-automation-suite/certmanager"
	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
	"github.com/irfanghat/databricks-industrial-automation-suite/gateway"
	"github.com/irfanghat/databricks-industrial-automation-suite/health"
	"github.com/irfanghat/databricks-industrial-automation-suite/opcua"
)

// httpGatewaySchema defines the configuration schema for the HTTP gateway
var httpGatewaySchema = component.ConfigSchema{
	Properties: map[string]component.PropertySchema{
		"enable_cors": {
			Type:        "bool",
			Description: "Enable CORS headers (requires cors_origins)",
			Default:     false,
		},
		"cors_origins": {
			Type:        "array",
			Description: "Allowed CORS origins",
		},
		"max_request_size": {
			Type:        "int",
			Description: "Maximum request body size in bytes",
			Default:     1024 * 1024,
		},
		"request_timeout": {
			Type:        "string",
			Description: "Per-operation timeout (e.g. 10s)",
			Default:     "10s",
		},
		"stream_rate": {
			Type:        "float",
			Description: "Data-change events per second delivered per stream client",
			Default:     100,
		},
		"stream_burst": {
			Type:        "int",
			Description: "Stream rate limiter burst per client",
			Default:     25,
		},
		"certs_dir": {
			Type:        "string",
			Description: "Directory for managed client certificates",
			Default:     certmanager.DefaultCertsDir,
		},
	},
}

// getOrGenerateRequestID extracts request ID from headers or generates a new
// one for tracing requests across the gateway and device operations
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// SetupRequest updates the gateway's OPC UA connection configuration
type SetupRequest struct {
	Endpoint       string `json:"endpoint"`
	SecurityPolicy string `json:"security_policy,omitempty"`
	SecurityMode   string `json:"security_mode,omitempty"`
	CertFile       string `json:"cert_file,omitempty"`
	KeyFile        string `json:"key_file,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
}

// WriteRequest carries a value for a node write
type WriteRequest struct {
	Value any `json:"value"`
}

// CertificateRequest parameterizes certificate generation
type CertificateRequest struct {
	Overwrite   bool     `json:"overwrite,omitempty"`
	CommonName  string   `json:"common_name,omitempty"`
	DNSNames    []string `json:"dns_names,omitempty"`
	IPAddresses []string `json:"ip_addresses,omitempty"`
	URIs        []string `json:"uris,omitempty"`
}

// SubscribeRequest optionally overrides the publish interval
type SubscribeRequest struct {
	IntervalMS int `json:"interval_ms,omitempty"`
}

// SessionFactory builds a session from connection configuration. The
// default factory dials a live server; tests and simulation inject the
// plant simulator instead.
type SessionFactory func(cfg opcua.Config, logger *slog.Logger) (opcua.Session, error)

func defaultSessionFactory(cfg opcua.Config, logger *slog.Logger) (opcua.Session, error) {
	return opcua.NewClient(cfg, logger)
}

// Gateway implements the Gateway interface for the OPC UA REST surface
type Gateway struct {
	name          string
	config        gateway.Config
	logger        *slog.Logger
	certManager   *certmanager.Manager
	healthMonitor *health.Monitor

	// Session state. The session is created lazily from sessionConfig on
	// the first operation that needs one and replaced on setup.
	sessionMu      sync.Mutex
	sessionFactory SessionFactory
	session        opcua.Session
	sessionConfig  opcua.Config
	subscribed     map[string]bool
	pumpDone       chan struct{} // nil when no pump is running

	broadcaster *broadcaster

	// Lifecycle state (atomic operations)
	running atomic.Bool

	// Protects startTime and lastActivity for concurrent reads
	mu        sync.RWMutex
	startTime time.Time

	// Metrics (atomic operations)
	requestsTotal   atomic.Uint64
	requestsSuccess atomic.Uint64
	requestsFailed  atomic.Uint64
	bytesReceived   atomic.Uint64
	bytesSent       atomic.Uint64
	lastActivity    time.Time
}

// GatewayDeps holds runtime dependencies for the HTTP gateway
type GatewayDeps struct {
	Name           string
	Config         gateway.Config
	SessionFactory SessionFactory // Optional; dials a live server when nil
	CertManager    *certmanager.Manager
	HealthMonitor  *health.Monitor
	Logger         *slog.Logger
}

// New creates an HTTP gateway from resolved dependencies
func New(deps GatewayDeps) (*Gateway, error) {
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "http-gateway")
	}

	certManager := deps.CertManager
	if certManager == nil {
		certManager = certmanager.New(certmanager.Options{CertsDir: cfg.CertsDir})
	}

	factory := deps.SessionFactory
	if factory == nil {
		factory = defaultSessionFactory
	}

	name := deps.Name
	if name == "" {
		name = "http-gateway"
	}

	return &Gateway{
		name:           name,
		config:         cfg,
		logger:         logger,
		certManager:    certManager,
		healthMonitor:  deps.HealthMonitor,
		sessionFactory: factory,
		sessionConfig: opcua.Config{
			Endpoint:       "opc.tcp://127.0.0.1:4840/",
			SecurityPolicy: opcua.PolicyNone,
			SecurityMode:   opcua.ModeNone,
		},
		subscribed:  make(map[string]bool),
		broadcaster: newBroadcaster(cfg.StreamRate, cfg.StreamBurst, logger),
	}, nil
}

// NewGateway creates an HTTP gateway from raw component configuration
func NewGateway(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config gateway.Config
	if len(rawConfig) > 0 {
		if err := component.SafeUnmarshal(rawConfig, &config); err != nil {
			return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "config unmarshal")
		}
	}

	return New(GatewayDeps{
		Config: config,
		Logger: deps.GetLoggerWithComponent("http-gateway"),
	})
}

// Initialize prepares the HTTP gateway
func (g *Gateway) Initialize() error {
	return nil
}

// Start begins the HTTP gateway operation
func (g *Gateway) Start(_ context.Context) error {
	if g.running.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Gateway", "Start",
			"gateway already running")
	}

	g.mu.Lock()
	g.running.Store(true)
	g.startTime = time.Now()
	g.mu.Unlock()

	return nil
}

// Stop gracefully stops the HTTP gateway, closing any device session and
// disconnecting stream clients
func (g *Gateway) Stop(timeout time.Duration) error {
	if !g.running.Load() {
		return nil
	}

	g.mu.Lock()
	g.running.Store(false)
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g.sessionMu.Lock()
	g.closeSessionLocked(ctx)
	g.sessionMu.Unlock()

	g.broadcaster.close()
	return nil
}

// RegisterHTTPHandlers registers the gateway's routes with the HTTP mux
func (g *Gateway) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc(prefix+"opcua/setup", g.handle(http.MethodPost, g.handleSetup))
	mux.HandleFunc(prefix+"opcua/browse", g.handle(http.MethodGet, g.handleBrowse))
	mux.HandleFunc(prefix+"opcua/browse/", g.handleNode(http.MethodGet, prefix+"opcua/browse/", g.handleBrowseChildren))
	mux.HandleFunc(prefix+"opcua/read/", g.handleNode(http.MethodGet, prefix+"opcua/read/", g.handleRead))
	mux.HandleFunc(prefix+"opcua/write/", g.handleNode(http.MethodPost, prefix+"opcua/write/", g.handleWrite))
	mux.HandleFunc(prefix+"opcua/subscribe/", g.handleNode(http.MethodPost, prefix+"opcua/subscribe/", g.handleSubscribe))
	mux.HandleFunc(prefix+"opcua/unsubscribe", g.handle(http.MethodPost, g.handleUnsubscribe))
	mux.HandleFunc(prefix+"opcua/security-policies", g.handle(http.MethodGet, g.handleSecurityPolicies))
	mux.HandleFunc(prefix+"opcua/stream", g.handleStream)
	mux.HandleFunc(prefix+"opcua/stream/ws", g.handleStreamWS)
	mux.HandleFunc(prefix+"certificates/generate", g.handle(http.MethodPost, g.handleCertificateGenerate))
	mux.HandleFunc(prefix+"healthz", g.handle(http.MethodGet, g.handleHealthz))
}

// handle wraps an endpoint with method filtering, request IDs, CORS and
// request accounting
func (g *Gateway) handle(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		g.requestsTotal.Add(1)
		g.mu.Lock()
		g.lastActivity = time.Now()
		g.mu.Unlock()

		if g.config.EnableCORS {
			g.applyCORS(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		if r.Method != method {
			g.writeError(w, http.StatusMethodNotAllowed,
				fmt.Sprintf("method %s not allowed", r.Method))
			g.requestsFailed.Add(1)
			return
		}

		fn(w, r)
	}
}

// handleNode additionally extracts the URL-escaped node ID following the
// route prefix (ns=2;i=5 arrives as ns%3D2%3Bi%3D5)
func (g *Gateway) handleNode(method, routePrefix string, fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return g.handle(method, func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.URL.EscapedPath(), routePrefix)
		nodeID, err := url.PathUnescape(raw)
		if err != nil || nodeID == "" {
			g.writeError(w, http.StatusBadRequest, "missing or malformed node id")
			g.requestsFailed.Add(1)
			return
		}
		fn(w, r, nodeID)
	})
}

// readBody reads the request body within the configured size limit
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()

	bodyReader := io.LimitReader(r.Body, g.config.MaxRequestSize+1)
	body, err := io.ReadAll(bodyReader)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		g.requestsFailed.Add(1)
		return nil, false
	}
	if int64(len(body)) > g.config.MaxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", g.config.MaxRequestSize))
		g.requestsFailed.Add(1)
		return nil, false
	}

	g.bytesReceived.Add(uint64(len(body)))
	return body, true
}

// ensureSession returns a connected session, dialing one from the current
// connection configuration when necessary
func (g *Gateway) ensureSessionLocked(ctx context.Context) (opcua.Session, error) {
	if g.session != nil && g.session.Connected() {
		return g.session, nil
	}

	if g.session == nil {
		session, err := g.sessionFactory(g.sessionConfig, g.logger)
		if err != nil {
			return nil, err
		}
		g.session = session
	}

	if err := g.session.Connect(ctx); err != nil {
		return nil, err
	}
	return g.session, nil
}

// closeSessionLocked tears down the session and any subscription state
func (g *Gateway) closeSessionLocked(ctx context.Context) {
	if g.session == nil {
		return
	}
	if err := g.session.Close(ctx); err != nil {
		g.logger.Warn("Failed to close session", "error", err)
	}
	if g.pumpDone != nil {
		<-g.pumpDone
		g.pumpDone = nil
	}
	g.session = nil
	g.subscribed = make(map[string]bool)
}

func (g *Gateway) opCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), g.config.RequestTimeout())
}

// handleSetup updates the connection configuration. An existing session is
// closed so the next operation dials with the new settings.
func (g *Gateway) handleSetup(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var req SetupRequest
	if err := json.Unmarshal(body, &req); err != nil {
		g.writeError(w, http.StatusBadRequest, "malformed setup request")
		g.requestsFailed.Add(1)
		return
	}

	if !opcua.ValidEndpoint(req.Endpoint) {
		g.writeError(w, http.StatusBadRequest, "endpoint must start with opc.tcp://")
		g.requestsFailed.Add(1)
		return
	}

	policy := req.SecurityPolicy
	if policy == "" {
		policy = opcua.PolicyNone
	}
	mode := req.SecurityMode
	if mode == "" {
		if policy == opcua.PolicyNone {
			mode = opcua.ModeNone
		} else {
			mode = opcua.ModeSignAndEncrypt
		}
	}
	if !opcua.ValidPolicy(policy) || !opcua.ValidMode(mode) {
		g.writeError(w, http.StatusBadRequest, "unknown security policy or mode")
		g.requestsFailed.Add(1)
		return
	}

	certFile, keyFile := req.CertFile, req.KeyFile
	if policy != opcua.PolicyNone && certFile == "" {
		// Secure connections fall back to the managed client certificate,
		// generating it on first use
		if !g.certManager.Exists() {
			if _, err := g.certManager.Generate(false); err != nil {
				g.writeMappedError(w, err)
				return
			}
		}
		certFile = g.certManager.CertificatePath()
		keyFile = g.certManager.KeyPath()
	}

	newConfig := opcua.Config{
		Endpoint:       req.Endpoint,
		SecurityPolicy: policy,
		SecurityMode:   mode,
		CertFile:       certFile,
		KeyFile:        keyFile,
		Username:       req.Username,
		Password:       req.Password,
	}
	if err := newConfig.Validate(); err != nil {
		g.writeMappedError(w, err)
		return
	}

	ctx, cancel := g.opCtx(r)
	defer cancel()

	g.sessionMu.Lock()
	g.closeSessionLocked(ctx)
	g.sessionConfig = newConfig
	g.sessionMu.Unlock()

	g.logger.Info("Connection configuration updated",
		"endpoint", req.Endpoint,
		"security_policy", policy,
		"security_mode", mode)
	g.writeJSON(w, http.StatusOK, map[string]string{
		"message":  "connection configuration updated",
		"endpoint": req.Endpoint,
	})
}

func (g *Gateway) handleBrowse(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.opCtx(r)
	defer cancel()

	g.sessionMu.Lock()
	session, err := g.ensureSessionLocked(ctx)
	g.sessionMu.Unlock()
	if err != nil {
		g.writeMappedError(w, err)
		return
	}

	tree, err := session.BrowseAll(ctx)
	if err != nil {
		g.writeMappedError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"nodes": tree})
}

func (g *Gateway) handleBrowseChildren(w http.ResponseWriter, r *http.Request, nodeID string) {
	ctx, cancel := g.opCtx(r)
	defer cancel()

	g.sessionMu.Lock()
	session, err := g.ensureSessionLocked(ctx)
	g.sessionMu.Unlock()
	if err != nil {
		g.writeMappedError(w, err)
		return
	}

	children, err := session.BrowseChildren(ctx, nodeID)
	if err != nil {
		g.writeMappedError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"node_id": nodeID, "children": children})
}

func (g *Gateway) handleRead(w http.ResponseWriter, r *http.Request, nodeID string) {
	ctx, cancel := g.opCtx(r)
	defer cancel()

	g.sessionMu.Lock()
	session, err := g.ensureSessionLocked(ctx)
	g.sessionMu.Unlock()
	if err != nil {
		g.writeMappedError(w, err)
		return
	}

	value, err := session.Read(ctx, nodeID)
	if err != nil {
		g.writeMappedError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, value)
}

func (g *Gateway) handleWrite(w http.ResponseWriter, r *http.Request, nodeID string) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var req WriteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		g.writeError(w, http.StatusBadRequest, "malformed write request")
		g.requestsFailed.Add(1)
		return
	}

	ctx, cancel := g.opCtx(r)
	defer cancel()

	g.sessionMu.Lock()
	session, err := g.ensureSessionLocked(ctx)
	g.sessionMu.Unlock()
	if err != nil {
		g.writeMappedError(w, err)
		return
	}

	if err := session.Write(ctx, nodeID, req.Value); err != nil {
		g.writeMappedError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"message": "value written",
		"node_id": nodeID,
		"value":   req.Value,
	})
}

// handleSubscribe adds the node to the session's data-change subscription.
// Adding a node twice is a no-op success.
func (g *Gateway) handleSubscribe(w http.ResponseWriter, r *http.Request, nodeID string) {
	interval := opcua.DefaultPublishInterval
	if body, ok := g.readBody(w, r); ok && len(body) > 0 {
		var req SubscribeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			g.writeError(w, http.StatusBadRequest, "malformed subscribe request")
			g.requestsFailed.Add(1)
			return
		}
		if req.IntervalMS > 0 {
			interval = time.Duration(req.IntervalMS) * time.Millisecond
		}
	} else if !ok {
		return
	}

	ctx, cancel := g.opCtx(r)
	defer cancel()

	g.sessionMu.Lock()
	session, err := g.ensureSessionLocked(ctx)
	if err != nil {
		g.sessionMu.Unlock()
		g.writeMappedError(w, err)
		return
	}

	if err := session.Subscribe(ctx, []string{nodeID}, interval); err != nil {
		g.sessionMu.Unlock()
		g.writeMappedError(w, err)
		return
	}
	g.subscribed[nodeID] = true
	g.startPumpLocked(session)
	g.sessionMu.Unlock()

	g.writeJSON(w, http.StatusOK, map[string]string{
		"message": "subscribed",
		"node_id": nodeID,
	})
}

// startPumpLocked forwards the session's data changes to stream clients.
// The pump exits when the session closes its change channel.
func (g *Gateway) startPumpLocked(session opcua.Session) {
	if g.pumpDone != nil {
		return
	}

	done := make(chan struct{})
	g.pumpDone = done
	changes := session.Changes()

	go func() {
		defer close(done)
		for change := range changes {
			g.broadcaster.publish(change)
		}
	}()
}

// handleUnsubscribe deletes the subscription and disconnects. No active
// subscription is a success, not an error.
func (g *Gateway) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.opCtx(r)
	defer cancel()

	g.sessionMu.Lock()
	session := g.session
	hadSubscription := len(g.subscribed) > 0
	if session != nil && hadSubscription {
		if err := session.Unsubscribe(ctx); err != nil && !errors.IsInvalid(err) {
			g.sessionMu.Unlock()
			g.writeMappedError(w, err)
			return
		}
	}
	g.closeSessionLocked(ctx)
	g.sessionMu.Unlock()

	if !hadSubscription {
		g.writeJSON(w, http.StatusOK, map[string]string{"message": "no active subscription"})
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"message": "unsubscribed"})
}

func (g *Gateway) handleSecurityPolicies(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.opCtx(r)
	defer cancel()

	g.sessionMu.Lock()
	if g.session == nil {
		session, err := g.sessionFactory(g.sessionConfig, g.logger)
		if err != nil {
			g.sessionMu.Unlock()
			g.writeMappedError(w, err)
			return
		}
		g.session = session
	}
	session := g.session
	g.sessionMu.Unlock()

	// Endpoint discovery does not require an established session
	policies, err := session.SecurityPolicies(ctx)
	if err != nil {
		g.writeMappedError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"security_policies": policies})
}

func (g *Gateway) handleCertificateGenerate(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var req CertificateRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			g.writeError(w, http.StatusBadRequest, "malformed certificate request")
			g.requestsFailed.Add(1)
			return
		}
	}

	manager := g.certManager
	if req.CommonName != "" || len(req.DNSNames) > 0 || len(req.IPAddresses) > 0 || len(req.URIs) > 0 {
		manager = certmanager.New(certmanager.Options{
			CertsDir:    g.config.CertsDir,
			CommonName:  req.CommonName,
			DNSNames:    req.DNSNames,
			IPAddresses: req.IPAddresses,
			URIs:        req.URIs,
		})
	}

	result, err := manager.Generate(req.Overwrite)
	if err != nil {
		g.writeMappedError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, result)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if g.healthMonitor == nil {
		g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	aggregate := g.healthMonitor.AggregateHealth("dias")
	status := http.StatusOK
	if aggregate.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}
	g.writeJSON(w, status, aggregate)
}

// applyCORS applies CORS headers to the response
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range g.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}

	if allowed {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")
	}
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes
func (g *Gateway) mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.Is(err, errors.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrNoSubscription):
		return http.StatusConflict
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a safe error message for external clients. Device
// addresses and internal details stay in the logs.
func (g *Gateway) sanitizeError(err error) string {
	switch {
	case err == nil:
		return "internal server error"
	case errors.Is(err, errors.ErrNodeNotFound):
		return "node not found"
	case errors.Is(err, errors.ErrNoSubscription):
		return "no active subscription"
	case errors.IsInvalid(err):
		return "invalid request"
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return "request timeout"
		}
		return "device temporarily unavailable"
	default:
		return "internal server error"
	}
}

// writeMappedError logs the full error and writes a sanitized response
func (g *Gateway) writeMappedError(w http.ResponseWriter, err error) {
	g.logger.Warn("Request failed", "error", err)
	g.writeError(w, g.mapErrorToHTTPStatus(err), g.sanitizeError(err))
	g.requestsFailed.Add(1)
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":  message,
		"status": statusCode,
	}

	data, _ := json.Marshal(response)
	w.Write(data)
}

// writeJSON writes a successful JSON response
func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		g.writeError(w, http.StatusInternalServerError, "internal server error")
		g.requestsFailed.Add(1)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		g.requestsFailed.Add(1)
		return
	}

	g.bytesSent.Add(uint64(len(data)))
	g.requestsSuccess.Add(1)
}

// Component metadata implementation

// Meta returns component metadata
func (g *Gateway) Meta() component.Metadata {
	return component.Metadata{
		Name:        g.name,
		Type:        "gateway",
		Description: "HTTP gateway for OPC UA operations and data-change streaming",
		Version:     "1.0.0",
	}
}

// InputPorts returns no input ports (gateway is request-driven)
func (g *Gateway) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns no output ports (responses go back to the caller)
func (g *Gateway) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema
func (g *Gateway) ConfigSchema() component.ConfigSchema {
	return httpGatewaySchema
}

// Health returns the current health status
func (g *Gateway) Health() component.HealthStatus {
	g.mu.RLock()
	startTime := g.startTime
	g.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    g.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(g.requestsFailed.Load()),
		Uptime:     time.Since(startTime),
	}
}

// DataFlow returns current data flow metrics
func (g *Gateway) DataFlow() component.FlowMetrics {
	g.mu.RLock()
	startTime := g.startTime
	lastActivity := g.lastActivity
	g.mu.RUnlock()

	total := g.requestsTotal.Load()
	failed := g.requestsFailed.Load()
	bytesRx := g.bytesReceived.Load()
	bytesTx := g.bytesSent.Load()

	var errorRate float64
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	var messagesPerSecond, bytesPerSecond float64
	uptime := time.Since(startTime).Seconds()
	if uptime > 0 {
		messagesPerSecond = float64(total) / uptime
		bytesPerSecond = float64(bytesRx+bytesTx) / uptime
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Register registers the HTTP gateway with the component registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "http",
		Factory:     NewGateway,
		Schema:      httpGatewaySchema,
		Type:        "gateway",
		Protocol:    "http",
		Description: "HTTP gateway for OPC UA operations and streaming",
		Version:     "1.0.0",
	})
}
