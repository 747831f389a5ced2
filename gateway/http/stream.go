package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/irfanghat/databricks-industrial-automation-suite/opcua"
)

// clientBufferSize bounds each stream client's pending events. A slow
// client drops events instead of blocking the subscription pump.
const clientBufferSize = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin policy is enforced by the gateway's CORS config, not here
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamClient is one SSE or WebSocket consumer of data changes
type streamClient struct {
	events  chan opcua.DataChange
	limiter *rate.Limiter
}

// broadcaster fans data changes out to stream clients. Each client gets a
// bounded channel and a rate limiter so no consumer can stall the others.
type broadcaster struct {
	mu      sync.Mutex
	clients map[*streamClient]bool
	closed  bool
	rate    float64
	burst   int
	logger  *slog.Logger
	dropped uint64
}

func newBroadcaster(eventsPerSecond float64, burst int, logger *slog.Logger) *broadcaster {
	return &broadcaster{
		clients: make(map[*streamClient]bool),
		rate:    eventsPerSecond,
		burst:   burst,
		logger:  logger,
	}
}

// publish delivers a data change to every client that has rate budget and
// buffer space. Never blocks.
func (b *broadcaster) publish(change opcua.DataChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for client := range b.clients {
		if !client.limiter.Allow() {
			b.dropped++
			continue
		}
		select {
		case client.events <- change:
		default:
			b.dropped++
		}
	}
}

// subscribe registers a new stream client
func (b *broadcaster) subscribe() (*streamClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broadcaster closed")
	}

	client := &streamClient{
		events:  make(chan opcua.DataChange, clientBufferSize),
		limiter: rate.NewLimiter(rate.Limit(b.rate), b.burst),
	}
	b.clients[client] = true
	return client, nil
}

// unsubscribe removes a stream client
func (b *broadcaster) unsubscribe(client *streamClient) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.clients[client] {
		delete(b.clients, client)
		close(client.events)
	}
}

// close disconnects all stream clients
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for client := range b.clients {
		close(client.events)
	}
	b.clients = make(map[*streamClient]bool)
}

func marshalChange(change opcua.DataChange) ([]byte, error) {
	return json.Marshal(change)
}

func (b *broadcaster) clientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// handleStream serves data changes as Server-Sent Events
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	client, err := g.broadcaster.subscribe()
	if err != nil {
		g.writeError(w, http.StatusServiceUnavailable, "gateway shutting down")
		return
	}
	defer g.broadcaster.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Periodic comments keep intermediaries from timing out idle streams
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case change, open := <-client.events:
			if !open {
				return
			}
			data, err := marshalChange(change)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
			g.bytesSent.Add(uint64(len(data)))
		}
	}
}

// handleStreamWS serves the same data changes over a WebSocket
func (g *Gateway) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	client, err := g.broadcaster.subscribe()
	if err != nil {
		g.writeError(w, http.StatusServiceUnavailable, "gateway shutting down")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.broadcaster.unsubscribe(client)
		g.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	defer func() {
		g.broadcaster.unsubscribe(client)
		conn.Close()
	}()

	// Drain reads so close frames and pings are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case change, open := <-client.events:
			if !open {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
					time.Now().Add(time.Second))
				return
			}
			data, err := marshalChange(change)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			g.bytesSent.Add(uint64(len(data)))
		}
	}
}
