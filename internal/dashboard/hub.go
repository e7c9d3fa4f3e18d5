package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/efebarandurmaz/bugtracker/internal/observability"
)

// clientBuffer is the number of events queued per client. A client that
// falls further behind misses events; the next graph.updated resyncs it.
const clientBuffer = 64

// Hub fans dashboard events out to Server-Sent Events clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	metrics *observability.Metrics
}

// Client represents a single SSE connection. Only the goroutine serving
// the connection writes to it.
type Client struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	events  chan []byte
	done    chan struct{}
	dropped atomic.Int64
}

// NewHub creates a new Hub. metrics may be nil.
func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		metrics: metrics,
	}
}

// Register adds a new client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	h.metrics.SetSSEClients(len(h.clients))
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.done)
	}
	h.metrics.SetSSEClients(len(h.clients))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for every connected client. It never blocks.
func (h *Hub) Broadcast(event *Event) {
	data := encodeEvent(event)
	if data == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.events <- data:
		default:
			client.dropped.Add(1)
		}
	}
}

func encodeEvent(event *Event) []byte {
	data, err := json.Marshal(event)
	if err != nil {
		return nil
	}
	return data
}

// NewClient creates a new SSE client from an HTTP response writer.
func NewClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Client{
		writer:  w,
		flusher: flusher,
		events:  make(chan []byte, clientBuffer),
		done:    make(chan struct{}),
	}, nil
}

// Serve writes queued events and keepalive pings until stop is closed or
// the client is unregistered.
func (c *Client) Serve(stop <-chan struct{}, keepAlive time.Duration) {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case data := <-c.events:
			c.send(data)
		case <-ticker.C:
			c.ping()
		}
	}
}

// send writes an SSE event to the client.
func (c *Client) send(data []byte) {
	fmt.Fprintf(c.writer, "data: %s\n\n", data)
	c.flusher.Flush()
}

// Dropped returns the number of events the client missed.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

func (c *Client) ping() {
	fmt.Fprintf(c.writer, ": ping\n\n")
	c.flusher.Flush()
}
