package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fhirlite/fhirlite/server/internal/record"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// queueSize bounds entries waiting for the Run loop.
	queueSize = 64

	// DefaultBacklog is how many recent entries a new client receives.
	DefaultBacklog = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The feed sits behind the API key middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients for every audit entry.
type Message struct {
	Event string            `json:"event"`
	Data  record.AuditEntry `json:"data"`
}

// Hub streams audit entries to connected WebSocket clients. It implements
// audit.Sink: Publish queues an entry and the Run loop fans it out.
type Hub struct {
	queue   chan record.AuditEntry
	backlog int

	mu      sync.Mutex
	clients map[*client]struct{}
	recent  [][]byte // encoded messages, oldest first
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that replays up to backlog recent entries to each new
// client.
func New(backlog int) *Hub {
	if backlog < 0 {
		backlog = 0
	}
	return &Hub{
		queue:   make(chan record.AuditEntry, queueSize),
		backlog: backlog,
		clients: make(map[*client]struct{}),
	}
}

// Publish queues e for broadcast. It never blocks; when the queue is full the
// entry is dropped from the feed (it is already persisted).
func (h *Hub) Publish(e record.AuditEntry) {
	select {
	case h.queue <- e:
	default:
		slog.Warn("ws: audit feed queue full, dropping entry", "action", e.Action, "resource_id", e.ResourceID)
	}
}

// Run broadcasts queued entries until ctx is cancelled, then closes all
// active connections.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case e := <-h.queue:
			h.broadcast(e)
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// The recent backlog is sent immediately; later entries follow as they are
// broadcast. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize+h.backlog),
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

// register adds c and queues the backlog under the same lock, so c sees
// every entry exactly once.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	for _, msg := range h.recent {
		c.send <- msg
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(e record.AuditEntry) {
	data, err := json.Marshal(Message{Event: "audit", Data: e})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.backlog > 0 {
		h.recent = append(h.recent, data)
		if len(h.recent) > h.backlog {
			h.recent = h.recent[len(h.recent)-h.backlog:]
		}
	}

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client's outgoing buffer is full; disconnect it.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
