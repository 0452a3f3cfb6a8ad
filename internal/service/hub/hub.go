package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when no socket is registered for a session.
var ErrNotConnected = errors.New("session has no open socket")

// Client is one registered chat socket. Writes are serialized because the
// websocket connection allows a single concurrent writer.
type Client struct {
	SessionID string

	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

// WriteJSON sends v as a single text frame.
func (c *Client) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteJSON(v)
}

// Ping writes a ping control frame.
func (c *Client) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *Client) close(code int, reason string) {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.mu.Unlock()
	_ = c.conn.Close()
}

// Hub tracks the socket bound to each chat session.
type Hub struct {
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*Client
}

// New creates an empty hub.
func New(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Hub{
		writeTimeout: writeTimeout,
		clients:      make(map[string]*Client),
	}
}

// Add registers conn for sessionID. A previous socket of the same session is
// closed and replaced.
func (h *Hub) Add(sessionID string, conn *websocket.Conn) *Client {
	client := &Client{SessionID: sessionID, conn: conn, writeTimeout: h.writeTimeout}

	h.mu.Lock()
	old, exists := h.clients[sessionID]
	h.clients[sessionID] = client
	h.mu.Unlock()

	if exists {
		old.close(websocket.ClosePolicyViolation, "replaced by a newer connection")
	}
	return client
}

// Get returns the socket registered for sessionID.
func (h *Hub) Get(sessionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[sessionID]
	return client, ok
}

// Send delivers v to the socket of sessionID.
func (h *Hub) Send(sessionID string, v any) error {
	client, ok := h.Get(sessionID)
	if !ok {
		return ErrNotConnected
	}
	return client.WriteJSON(v)
}

// Remove unregisters client if it is still the current socket of its session.
func (h *Hub) Remove(client *Client) {
	h.mu.Lock()
	current, ok := h.clients[client.SessionID]
	if ok && current == client {
		delete(h.clients, client.SessionID)
	}
	h.mu.Unlock()
	_ = client.conn.Close()
}

// Len reports the number of registered sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every socket with a going-away frame.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.close(websocket.CloseGoingAway, "server shutting down")
	}
}
