package server

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// WSMessage is the event envelope sent over WebSocket. The frontend
// switches on `type` and treats `data` as an arbitrary JSON object.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// wsClient wraps a connection with a write mutex; gorilla/websocket does
// not allow concurrent writes on one Conn.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WSHub is a broadcast hub for a set of WebSocket clients. The server is
// local and single-user, so an in-memory hub is enough; delivery is
// best-effort and failed clients are reaped by their read loops.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewWSHub constructs an empty hub.
func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*wsClient]struct{})}
}

// Add registers a connection with the hub.
func (h *WSHub) Add(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Remove unregisters a client and closes its connection.
func (h *WSHub) Remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Count reports connected clients; broadcast producers can skip work when
// nobody is listening.
func (h *WSHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast marshals msg once and fans the raw bytes out to every client.
func (h *WSHub) Broadcast(msg WSMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, b)
		c.mu.Unlock()
	}
}
