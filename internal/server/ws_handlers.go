package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader upgrades HTTP requests to WebSockets.
//
// CheckOrigin returns true to keep local use frictionless. Acceptable for a
// local single-user app; restrict if the server is ever exposed beyond
// localhost.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWSLive streams periodic weight updates while a link is connected.
func (s *Server) handleWSLive(w http.ResponseWriter, r *http.Request) {
	s.handleWSHub(w, r, s.wsLive)
}

// handleWSFlash streams firmware transfer progress events.
func (s *Server) handleWSFlash(w http.ResponseWriter, r *http.Request) {
	s.handleWSHub(w, r, s.wsFlash)
}

// handleWSHub is the shared "upgrade + register + read-loop" for all hubs.
// Incoming messages are ignored; the read loop exists to detect client
// disconnects and trigger cleanup.
func (s *Server) handleWSHub(w http.ResponseWriter, r *http.Request, hub *WSHub) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := hub.Add(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			hub.Remove(client)
			return
		}
	}
}
