package server

import (
	"context"
	"net/http"
)

// handleFlashStart launches a firmware transfer in the background. Progress
// and completion are reported over /ws/flash; only one transfer may run at
// a time.
func (s *Server) handleFlashStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req firmwareRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if req.Path == "" {
		s.writeJSON(w, 400, APIError{Error: "missing path"})
		return
	}
	if !s.session.Connected() {
		s.writeJSON(w, 409, APIError{Error: "not connected"})
		return
	}

	s.opMu.Lock()
	if s.opCancel != nil {
		s.opMu.Unlock()
		s.writeJSON(w, 409, APIError{Error: "a flash operation is already running"})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.opCancel = cancel
	s.opMu.Unlock()

	go func() {
		defer func() {
			s.opMu.Lock()
			s.opCancel = nil
			s.opMu.Unlock()
			cancel()
		}()
		err := s.session.FlashFirmware(ctx, req.Path, func(chunksSent, totalChunks int) {
			pct := 0.0
			if totalChunks > 0 {
				pct = float64(chunksSent) / float64(totalChunks) * 100
			}
			s.wsFlash.Broadcast(WSMessage{Type: "progress", Data: flashProgress{
				ChunksSent:  chunksSent,
				TotalChunks: totalChunks,
				Percent:     pct,
			}})
		})
		if err != nil {
			s.wsFlash.Broadcast(WSMessage{Type: "error", Data: map[string]interface{}{"error": err.Error()}})
			return
		}
		s.wsFlash.Broadcast(WSMessage{Type: "done"})
	}()

	s.writeJSON(w, 200, map[string]interface{}{"started": true})
}

func (s *Server) handleFlashStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.stopFlash()
	s.writeJSON(w, 200, map[string]interface{}{"stopped": true})
}

// stopFlash cancels any in-flight firmware transfer. Safe to call when
// nothing is running.
func (s *Server) stopFlash() {
	s.opMu.Lock()
	cancel := s.opCancel
	s.opMu.Unlock()
	if cancel != nil {
		cancel()
	}
}
