package server

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/CK6170/suspscale-go/calib"
	"github.com/CK6170/suspscale-go/canbus"
	"github.com/CK6170/suspscale-go/file"
	"github.com/CK6170/suspscale-go/models"
	"github.com/CK6170/suspscale-go/pipeline"
	"github.com/CK6170/suspscale-go/scale"
)

// liveInterval is how often the live hub receives a weight update while at
// least one client is connected.
const liveInterval = 100 * time.Millisecond

type Server struct {
	mux *http.ServeMux

	session *scale.Session

	// One active firmware flash at a time.
	opMu     sync.Mutex
	opCancel context.CancelFunc

	// live broadcaster lifecycle, tied to connect/disconnect
	liveStop chan struct{}
	liveDone chan struct{}

	// WebSocket hubs
	wsLive  *WSHub
	wsFlash *WSHub
}

func New(webDir string, session *scale.Session) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		session: session,
		wsLive:  NewWSHub(),
		wsFlash: NewWSHub(),
	}

	// API
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/ports", s.handlePorts)
	s.mux.HandleFunc("/api/connect", s.handleConnect)
	s.mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/source", s.handleSource)
	s.mux.HandleFunc("/api/filter", s.handleFilter)

	s.mux.HandleFunc("/api/calibration/point", s.handleCalPoint)
	s.mux.HandleFunc("/api/calibration/points", s.handleCalPoints)
	s.mux.HandleFunc("/api/calibration/removeLast", s.handleCalRemoveLast)
	s.mux.HandleFunc("/api/calibration/clear", s.handleCalClear)
	s.mux.HandleFunc("/api/calibration/fit", s.handleCalFit)
	s.mux.HandleFunc("/api/calibration/model", s.handleCalModel)
	s.mux.HandleFunc("/api/calibration/save", s.handleCalSave)
	s.mux.HandleFunc("/api/calibration/load", s.handleCalLoad)

	s.mux.HandleFunc("/api/export", s.handleExport)

	s.mux.HandleFunc("/api/tare/set", s.handleTareSet)
	s.mux.HandleFunc("/api/tare/clear", s.handleTareClear)
	s.mux.HandleFunc("/api/tare", s.handleTareGet)

	s.mux.HandleFunc("/api/flash/start", s.handleFlashStart)
	s.mux.HandleFunc("/api/flash/stop", s.handleFlashStop)

	// WS
	s.mux.HandleFunc("/ws/live", s.handleWSLive)
	s.mux.HandleFunc("/ws/flash", s.handleWSFlash)

	// Static frontend
	if webDir != "" {
		fs := http.FileServer(http.Dir(webDir))
		s.mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Avoid stale UI/assets after updates.
			if r.URL != nil {
				p := r.URL.Path
				if p == "/" ||
					strings.HasPrefix(p, "/assets/") ||
					strings.HasSuffix(p, ".html") ||
					strings.HasSuffix(p, ".js") ||
					strings.HasSuffix(p, ".css") {
					w.Header().Set("Cache-Control", "no-store")
				}
			}
			fs.ServeHTTP(w, r)
		}))
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, map[string]interface{}{"ok": true, "timestamp": time.Now()})
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, map[string]interface{}{"ports": canbus.ListPorts()})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req connectRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	var cfg canbus.TransportConfig
	if req.Bridge != "" {
		network := req.Network
		if network == "" {
			network = "tcp"
		}
		cfg = canbus.Bridge{Network: network, Address: req.Bridge}
	} else {
		baud := req.Baud
		if baud == 0 {
			baud = 115200
		}
		cfg = canbus.SerialPort{Name: req.Port, Baud: baud, Legacy: req.Legacy}
	}
	if err := s.session.Connect(cfg); err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.startLiveBroadcast()
	s.writeJSON(w, 200, map[string]interface{}{"connected": true})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.stopFlash()
	s.stopLiveBroadcast()
	s.session.Disconnect()
	s.writeJSON(w, 200, map[string]interface{}{"connected": false})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	resp := statusResponse{
		Connected: s.session.Connected(),
		Dropped:   s.session.Pipeline.Dropped(),
		Left:      s.session.Pipeline.Latest(models.LEFT),
		Right:     s.session.Pipeline.Latest(models.RIGHT),
	}
	s.writeJSON(w, 200, resp)
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req sourceRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	side, err := models.ParseSide(req.Side)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	source, err := models.ParseSource(req.Source)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	s.session.SetSource(side, source)
	s.writeJSON(w, 200, map[string]interface{}{"side": side.String(), "source": source.String()})
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req filterRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	kind, err := models.ParseFilterKind(req.Kind)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	cfg := pipeline.FilterConfig{Kind: kind, Alpha: req.Alpha, Window: req.Window}
	s.session.Pipeline.SetFilter(cfg)
	s.writeJSON(w, 200, map[string]interface{}{"kind": kind.String()})
}

func (s *Server) parseChannel(side, source string) (calib.Channel, error) {
	sd, err := models.ParseSide(side)
	if err != nil {
		return calib.Channel{}, err
	}
	src := models.INTERNAL
	if source != "" {
		src, err = models.ParseSource(source)
		if err != nil {
			return calib.Channel{}, err
		}
	}
	return calib.Channel{Side: sd, Source: src}, nil
}

func (s *Server) handleCalPoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req pointRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if math.IsNaN(req.Weight) || math.IsInf(req.Weight, 0) || req.Weight < 0 {
		s.writeJSON(w, 400, APIError{Error: "weight must be a non-negative finite number"})
		return
	}
	ch, err := s.parseChannel(req.Side, req.Source)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	pt, err := s.session.CapturePoint(ch, req.Weight)
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, pt)
}

func (s *Server) handleCalPoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	ch, err := s.parseChannel(q.Get("side"), q.Get("source"))
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, pointsResponse{Points: s.session.Points(ch)})
}

func (s *Server) handleCalRemoveLast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req channelRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	ch, err := s.parseChannel(req.Side, req.Source)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if err := s.session.RemoveLastPoint(ch); err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, pointsResponse{Points: s.session.Points(ch)})
}

func (s *Server) handleCalClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req channelRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	ch, err := s.parseChannel(req.Side, req.Source)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if err := s.session.ClearPoints(ch); err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, map[string]interface{}{"cleared": true})
}

func (s *Server) handleCalFit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req fitRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	ch, err := s.parseChannel(req.Side, req.Source)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	mode := calib.Regression
	if req.Mode != "" {
		mode, err = calib.ParseMode(req.Mode)
		if err != nil {
			s.writeJSON(w, 400, APIError{Error: err.Error()})
			return
		}
	}
	model, err := s.session.Fit(ch, mode)
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, model)
}

func (s *Server) handleCalModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	ch, err := s.parseChannel(q.Get("side"), q.Get("source"))
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	model := s.session.Model(ch)
	if model == nil {
		s.writeJSON(w, 404, APIError{Error: "no model for channel"})
		return
	}
	s.writeJSON(w, 200, model)
}

func (s *Server) handleCalSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req stateRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if req.Path == "" {
		s.writeJSON(w, 400, APIError{Error: "missing path"})
		return
	}
	if err := file.SaveCalibration(req.Path, s.session.Models()); err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, map[string]interface{}{"saved": true})
}

func (s *Server) handleCalLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req stateRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	mods, err := file.LoadCalibration(req.Path)
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	for _, m := range mods {
		s.session.SetModel(m)
	}
	s.writeJSON(w, 200, map[string]interface{}{"loaded": len(mods)})
}

// handleExport serves the full persisted state (fitted models + tare
// record) as one downloadable JSON document.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="suspscale-state.json"`)
	s.writeJSON(w, 200, map[string]interface{}{
		"models": s.session.Models(),
		"tares":  s.session.Tares.Snapshot(),
	})
}

func (s *Server) handleTareSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req channelRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	side, err := models.ParseSide(req.Side)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if err := s.session.TareFromLive(side); err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, s.session.Tares.Snapshot())
}

func (s *Server) handleTareClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req channelRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	ch, err := s.parseChannel(req.Side, req.Source)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	s.session.ClearTare(ch.Side, ch.Source)
	s.writeJSON(w, 200, map[string]interface{}{"cleared": true})
}

func (s *Server) handleTareGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, s.session.Tares.Snapshot())
}

// startLiveBroadcast begins the periodic weight push to /ws/live clients.
// Safe to call when already running.
func (s *Server) startLiveBroadcast() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.liveStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.liveStop = stop
	s.liveDone = done
	go func() {
		defer close(done)
		t := time.NewTicker(liveInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if s.wsLive.Count() == 0 {
					continue
				}
				s.wsLive.Broadcast(WSMessage{Type: "weight", Data: weightUpdate{
					Left:    s.session.Pipeline.Latest(models.LEFT),
					Right:   s.session.Pipeline.Latest(models.RIGHT),
					Dropped: s.session.Pipeline.Dropped(),
				}})
			}
		}
	}()
}

func (s *Server) stopLiveBroadcast() {
	s.opMu.Lock()
	stop, done := s.liveStop, s.liveDone
	s.liveStop, s.liveDone = nil, nil
	s.opMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
