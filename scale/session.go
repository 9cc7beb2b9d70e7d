// Package scale wires the link, weight pipeline, calibration engine and
// tare store into one explicit device session.
//
// A Session replaces any notion of a process-wide device singleton: the web
// server, the terminal monitor and tests each construct their own, so
// multiple independent sessions can coexist and be torn down cleanly.
package scale

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/CK6170/suspscale-go/calib"
	"github.com/CK6170/suspscale-go/canbus"
	"github.com/CK6170/suspscale-go/firmware"
	"github.com/CK6170/suspscale-go/models"
	"github.com/CK6170/suspscale-go/pipeline"
	"github.com/CK6170/suspscale-go/tare"
)

// DeviceQuality is the controller's own view of a calibration, reported on
// the calibration-quality response id.
type DeviceQuality struct {
	Channel    calib.Channel
	R2Percent  float64
	ReceivedAt time.Time
}

// DeviceResult is the controller's acknowledgement of a calibration
// command, reported on the calibration-result response id.
type DeviceResult struct {
	Channel    calib.Channel
	OK         bool
	ReceivedAt time.Time
}

// Session owns one controller connection and all per-device state.
type Session struct {
	Link     *canbus.Link
	Pipeline *pipeline.Pipeline
	Tares    *tare.Store

	mu        sync.Mutex
	points    map[calib.Channel][]calib.Point
	cmodels   map[calib.Channel]*calib.Model
	lastRes   map[calib.Channel]DeviceResult
	lastQual  map[calib.Channel]DeviceQuality
	sub       *canbus.Subscription
	connected bool
}

// New constructs a disconnected session with the given filter configuration.
func New(filterCfg pipeline.FilterConfig) *Session {
	tares := tare.NewStore()
	return &Session{
		Link:     canbus.NewLink(0),
		Pipeline: pipeline.New(0, tares, filterCfg),
		Tares:    tares,
		points:   make(map[calib.Channel][]calib.Point),
		cmodels:  make(map[calib.Channel]*calib.Model),
		lastRes:  make(map[calib.Channel]DeviceResult),
		lastQual: make(map[calib.Channel]DeviceQuality),
	}
}

// Connect opens the transport, starts the pipeline worker and begins
// routing weight broadcasts into it.
func (s *Session) Connect(cfg canbus.TransportConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return fmt.Errorf("session already connected")
	}
	if err := s.Link.Connect(cfg); err != nil {
		return err
	}
	s.Pipeline.Start()
	s.sub = s.Link.Subscribe(256)
	go s.route(s.sub)
	s.connected = true
	return nil
}

// Disconnect tears the connection down. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()
	if !wasConnected {
		return
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	s.Link.Disconnect()
	s.Pipeline.Stop()
}

// Connected reports whether the session holds an open link.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// route feeds decoded traffic into the pipeline and records calibration
// responses. It exits when the subscription is closed.
func (s *Session) route(sub *canbus.Subscription) {
	for msg := range sub.Messages {
		if msg.Direction == canbus.Outbound {
			continue
		}
		switch msg.ID {
		case canbus.IDWeightLeft:
			s.offerSample(models.LEFT, msg)
		case canbus.IDWeightRight:
			s.offerSample(models.RIGHT, msg)
		case canbus.IDCalibResult:
			s.recordResult(msg)
		case canbus.IDCalibQuality:
			s.recordQuality(msg)
		case canbus.IDBootStatus:
			if len(msg.Data) > 0 {
				log.Printf("scale: bootloader status 0x%02X", msg.Data[0])
			}
		}
	}
}

func (s *Session) offerSample(side models.Side, msg canbus.Message) {
	if len(msg.Data) < 2 {
		return
	}
	raw := decodeRaw(s.Pipeline.Source(side), msg.Data)
	s.Pipeline.Offer(pipeline.RawSample{Side: side, Raw: raw, Timestamp: msg.Timestamp})
}

// decodeRaw interprets the first two payload bytes per the assigned
// acquisition source: the internal converter is unsigned 12-bit, the
// external one signed 16-bit.
func decodeRaw(src models.Source, data []byte) int32 {
	v := binary.LittleEndian.Uint16(data[:2])
	if src == models.INTERNAL {
		return int32(v & 0x0FFF)
	}
	return int32(int16(v))
}

func (s *Session) recordResult(msg canbus.Message) {
	if len(msg.Data) < 3 {
		return
	}
	ch := calib.Channel{Side: models.Side(msg.Data[0]), Source: models.Source(msg.Data[1])}
	s.mu.Lock()
	s.lastRes[ch] = DeviceResult{Channel: ch, OK: msg.Data[2] != 0, ReceivedAt: msg.Timestamp}
	s.mu.Unlock()
}

func (s *Session) recordQuality(msg canbus.Message) {
	if len(msg.Data) < 4 {
		return
	}
	ch := calib.Channel{Side: models.Side(msg.Data[0]), Source: models.Source(msg.Data[1])}
	// Quality arrives as R2 x 100 in a LE16.
	q := float64(binary.LittleEndian.Uint16(msg.Data[2:4])) / 100
	s.mu.Lock()
	s.lastQual[ch] = DeviceQuality{Channel: ch, R2Percent: q, ReceivedAt: msg.Timestamp}
	s.mu.Unlock()
}

// CapturePoint records a calibration point for a channel from the live raw
// value and forwards it to the controller on the point-set command id.
func (s *Session) CapturePoint(ch calib.Channel, knownWeight float64) (calib.Point, error) {
	latest := s.Pipeline.Latest(ch.Side)
	if latest == nil {
		return calib.Point{}, fmt.Errorf("no live sample for %s yet", ch.Side)
	}
	p := calib.Point{Raw: latest.Raw, Weight: knownWeight, Timestamp: time.Now()}

	s.mu.Lock()
	s.points[ch] = append(s.points[ch], p)
	s.mu.Unlock()

	payload := make([]byte, 6)
	payload[0] = byte(ch.Side)
	payload[1] = byte(ch.Source)
	binary.LittleEndian.PutUint32(payload[2:], math.Float32bits(float32(knownWeight)))
	if err := s.Link.SendMessage(canbus.IDCalibSetPoint, payload); err != nil {
		return p, fmt.Errorf("forward calibration point: %w", err)
	}
	return p, nil
}

// Points returns a copy of the captured points for a channel.
func (s *Session) Points(ch calib.Channel) []calib.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]calib.Point, len(s.points[ch]))
	copy(out, s.points[ch])
	return out
}

// ClearPoints drops the captured points for a channel and tells the
// controller to do the same.
func (s *Session) ClearPoints(ch calib.Channel) error {
	s.mu.Lock()
	delete(s.points, ch)
	s.mu.Unlock()
	return s.Link.SendMessage(canbus.IDCalibManagePoints, []byte{canbus.PointsClear, byte(ch.Side), byte(ch.Source)})
}

// RemoveLastPoint drops the most recently captured point for a channel,
// mirroring the removal to the controller. Removing from an empty set is an
// error.
func (s *Session) RemoveLastPoint(ch calib.Channel) error {
	s.mu.Lock()
	pts := s.points[ch]
	if len(pts) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no points captured for %s", ch)
	}
	s.points[ch] = pts[:len(pts)-1]
	s.mu.Unlock()
	return s.Link.SendMessage(canbus.IDCalibManagePoints, []byte{canbus.PointsRemoveLast, byte(ch.Side), byte(ch.Source)})
}

// Fit runs the calibration engine over the captured points, installs the
// new model (swapping it into the pipeline when the channel is the side's
// active one) and notifies the controller that calibration is complete.
func (s *Session) Fit(ch calib.Channel, mode calib.Mode) (*calib.Model, error) {
	s.mu.Lock()
	pts := make([]calib.Point, len(s.points[ch]))
	copy(pts, s.points[ch])
	s.mu.Unlock()

	m, err := calib.Fit(ch, mode, pts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cmodels[ch] = m
	s.mu.Unlock()

	if s.Pipeline.Source(ch.Side) == ch.Source {
		s.Pipeline.SetModel(ch.Side, m)
		s.Pipeline.ResetFilters()
	}

	if err := s.Link.SendMessage(canbus.IDCalibComplete, []byte{byte(ch.Side), byte(ch.Source)}); err != nil {
		return m, fmt.Errorf("notify calibration complete: %w", err)
	}
	return m, nil
}

// SetModel installs an externally loaded model (e.g. from persisted state).
func (s *Session) SetModel(m *calib.Model) {
	if m == nil {
		return
	}
	s.mu.Lock()
	s.cmodels[m.Channel] = m
	s.mu.Unlock()
	if s.Pipeline.Source(m.Channel.Side) == m.Channel.Source {
		s.Pipeline.SetModel(m.Channel.Side, m)
		s.Pipeline.ResetFilters()
	}
}

// Model returns the fitted model for a channel, or nil.
func (s *Session) Model(ch calib.Channel) *calib.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmodels[ch]
}

// Models returns all fitted models.
func (s *Session) Models() []*calib.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*calib.Model, 0, len(s.cmodels))
	for _, m := range s.cmodels {
		out = append(out, m)
	}
	return out
}

// LastQuality returns the controller's most recent quality report for a
// channel.
func (s *Session) LastQuality(ch calib.Channel) (DeviceQuality, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.lastQual[ch]
	return q, ok
}

// LastResult returns the controller's most recent calibration ack for a
// channel.
func (s *Session) LastResult(ch calib.Channel) (DeviceResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lastRes[ch]
	return r, ok
}

// SetSource reassigns which acquisition source a side samples from, and
// swaps in that channel's model when one exists.
func (s *Session) SetSource(side models.Side, src models.Source) {
	s.Pipeline.SetSource(side, src)
	s.mu.Lock()
	m := s.cmodels[calib.Channel{Side: side, Source: src}]
	s.mu.Unlock()
	s.Pipeline.SetModel(side, m)
	s.Pipeline.ResetFilters()
}

// TareFromLive captures a tare offset for a side from the current
// calibrated reading. The reading must be strictly negative (platform
// empty after calibration); the pipeline's filter state is reset so the
// offset takes effect cleanly.
func (s *Session) TareFromLive(side models.Side) error {
	latest := s.Pipeline.Latest(side)
	if latest == nil || !latest.HasModel {
		return fmt.Errorf("no calibrated reading for %s", side)
	}
	if err := s.Tares.SetOffset(side, latest.Source, latest.Calibrated); err != nil {
		return err
	}
	s.Pipeline.ResetFilters()
	return nil
}

// ClearTare resets one tare slot and the filter state.
func (s *Session) ClearTare(side models.Side, src models.Source) {
	s.Tares.ClearOffset(side, src)
	s.Pipeline.ResetFilters()
}

// FlashFirmware streams a firmware image file to the bootloader over this
// session's link.
func (s *Session) FlashFirmware(ctx context.Context, path string, progress firmware.ProgressFunc) error {
	if !s.Connected() {
		return fmt.Errorf("not connected")
	}
	opts := []firmware.Option{}
	if progress != nil {
		opts = append(opts, firmware.WithProgress(progress))
	}
	return firmware.Flash(ctx, s.Link, path, opts...)
}
