package scale

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/CK6170/suspscale-go/calib"
	"github.com/CK6170/suspscale-go/canbus"
	"github.com/CK6170/suspscale-go/models"
	"github.com/CK6170/suspscale-go/pipeline"
)

// fakeWire is an in-memory transport: frames injected by the test are read
// by the link's receive loop, frames the session sends accumulate in sent.
type fakeWire struct {
	mu     sync.Mutex
	in     bytes.Buffer
	sent   bytes.Buffer
	closed bool
}

func (w *fakeWire) Read(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.EOF
	}
	if w.in.Len() == 0 {
		return 0, nil
	}
	return w.in.Read(p)
}

func (w *fakeWire) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.sent.Write(p)
}

func (w *fakeWire) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWire) InjectFrame(t *testing.T, id uint16, payload []byte) {
	t.Helper()
	raw, err := canbus.EncodeFrame(id, payload)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	w.mu.Lock()
	w.in.Write(raw)
	w.mu.Unlock()
}

func connectedSession(t *testing.T) (*Session, *fakeWire) {
	t.Helper()
	wire := &fakeWire{}
	s := New(pipeline.DefaultFilterConfig)
	if err := s.Connect(canbus.Loopback{RW: wire, Name: "test"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(s.Disconnect)
	return s, wire
}

func waitLatest(t *testing.T, s *Session, side models.Side, ok func(*pipeline.ProcessedSample) bool) *pipeline.ProcessedSample {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l := s.Pipeline.Latest(side); l != nil && ok(l) {
			return l
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for processed sample")
	return nil
}

func weightPayload(raw uint16) []byte {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, raw)
	return p
}

func TestSessionRoutesWeights(t *testing.T) {
	s, wire := connectedSession(t)

	wire.InjectFrame(t, canbus.IDWeightLeft, weightPayload(0x123))
	wire.InjectFrame(t, canbus.IDWeightRight, weightPayload(0x456))

	l := waitLatest(t, s, models.LEFT, func(p *pipeline.ProcessedSample) bool { return p.Raw == 0x123 })
	r := waitLatest(t, s, models.RIGHT, func(p *pipeline.ProcessedSample) bool { return p.Raw == 0x456 })
	if l.Side != models.LEFT || r.Side != models.RIGHT {
		t.Fatalf("sides = %s/%s", l.Side, r.Side)
	}
}

func TestSessionInternalSourceMasksTo12Bits(t *testing.T) {
	s, wire := connectedSession(t)

	// Upper nibble is converter status on the internal source; only the low
	// 12 bits are sample data.
	wire.InjectFrame(t, canbus.IDWeightLeft, weightPayload(0xF123))
	l := waitLatest(t, s, models.LEFT, func(p *pipeline.ProcessedSample) bool { return p.Raw != 0 })
	if l.Raw != 0x123 {
		t.Fatalf("raw = 0x%X, want 0x123", l.Raw)
	}
}

func TestSessionExternalSourceIsSigned(t *testing.T) {
	s, wire := connectedSession(t)
	s.SetSource(models.LEFT, models.EXTERNAL)

	wire.InjectFrame(t, canbus.IDWeightLeft, weightPayload(0xFFFE)) // -2 as int16
	l := waitLatest(t, s, models.LEFT, func(p *pipeline.ProcessedSample) bool { return p.Raw != 0 })
	if l.Raw != -2 {
		t.Fatalf("raw = %d, want -2", l.Raw)
	}
}

func TestSessionCaptureAndFit(t *testing.T) {
	s, wire := connectedSession(t)
	ch := calib.Channel{Side: models.LEFT, Source: models.INTERNAL}

	wire.InjectFrame(t, canbus.IDWeightLeft, weightPayload(0))
	waitLatest(t, s, models.LEFT, func(p *pipeline.ProcessedSample) bool { return p.Raw == 0 })
	if _, err := s.CapturePoint(ch, 0); err != nil {
		t.Fatalf("CapturePoint: %v", err)
	}

	wire.InjectFrame(t, canbus.IDWeightLeft, weightPayload(1000))
	waitLatest(t, s, models.LEFT, func(p *pipeline.ProcessedSample) bool { return p.Raw == 1000 })
	if _, err := s.CapturePoint(ch, 100); err != nil {
		t.Fatalf("CapturePoint: %v", err)
	}

	if got := len(s.Points(ch)); got != 2 {
		t.Fatalf("points = %d, want 2", got)
	}

	m, err := s.Fit(ch, calib.Regression)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if m.Slope < 0.0999 || m.Slope > 0.1001 {
		t.Fatalf("slope = %v, want ~0.1", m.Slope)
	}
	if s.Model(ch) == nil {
		t.Fatal("model not installed in session")
	}
	if s.Pipeline.Model(models.LEFT) == nil {
		t.Fatal("model not swapped into pipeline for the active source")
	}

	// Subsequent samples come out calibrated.
	wire.InjectFrame(t, canbus.IDWeightLeft, weightPayload(500))
	l := waitLatest(t, s, models.LEFT, func(p *pipeline.ProcessedSample) bool { return p.Raw == 500 && p.HasModel })
	if l.Calibrated < 49.9 || l.Calibrated > 50.1 {
		t.Fatalf("calibrated = %v, want ~50", l.Calibrated)
	}
}

func TestSessionRemoveLastPoint(t *testing.T) {
	s, wire := connectedSession(t)
	ch := calib.Channel{Side: models.LEFT, Source: models.INTERNAL}

	if err := s.RemoveLastPoint(ch); err == nil {
		t.Fatal("remove from an empty point set should fail")
	}

	wire.InjectFrame(t, canbus.IDWeightLeft, weightPayload(100))
	waitLatest(t, s, models.LEFT, func(p *pipeline.ProcessedSample) bool { return p.Raw == 100 })
	if _, err := s.CapturePoint(ch, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CapturePoint(ch, 20); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveLastPoint(ch); err != nil {
		t.Fatalf("RemoveLastPoint: %v", err)
	}
	pts := s.Points(ch)
	if len(pts) != 1 || pts[0].Weight != 10 {
		t.Fatalf("points = %+v, want the first capture only", pts)
	}
}

func TestSessionCapturePointWithoutSample(t *testing.T) {
	s, _ := connectedSession(t)
	ch := calib.Channel{Side: models.RIGHT, Source: models.INTERNAL}
	if _, err := s.CapturePoint(ch, 10); err == nil {
		t.Fatal("capture with no live sample should fail")
	}
}

func TestSessionTareRequiresModel(t *testing.T) {
	s, wire := connectedSession(t)
	wire.InjectFrame(t, canbus.IDWeightLeft, weightPayload(10))
	waitLatest(t, s, models.LEFT, func(p *pipeline.ProcessedSample) bool { return p.Raw == 10 })
	if err := s.TareFromLive(models.LEFT); err == nil {
		t.Fatal("tare without a calibration model should fail")
	}
}

func TestSessionRecordsDeviceResponses(t *testing.T) {
	s, wire := connectedSession(t)
	ch := calib.Channel{Side: models.LEFT, Source: models.INTERNAL}

	wire.InjectFrame(t, canbus.IDCalibResult, []byte{byte(ch.Side), byte(ch.Source), 1})
	quality := make([]byte, 4)
	quality[0] = byte(ch.Side)
	quality[1] = byte(ch.Source)
	binary.LittleEndian.PutUint16(quality[2:], 9950) // R2 x 100
	wire.InjectFrame(t, canbus.IDCalibQuality, quality)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.LastQuality(ch); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	res, ok := s.LastResult(ch)
	if !ok || !res.OK {
		t.Fatalf("result = (%+v, %v), want OK ack", res, ok)
	}
	q, ok := s.LastQuality(ch)
	if !ok || q.R2Percent != 99.5 {
		t.Fatalf("quality = (%+v, %v), want 99.5", q, ok)
	}
}

func TestSessionConnectTwiceAndDisconnectIdempotent(t *testing.T) {
	s, _ := connectedSession(t)
	if err := s.Connect(canbus.Loopback{RW: &fakeWire{}}); err == nil {
		t.Fatal("second Connect should fail")
	}
	s.Disconnect()
	s.Disconnect() // no-op
	if s.Connected() {
		t.Fatal("session still reports connected")
	}
}
