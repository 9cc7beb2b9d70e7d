package pipeline

import (
	"testing"
	"time"

	"github.com/CK6170/suspscale-go/calib"
	"github.com/CK6170/suspscale-go/models"
	"github.com/CK6170/suspscale-go/tare"
)

func identityModel(t *testing.T, slope float64) *calib.Model {
	t.Helper()
	m, err := calib.Fit(
		calib.Channel{Side: models.LEFT, Source: models.INTERNAL},
		calib.Regression,
		[]calib.Point{{Raw: 0, Weight: 0}, {Raw: 1000, Weight: slope * 1000}},
	)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	return m
}

// waitLatest polls until the worker has published a sample matching ok, or
// fails the test after a generous deadline.
func waitLatest(t *testing.T, p *Pipeline, side models.Side, ok func(*ProcessedSample) bool) *ProcessedSample {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := p.Latest(side); s != nil && ok(s) {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for processed sample")
	return nil
}

func TestOverflowDropsNewest(t *testing.T) {
	// No worker running: every Offer past capacity must drop, not block.
	p := New(100, nil, DefaultFilterConfig)

	accepted := 0
	for i := 0; i < 150; i++ {
		if p.Offer(RawSample{Side: models.LEFT, Raw: int32(i), Timestamp: time.Now()}) {
			accepted++
		}
	}
	if accepted != 100 {
		t.Errorf("accepted = %d, want 100", accepted)
	}
	if got := p.Dropped(); got != 50 {
		t.Errorf("Dropped() = %d, want 50", got)
	}
	if got := p.QueueLen(); got != 100 {
		t.Errorf("QueueLen() = %d, want 100", got)
	}
}

func TestProcessWithoutModel(t *testing.T) {
	p := New(0, nil, DefaultFilterConfig)
	p.Start()
	defer p.Stop()

	p.Offer(RawSample{Side: models.LEFT, Raw: 500, Timestamp: time.Now()})
	s := waitLatest(t, p, models.LEFT, func(s *ProcessedSample) bool { return s.Raw == 500 })
	if s.HasModel {
		t.Error("HasModel = true with no model assigned")
	}
	if s.Calibrated != 0 || s.Tared != 0 {
		t.Errorf("calibrated=%v tared=%v, want zeros without a model", s.Calibrated, s.Tared)
	}
}

func TestProcessCalibratedAndTared(t *testing.T) {
	tares := tare.NewStore()
	if err := tares.SetOffset(models.LEFT, models.INTERNAL, -2); err != nil {
		t.Fatal(err)
	}
	p := New(0, tares, DefaultFilterConfig)
	p.SetModel(models.LEFT, identityModel(t, 0.1))
	p.Start()
	defer p.Stop()

	p.Offer(RawSample{Side: models.LEFT, Raw: 500, Timestamp: time.Now()})
	s := waitLatest(t, p, models.LEFT, func(s *ProcessedSample) bool { return s.Raw == 500 })
	if !s.HasModel {
		t.Fatal("HasModel = false")
	}
	if s.Calibrated != 50 {
		t.Errorf("Calibrated = %v, want 50", s.Calibrated)
	}
	if s.Tared != 52 {
		t.Errorf("Tared = %v, want 52 (offset 2 applied)", s.Tared)
	}
}

func TestSidesIndependent(t *testing.T) {
	p := New(0, nil, DefaultFilterConfig)
	p.SetModel(models.LEFT, identityModel(t, 0.1))
	p.SetModel(models.RIGHT, identityModel(t, 1))
	p.Start()
	defer p.Stop()

	p.Offer(RawSample{Side: models.LEFT, Raw: 100, Timestamp: time.Now()})
	p.Offer(RawSample{Side: models.RIGHT, Raw: 100, Timestamp: time.Now()})

	l := waitLatest(t, p, models.LEFT, func(s *ProcessedSample) bool { return s.Raw == 100 })
	r := waitLatest(t, p, models.RIGHT, func(s *ProcessedSample) bool { return s.Raw == 100 })
	if l.Calibrated != 10 {
		t.Errorf("left calibrated = %v, want 10", l.Calibrated)
	}
	if r.Calibrated != 100 {
		t.Errorf("right calibrated = %v, want 100", r.Calibrated)
	}
}

func TestEMAFilterSeedsAndSmooths(t *testing.T) {
	cfg := FilterConfig{Kind: models.FilterEMA, Alpha: 0.5}
	p := New(0, nil, cfg)
	p.SetModel(models.LEFT, identityModel(t, 1))
	p.Start()
	defer p.Stop()

	// First sample seeds the filter: output equals input.
	p.Offer(RawSample{Side: models.LEFT, Raw: 100, Timestamp: time.Now()})
	s := waitLatest(t, p, models.LEFT, func(s *ProcessedSample) bool { return s.Raw == 100 })
	if s.Calibrated != 100 {
		t.Fatalf("seed output = %v, want 100", s.Calibrated)
	}

	// Second sample: 0.5*200 + 0.5*100 = 150.
	p.Offer(RawSample{Side: models.LEFT, Raw: 200, Timestamp: time.Now()})
	s = waitLatest(t, p, models.LEFT, func(s *ProcessedSample) bool { return s.Raw == 200 })
	if s.Calibrated != 150 {
		t.Fatalf("smoothed output = %v, want 150", s.Calibrated)
	}
}

func TestSMAFilterWindow(t *testing.T) {
	cfg := FilterConfig{Kind: models.FilterSMA, Window: 2}
	p := New(0, nil, cfg)
	p.SetModel(models.LEFT, identityModel(t, 1))
	p.Start()
	defer p.Stop()

	inputs := []int32{100, 200, 400}
	wants := []float64{100, 150, 300} // mean over a window of 2
	for i, raw := range inputs {
		p.Offer(RawSample{Side: models.LEFT, Raw: raw, Timestamp: time.Now()})
		s := waitLatest(t, p, models.LEFT, func(s *ProcessedSample) bool { return s.Raw == raw })
		if s.Calibrated != wants[i] {
			t.Fatalf("sample %d: output = %v, want %v", i, s.Calibrated, wants[i])
		}
	}
}

func TestResetFiltersClearsHistory(t *testing.T) {
	cfg := FilterConfig{Kind: models.FilterEMA, Alpha: 0.5}
	p := New(0, nil, cfg)
	p.SetModel(models.LEFT, identityModel(t, 1))
	p.Start()
	defer p.Stop()

	p.Offer(RawSample{Side: models.LEFT, Raw: 100, Timestamp: time.Now()})
	waitLatest(t, p, models.LEFT, func(s *ProcessedSample) bool { return s.Raw == 100 })

	p.ResetFilters()

	// Post-reset the next sample seeds fresh: no bleed from the 100.
	p.Offer(RawSample{Side: models.LEFT, Raw: 300, Timestamp: time.Now()})
	s := waitLatest(t, p, models.LEFT, func(s *ProcessedSample) bool { return s.Raw == 300 })
	if s.Calibrated != 300 {
		t.Fatalf("post-reset output = %v, want 300", s.Calibrated)
	}
}

func TestModelSwapMidStream(t *testing.T) {
	p := New(0, nil, DefaultFilterConfig)
	p.SetModel(models.LEFT, identityModel(t, 0.1))
	p.Start()
	defer p.Stop()

	p.Offer(RawSample{Side: models.LEFT, Raw: 100, Timestamp: time.Now()})
	s := waitLatest(t, p, models.LEFT, func(s *ProcessedSample) bool { return s.Raw == 100 })
	if s.Calibrated != 10 {
		t.Fatalf("calibrated = %v, want 10", s.Calibrated)
	}

	p.SetModel(models.LEFT, identityModel(t, 1))
	p.Offer(RawSample{Side: models.LEFT, Raw: 100, Timestamp: time.Now()})
	s = waitLatest(t, p, models.LEFT, func(s *ProcessedSample) bool { return s.Calibrated == 100 })
	if !s.HasModel {
		t.Fatal("HasModel = false after swap")
	}
}

func TestStopIdempotent(t *testing.T) {
	p := New(0, nil, DefaultFilterConfig)
	p.Start()
	p.Stop()
	p.Stop() // must not panic or block
	p.Start()
	p.Stop()
}
