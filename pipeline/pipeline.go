// Package pipeline turns raw controller samples into calibrated, tared and
// smoothed weight values in real time.
//
// A bounded queue decouples the link's receive loop from a single dedicated
// worker. The worker applies the current calibration model, the tare offset
// and the configured smoothing filter, then publishes the latest processed
// sample per side by an atomic pointer swap so readers never block and never
// observe a torn value.
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/CK6170/suspscale-go/calib"
	"github.com/CK6170/suspscale-go/models"
	"github.com/CK6170/suspscale-go/tare"
)

// DefaultQueueCapacity bounds the ingestion queue between the receive loop
// and the worker.
const DefaultQueueCapacity = 100

// RawSample is the hand-off unit from the link dispatch path.
type RawSample struct {
	Side      models.Side
	Raw       int32
	Timestamp time.Time
}

// ProcessedSample is the worker's output for one raw sample. Calibrated and
// Tared carry the filtered streams; both stay zero while no valid model is
// assigned (HasModel reports which case applies).
type ProcessedSample struct {
	Side       models.Side   `json:"side"`
	Source     models.Source `json:"source"`
	Raw        int32         `json:"raw"`
	Calibrated float64       `json:"calibrated"`
	Tared      float64       `json:"tared"`
	HasModel   bool          `json:"hasModel"`
	Timestamp  time.Time     `json:"timestamp"`
}

// sideFilters holds the worker-owned filter state for one side: the
// calibrated and tared streams are smoothed independently.
type sideFilters struct {
	cal   filter
	tared filter
}

// Pipeline is the bounded queue plus its worker. Construct with New, feed
// via Offer, read via Latest.
type Pipeline struct {
	queue   chan RawSample
	dropped atomic.Uint64

	tares *tare.Store

	// Per-side state. Models and sources may be swapped by callers at any
	// time; the worker reads the most recent assignment per sample.
	cmodels [2]atomic.Pointer[calib.Model]
	sources [2]atomic.Int32
	latest  [2]atomic.Pointer[ProcessedSample]

	filterCfg atomic.Pointer[FilterConfig]
	filterGen atomic.Uint64

	stop chan struct{}
	done chan struct{}
}

// New builds a pipeline over the given tare store. capacity <= 0 selects
// DefaultQueueCapacity. The worker is not running until Start.
func New(capacity int, tares *tare.Store, cfg FilterConfig) *Pipeline {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if tares == nil {
		tares = tare.NewStore()
	}
	p := &Pipeline{
		queue: make(chan RawSample, capacity),
		tares: tares,
	}
	p.filterCfg.Store(&cfg)
	return p
}

// Start launches the worker. Calling Start on a running pipeline is a
// no-op.
func (p *Pipeline) Start() {
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stop, p.done)
}

// Stop terminates the worker and waits for it to exit. Queued samples are
// discarded. Idempotent.
func (p *Pipeline) Stop() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
	p.stop = nil
	p.done = nil
}

// Offer enqueues a raw sample without ever blocking the caller. When the
// queue is full the sample is dropped and counted; the receive loop must
// never stall on a slow worker.
func (p *Pipeline) Offer(s RawSample) bool {
	select {
	case p.queue <- s:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Dropped returns the running count of samples discarded on overflow.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }

// QueueLen reports how many samples are waiting for the worker.
func (p *Pipeline) QueueLen() int { return len(p.queue) }

// Latest returns the most recent processed sample for a side, or nil before
// the first sample. The read is a single atomic load; no lock is taken.
func (p *Pipeline) Latest(side models.Side) *ProcessedSample {
	return p.latest[side].Load()
}

// SetModel assigns the calibration model used for a side. nil clears the
// assignment. Samples already queued are processed with whichever model is
// current when the worker reaches them.
func (p *Pipeline) SetModel(side models.Side, m *calib.Model) {
	p.cmodels[side].Store(m)
}

// Model returns the currently assigned model for a side, or nil.
func (p *Pipeline) Model(side models.Side) *calib.Model {
	return p.cmodels[side].Load()
}

// SetSource assigns which acquisition source a side's samples come from,
// selecting the matching tare slot.
func (p *Pipeline) SetSource(side models.Side, src models.Source) {
	p.sources[side].Store(int32(src))
}

// Source returns the acquisition source currently assigned to a side.
func (p *Pipeline) Source(side models.Side) models.Source {
	return models.Source(p.sources[side].Load())
}

// SetFilter swaps the smoothing filter configuration. The worker rebuilds
// its filter state (all sides, both streams) before the next sample.
func (p *Pipeline) SetFilter(cfg FilterConfig) {
	p.filterCfg.Store(&cfg)
	p.filterGen.Add(1)
}

// ResetFilters clears the filter state without changing the configuration.
// Used after a new calibration or tare so stale history does not bleed into
// fresh readings.
func (p *Pipeline) ResetFilters() {
	p.filterGen.Add(1)
}

// run is the dedicated worker loop: drain the queue, short idle sleep when
// empty.
func (p *Pipeline) run(stop, done chan struct{}) {
	defer close(done)

	gen := p.filterGen.Load()
	filters := p.buildFilters()

	for {
		select {
		case <-stop:
			return
		case s := <-p.queue:
			if g := p.filterGen.Load(); g != gen {
				gen = g
				filters = p.buildFilters()
			}
			p.process(s, &filters)
		default:
			select {
			case <-stop:
				return
			default:
			}
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func (p *Pipeline) buildFilters() [2]sideFilters {
	cfg := *p.filterCfg.Load()
	var out [2]sideFilters
	for i := range out {
		out[i] = sideFilters{cal: newFilter(cfg), tared: newFilter(cfg)}
	}
	return out
}

func (p *Pipeline) process(s RawSample, filters *[2]sideFilters) {
	side := s.Side
	src := models.Source(p.sources[side].Load())

	calibrated := 0.0
	hasModel := false
	if m := p.cmodels[side].Load(); m != nil && m.Valid {
		if w, err := m.Convert(s.Raw); err == nil {
			calibrated = w
			hasModel = true
		}
	}

	tared := calibrated
	if hasModel {
		tared = p.tares.Apply(side, src, calibrated)
	}

	f := &filters[side]
	out := &ProcessedSample{
		Side:       side,
		Source:     src,
		Raw:        s.Raw,
		Calibrated: f.cal.apply(calibrated),
		Tared:      f.tared.apply(tared),
		HasModel:   hasModel,
		Timestamp:  s.Timestamp,
	}
	p.latest[side].Store(out)
}
