package pipeline

import "github.com/CK6170/suspscale-go/models"

// FilterConfig selects and parameterizes the smoothing filter applied to
// the calibrated and tared weight streams.
type FilterConfig struct {
	Kind   models.FilterKind
	Alpha  float64 // EMA smoothing factor in (0, 1]
	Window int     // SMA window size
}

// DefaultFilterConfig is a passthrough (no smoothing).
var DefaultFilterConfig = FilterConfig{Kind: models.FilterNone}

// filter smooths one scalar stream. Implementations are owned by the
// pipeline worker and are not safe for concurrent use.
type filter interface {
	apply(v float64) float64
	reset()
}

func newFilter(cfg FilterConfig) filter {
	switch cfg.Kind {
	case models.FilterEMA:
		alpha := cfg.Alpha
		if alpha <= 0 || alpha > 1 {
			alpha = 0.2
		}
		return &emaFilter{alpha: alpha}
	case models.FilterSMA:
		window := cfg.Window
		if window < 1 {
			window = 8
		}
		return &smaFilter{window: window, values: make([]float64, 0, window)}
	default:
		return passFilter{}
	}
}

// passFilter returns inputs unchanged.
type passFilter struct{}

func (passFilter) apply(v float64) float64 { return v }
func (passFilter) reset()                  {}

// emaFilter is an exponential moving average. The very first sample after a
// reset seeds the state unmodified.
type emaFilter struct {
	alpha  float64
	seeded bool
	state  float64
}

func (f *emaFilter) apply(v float64) float64 {
	if !f.seeded {
		f.seeded = true
		f.state = v
		return v
	}
	f.state = f.alpha*v + (1-f.alpha)*f.state
	return f.state
}

func (f *emaFilter) reset() {
	f.seeded = false
	f.state = 0
}

// smaFilter is a simple moving average over the last N values; the oldest
// value is dropped once the window is full.
type smaFilter struct {
	window int
	values []float64
}

func (f *smaFilter) apply(v float64) float64 {
	if len(f.values) == f.window {
		copy(f.values, f.values[1:])
		f.values = f.values[:f.window-1]
	}
	f.values = append(f.values, v)
	sum := 0.0
	for _, x := range f.values {
		sum += x
	}
	return sum / float64(len(f.values))
}

func (f *smaFilter) reset() {
	f.values = f.values[:0]
}
