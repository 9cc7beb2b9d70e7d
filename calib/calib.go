// Package calib fits calibration point sets to a conversion model and turns
// raw ADC samples into weights.
//
// Two interchangeable strategies are supported: a single global regression
// line (ordinary least squares) and a piecewise-linear table interpolating
// between adjacent points. Models are immutable once fitted; refitting
// always produces a new Model.
package calib

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/CK6170/suspscale-go/models"
)

// degenerateEps bounds the OLS denominator below which the point set is
// treated as collinear (no spread in raw values).
const degenerateEps = 1e-10

// Mode selects the fitting strategy.
type Mode int

const (
	Regression Mode = iota
	Piecewise
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Regression:
		return "REGRESSION"
	case Piecewise:
		return "PIECEWISE"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a case-insensitive mode name to its enum value.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "REGRESSION":
		return Regression, nil
	case "PIECEWISE":
		return Piecewise, nil
	default:
		return Regression, fmt.Errorf("unknown fit mode %q", s)
	}
}

// Channel identifies which (side, acquisition source) pair a model belongs
// to.
type Channel struct {
	Side   models.Side   `json:"side"`
	Source models.Source `json:"source"`
}

// String implements fmt.Stringer.
func (c Channel) String() string { return fmt.Sprintf("%s/%s", c.Side, c.Source) }

// Point is one calibration observation: a raw sample captured with a known
// weight on the platform.
//
// Raw is signed because the acquisition source may be an unsigned 12-bit or
// a signed 16-bit converter; int32 covers both ranges.
type Point struct {
	Raw       int32     `json:"raw"`
	Weight    float64   `json:"weight"` // kg
	Timestamp time.Time `json:"timestamp"`
}

// Segment is one piece of a piecewise-linear table. Segments cover
// disjoint, contiguous raw ranges; conversion outside the table
// extrapolates with the nearest boundary segment.
type Segment struct {
	RawMin    int32   `json:"rawMin"`
	RawMax    int32   `json:"rawMax"`
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// Model is an immutable fitted calibration for one channel.
type Model struct {
	Mode            Mode      `json:"mode"`
	Slope           float64   `json:"slope"`
	Intercept       float64   `json:"intercept"`
	Segments        []Segment `json:"segments,omitempty"`
	Points          []Point   `json:"points"`
	QualityR2       float64   `json:"qualityR2"`
	MaxErrorPercent float64   `json:"maxErrorPercent"`
	Valid           bool      `json:"isValid"`
	Channel         Channel   `json:"channel"`
}

// Fit builds a new model for ch from the given points.
//
// Zero points, all-zero raw values and collinear point sets are caller
// errors; the returned model is nil and nothing is mutated.
func Fit(ch Channel, mode Mode, points []Point) (*Model, error) {
	switch len(points) {
	case 0:
		return nil, fmt.Errorf("insufficient calibration data: no points")
	case 1:
		return fitSingle(ch, mode, points[0])
	}

	n := float64(len(points))
	var sx, sy, sxx, sxy float64
	allZero := true
	for _, p := range points {
		x := float64(p.Raw)
		if p.Raw != 0 {
			allZero = false
		}
		sx += x
		sy += p.Weight
		sxx += x * x
		sxy += x * p.Weight
	}
	if allZero {
		return nil, fmt.Errorf("all points share raw sample 0; cannot fit")
	}
	den := n*sxx - sx*sx
	if math.Abs(den) < degenerateEps {
		return nil, fmt.Errorf("degenerate point set: no spread in raw values")
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = float64(p.Raw)
		ys[i] = p.Weight
	}
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)

	m := &Model{
		Mode:      mode,
		Slope:     slope,
		Intercept: intercept,
		Points:    clonePoints(points),
		Valid:     true,
		Channel:   ch,
	}
	if mode == Piecewise {
		segs, err := BuildPiecewiseSegments(points)
		if err != nil {
			return nil, err
		}
		m.Segments = segs
	}
	m.QualityR2 = rSquared(m, xs, ys, intercept, slope)
	m.MaxErrorPercent = maxErrorPercent(m)
	return m, nil
}

// fitSingle handles the single-point fast path: a pure scale factor through
// the origin. A lone empty-platform point (raw 0) is unfittable, as is a
// zero raw sample claiming a nonzero weight.
func fitSingle(ch Channel, mode Mode, p Point) (*Model, error) {
	if p.Raw == 0 {
		if p.Weight == 0 {
			return nil, fmt.Errorf("single empty-platform point is unfittable")
		}
		return nil, fmt.Errorf("single point with raw sample 0 cannot define a slope")
	}
	if mode == Piecewise {
		return nil, fmt.Errorf("piecewise fit requires at least 2 points")
	}
	return &Model{
		Mode:      Regression,
		Slope:     p.Weight / float64(p.Raw),
		Intercept: 0,
		Points:    []Point{p},
		QualityR2: 1,
		Valid:     true,
		Channel:   ch,
	}, nil
}

// BuildPiecewiseSegments sorts points ascending by raw sample and builds a
// two-point line per adjacent pair. Pairs sharing a raw value are skipped
// (a segment there would divide by zero).
func BuildPiecewiseSegments(points []Point) ([]Segment, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("piecewise fit requires at least 2 points, got %d", len(points))
	}
	sorted := clonePoints(points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Raw < sorted[j].Raw })

	segs := make([]Segment, 0, len(sorted)-1)
	for i := 0; i < len(sorted)-1; i++ {
		a, b := sorted[i], sorted[i+1]
		if a.Raw == b.Raw {
			continue
		}
		slope := (b.Weight - a.Weight) / float64(b.Raw-a.Raw)
		segs = append(segs, Segment{
			RawMin:    a.Raw,
			RawMax:    b.Raw,
			Slope:     slope,
			Intercept: a.Weight - slope*float64(a.Raw),
		})
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("degenerate point set: no spread in raw values")
	}
	return segs, nil
}

// Convert turns a raw sample into a calibrated weight using the model's
// strategy. Converting with an unfitted model is a caller error.
func (m *Model) Convert(raw int32) (float64, error) {
	if m == nil || !m.Valid {
		return 0, fmt.Errorf("calibration model is not fitted")
	}
	if m.Mode == Regression {
		return m.Slope*float64(raw) + m.Intercept, nil
	}
	if len(m.Segments) == 0 {
		return 0, fmt.Errorf("piecewise model has no segments")
	}
	// Below or above the table: extrapolate with the boundary segment.
	if raw < m.Segments[0].RawMin {
		s := m.Segments[0]
		return s.Slope*float64(raw) + s.Intercept, nil
	}
	last := m.Segments[len(m.Segments)-1]
	if raw > last.RawMax {
		return last.Slope*float64(raw) + last.Intercept, nil
	}
	// Segments are ordered and disjoint; find the first one ending at or
	// beyond raw.
	i := sort.Search(len(m.Segments), func(i int) bool { return m.Segments[i].RawMax >= raw })
	s := m.Segments[i]
	return s.Slope*float64(raw) + s.Intercept, nil
}

// rSquared computes the coefficient of determination for the fitted model.
// Regression models use the closed form; piecewise models use the residuals
// of the table itself. R2 is defined as 1 when the weights have no spread.
func rSquared(m *Model, xs, ys []float64, intercept, slope float64) float64 {
	mean := stat.Mean(ys, nil)
	sstot := 0.0
	for _, y := range ys {
		sstot += (y - mean) * (y - mean)
	}
	if sstot < degenerateEps {
		return 1
	}
	if m.Mode == Regression {
		return stat.RSquared(xs, ys, nil, intercept, slope)
	}
	ssres := 0.0
	for i, x := range xs {
		pred, err := m.Convert(int32(x))
		if err != nil {
			return 0
		}
		ssres += (ys[i] - pred) * (ys[i] - pred)
	}
	return 1 - ssres/sstot
}

// maxErrorPercent is the worst-case relative prediction error over the fit
// input, in percent. Points with actual weight 0 contribute 0.
func maxErrorPercent(m *Model) float64 {
	worst := 0.0
	for _, p := range m.Points {
		if p.Weight == 0 {
			continue
		}
		pred, err := m.Convert(p.Raw)
		if err != nil {
			continue
		}
		e := math.Abs(pred-p.Weight) / math.Abs(p.Weight) * 100
		if e > worst {
			worst = e
		}
	}
	return worst
}

func clonePoints(points []Point) []Point {
	out := make([]Point, len(points))
	copy(out, points)
	return out
}
