// Package models defines the shared enums and JSON-serialized configuration
// structures used across the suspscale tooling and the web server.
//
// These types mirror the shape of `settings.json` and the records persisted
// for calibration and tare state.
package models

import (
	"fmt"
	"strings"
)

// Side identifies which suspension side a sample or channel belongs to.
type Side int

const (
	LEFT Side = iota
	RIGHT
)

// Sides lists both sides in a stable order for iteration.
var Sides = []Side{LEFT, RIGHT}

// String implements fmt.Stringer.
func (s Side) String() string {
	switch s {
	case LEFT:
		return "LEFT"
	case RIGHT:
		return "RIGHT"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Source identifies the acquisition path producing raw samples.
//
// INTERNAL is the controller's on-board converter (unsigned 12-bit range);
// EXTERNAL is the external converter (signed 16-bit range).
type Source int

const (
	INTERNAL Source = iota
	EXTERNAL
)

// Sources lists both acquisition sources in a stable order.
var Sources = []Source{INTERNAL, EXTERNAL}

// ParseSide maps a case-insensitive side name to its enum value.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LEFT":
		return LEFT, nil
	case "RIGHT":
		return RIGHT, nil
	default:
		return LEFT, fmt.Errorf("unknown side %q", s)
	}
}

// ParseSource maps a case-insensitive source name to its enum value.
func ParseSource(s string) (Source, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INTERNAL":
		return INTERNAL, nil
	case "EXTERNAL":
		return EXTERNAL, nil
	default:
		return INTERNAL, fmt.Errorf("unknown source %q", s)
	}
}

// String implements fmt.Stringer.
func (s Source) String() string {
	switch s {
	case INTERNAL:
		return "INTERNAL"
	case EXTERNAL:
		return "EXTERNAL"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// FilterKind selects the smoothing filter applied by the weight pipeline.
type FilterKind int

const (
	FilterNone FilterKind = iota
	FilterEMA
	FilterSMA
)

// String implements fmt.Stringer.
func (f FilterKind) String() string {
	switch f {
	case FilterNone:
		return "NONE"
	case FilterEMA:
		return "EMA"
	case FilterSMA:
		return "SMA"
	default:
		return fmt.Sprintf("FilterKind(%d)", int(f))
	}
}

// ParseFilterKind maps a settings string onto a FilterKind.
func ParseFilterKind(s string) (FilterKind, error) {
	switch s {
	case "", "NONE":
		return FilterNone, nil
	case "EMA":
		return FilterEMA, nil
	case "SMA":
		return FilterSMA, nil
	}
	return FilterNone, fmt.Errorf("unknown filter kind %q", s)
}

// SETTINGS is the primary configuration model (the typical `settings.json`).
type SETTINGS struct {
	SERIAL *SERIAL `json:"SERIAL"`
	FILTER *FILTER `json:"FILTER,omitempty"`
	DEBUG  bool    `json:"DEBUG"`
}

// SERIAL contains the serial-port connection settings used to communicate
// with the controller.
type SERIAL struct {
	PORT     string `json:"PORT"`
	BAUDRATE int    `json:"BAUDRATE"`
}

// FILTER configures the pipeline smoothing filter.
//
// KIND is "NONE", "EMA" or "SMA". ALPHA applies to EMA, WINDOW to SMA.
type FILTER struct {
	KIND   string  `json:"KIND"`
	ALPHA  float64 `json:"ALPHA,omitempty"`
	WINDOW int     `json:"WINDOW,omitempty"`
}
