// Package tare stores per-channel weight offsets that compensate the
// fixture's residual weight after a calibration load is removed.
//
// There is one independent slot per (side, acquisition source) pair, four in
// total. An offset may only be captured from a strictly negative calibrated
// reading; the stored offset is its absolute value.
package tare

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/CK6170/suspscale-go/models"
)

// Offset is one slot's state.
type Offset struct {
	OffsetKg float64   `json:"offsetKg"`
	Set      bool      `json:"isSet"`
	SetAt    time.Time `json:"setAt,omitempty"`
}

// Record is the flat serialized form of all four slots, handed to the
// external persistence collaborator for reload across sessions.
type Record struct {
	LeftInternal  Offset `json:"leftInternal"`
	LeftExternal  Offset `json:"leftExternal"`
	RightInternal Offset `json:"rightInternal"`
	RightExternal Offset `json:"rightExternal"`
}

// Store holds the four tare slots. Safe for concurrent use; the mutex is
// held only for the duration of each slot access.
type Store struct {
	mu    sync.Mutex
	slots [2][2]Offset // [side][source]
}

// NewStore returns an empty store with no offsets set.
func NewStore() *Store { return &Store{} }

// SetOffset captures a tare offset for one slot from a calibrated weight
// reading. Only strictly negative, finite readings are accepted; anything
// else is rejected with no mutation.
func (s *Store) SetOffset(side models.Side, source models.Source, calibratedWeight float64) error {
	if math.IsNaN(calibratedWeight) || math.IsInf(calibratedWeight, 0) {
		return fmt.Errorf("tare %s/%s: reading is not finite", side, source)
	}
	if calibratedWeight >= 0 {
		return fmt.Errorf("tare %s/%s: reading %.3f is not negative; clear the platform first", side, source, calibratedWeight)
	}
	s.mu.Lock()
	s.slots[side][source] = Offset{
		OffsetKg: math.Abs(calibratedWeight),
		Set:      true,
		SetAt:    time.Now(),
	}
	s.mu.Unlock()
	return nil
}

// ClearOffset resets one slot. The other three are untouched.
func (s *Store) ClearOffset(side models.Side, source models.Source) {
	s.mu.Lock()
	s.slots[side][source] = Offset{}
	s.mu.Unlock()
}

// Apply adds the slot's offset to a calibrated weight, or returns the input
// unchanged when the slot is not set.
func (s *Store) Apply(side models.Side, source models.Source, calibratedWeight float64) float64 {
	s.mu.Lock()
	o := s.slots[side][source]
	s.mu.Unlock()
	if !o.Set {
		return calibratedWeight
	}
	return calibratedWeight + o.OffsetKg
}

// Get returns a copy of one slot's state.
func (s *Store) Get(side models.Side, source models.Source) Offset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[side][source]
}

// Snapshot serializes all four slots.
func (s *Store) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Record{
		LeftInternal:  s.slots[models.LEFT][models.INTERNAL],
		LeftExternal:  s.slots[models.LEFT][models.EXTERNAL],
		RightInternal: s.slots[models.RIGHT][models.INTERNAL],
		RightExternal: s.slots[models.RIGHT][models.EXTERNAL],
	}
}

// Restore loads all four slots from a persisted record, replacing the
// current state.
func (s *Store) Restore(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[models.LEFT][models.INTERNAL] = r.LeftInternal
	s.slots[models.LEFT][models.EXTERNAL] = r.LeftExternal
	s.slots[models.RIGHT][models.INTERNAL] = r.RightInternal
	s.slots[models.RIGHT][models.EXTERNAL] = r.RightExternal
}
