// Package canbus implements the application-level CAN-style framing protocol
// spoken by the suspension weight controller, and the Link that runs it over
// a serial port or local bridge.
//
// The primary wire format is a variable-length frame:
//
//	[0xAA][Type][IdLow][IdHigh][Data x DLC][0x55]
//
// where the low nibble of Type carries the DLC (0..8) and the high bits are
// fixed at 0xC0 for standard data frames. A fixed 20-byte legacy layout from
// older firmware is supported decode-only (see legacy.go).
package canbus

import (
	"fmt"
	"time"
)

const (
	// FrameSentinel opens every frame on the wire.
	FrameSentinel = 0xAA
	// FrameFooter closes every frame.
	FrameFooter = 0x55
	// FrameTypeData is the Type byte base for standard data frames; the DLC
	// is OR-ed into the low nibble.
	FrameTypeData = 0xC0

	// MaxID is the highest valid 11-bit message id.
	MaxID = 0x7FF
	// MaxDLC is the largest payload a frame can carry.
	MaxDLC = 8

	frameOverhead = 5 // sentinel + type + 2 id bytes + footer
)

// Direction marks whether a message was received from or sent to the
// controller.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Outbound {
		return "TX"
	}
	return "RX"
}

// Message is one logical message exchanged with the controller.
//
// Messages are value types and are not mutated after construction; the
// decoder builds them from the wire and SendMessage stamps outbound copies.
type Message struct {
	ID        uint16
	Data      []byte
	Timestamp time.Time
	Direction Direction
}

// NewMessage builds an outbound message. The id and payload are validated the
// same way EncodeFrame validates them.
func NewMessage(id uint16, data []byte) (Message, error) {
	if id > MaxID {
		return Message{}, fmt.Errorf("message id 0x%X exceeds 11-bit range", id)
	}
	if len(data) > MaxDLC {
		return Message{}, fmt.Errorf("payload length %d exceeds %d bytes", len(data), MaxDLC)
	}
	d := make([]byte, len(data))
	copy(d, data)
	return Message{ID: id, Data: d, Timestamp: time.Now(), Direction: Outbound}, nil
}

// EncodeFrame serializes an id + payload into the standard wire format.
//
// Rejects ids above 0x7FF and payloads longer than 8 bytes; nothing is
// emitted in that case. The result is exactly 5+len(payload) bytes.
func EncodeFrame(id uint16, payload []byte) ([]byte, error) {
	if id > MaxID {
		return nil, fmt.Errorf("message id 0x%X exceeds 11-bit range", id)
	}
	if len(payload) > MaxDLC {
		return nil, fmt.Errorf("payload length %d exceeds %d bytes", len(payload), MaxDLC)
	}
	buf := make([]byte, 0, frameOverhead+len(payload))
	buf = append(buf, FrameSentinel, FrameTypeData|byte(len(payload)))
	buf = append(buf, byte(id), byte(id>>8))
	buf = append(buf, payload...)
	buf = append(buf, FrameFooter)
	return buf, nil
}

// Decoder accumulates raw bytes from the transport and yields complete
// messages. Partial frames stay buffered with the read cursor unmoved, so
// bytes examined ahead of a not-yet-complete frame are never lost or
// reordered. Garbled frames are dropped silently and scanning resumes at the
// next byte; resynchronization is the decoder's job, not the caller's.
type Decoder struct {
	buf []byte
	r   int
}

// Write appends raw transport bytes to the decode buffer.
func (d *Decoder) Write(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered reports how many bytes are pending behind the read cursor.
func (d *Decoder) Buffered() int { return len(d.buf) - d.r }

// Reset drops all buffered bytes. Used when the transport is reopened.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.r = 0
}

// Next returns the next complete message, or ok=false when the buffer holds
// no further full frame. Call repeatedly after each Write until it reports
// false.
func (d *Decoder) Next() (Message, bool) {
	for {
		// Scan to the sentinel; everything before it is noise.
		for d.r < len(d.buf) && d.buf[d.r] != FrameSentinel {
			d.r++
		}
		avail := len(d.buf) - d.r
		if avail < 2 {
			d.compact()
			return Message{}, false
		}
		dlc := int(d.buf[d.r+1] & 0x0F)
		if dlc > MaxDLC {
			// Cannot be a frame header; skip the sentinel only so a valid
			// header hiding right behind it is not lost.
			d.r++
			continue
		}
		need := frameOverhead + dlc
		if avail < need {
			// Wait for more bytes without consuming anything examined.
			d.compact()
			return Message{}, false
		}
		if d.buf[d.r+need-1] != FrameFooter {
			d.r++
			continue
		}
		id := uint16(d.buf[d.r+2]) | uint16(d.buf[d.r+3])<<8
		id &= MaxID
		data := make([]byte, dlc)
		copy(data, d.buf[d.r+4:d.r+4+dlc])
		d.r += need
		d.compact()
		return Message{ID: id, Data: data, Timestamp: time.Now(), Direction: Inbound}, true
	}
}

// compact reclaims consumed prefix space once it dominates the buffer, so a
// long-running link does not grow its buffer without bound.
func (d *Decoder) compact() {
	if d.r == 0 {
		return
	}
	if d.r == len(d.buf) {
		d.buf = d.buf[:0]
		d.r = 0
		return
	}
	if len(d.buf) >= 1024 && d.r*2 >= len(d.buf) {
		n := copy(d.buf, d.buf[d.r:])
		d.buf = d.buf[:n]
		d.r = 0
	}
}
