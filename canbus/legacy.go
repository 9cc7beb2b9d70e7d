package canbus

import (
	"encoding/binary"
	"time"
)

// Legacy fixed-length framing used by older controller firmware. Unlike the
// standard format there is no DLC: every frame is exactly 20 bytes, the id
// is a little-endian 32-bit field at offset 1 (only the low 11 bits are
// meaningful) and the payload is always 8 bytes, 0x00 padded by the sender.
//
// The variable-length protocol is canonical; this mode exists decode-only
// until the fleet is confirmed migrated.
const (
	legacyFrameLen      = 20
	legacyIDOffset      = 1
	legacyPayloadOffset = 5
	legacyPayloadLen    = 8
)

// LegacyDecoder yields messages from the fixed 20-byte legacy layout. It
// shares the buffering/resync contract of Decoder: partial frames wait with
// the cursor unmoved, a bad footer drops only the sentinel byte.
type LegacyDecoder struct {
	buf []byte
	r   int
}

// Write appends raw transport bytes to the decode buffer.
func (d *LegacyDecoder) Write(p []byte) {
	d.buf = append(d.buf, p...)
}

// Reset drops all buffered bytes.
func (d *LegacyDecoder) Reset() {
	d.buf = d.buf[:0]
	d.r = 0
}

// Next returns the next complete message, or ok=false when fewer than 20
// bytes are available past the sentinel.
func (d *LegacyDecoder) Next() (Message, bool) {
	for {
		for d.r < len(d.buf) && d.buf[d.r] != FrameSentinel {
			d.r++
		}
		if len(d.buf)-d.r < legacyFrameLen {
			if d.r == len(d.buf) {
				d.buf = d.buf[:0]
				d.r = 0
			}
			return Message{}, false
		}
		f := d.buf[d.r : d.r+legacyFrameLen]
		if f[legacyFrameLen-1] != FrameFooter {
			d.r++
			continue
		}
		id := uint16(binary.LittleEndian.Uint32(f[legacyIDOffset:legacyIDOffset+4]) & MaxID)
		data := make([]byte, legacyPayloadLen)
		copy(data, f[legacyPayloadOffset:legacyPayloadOffset+legacyPayloadLen])
		d.r += legacyFrameLen
		return Message{ID: id, Data: data, Timestamp: time.Now(), Direction: Inbound}, true
	}
}
