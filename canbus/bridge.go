package canbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Bridge framing, used on the local bridge channel where messages arrive
// whole: [Id: 4 bytes LE][Length: 1 byte][Data: 0..Length bytes]. There is
// no sentinel or footer and no resynchronization; the bridge guarantees
// message boundaries.

// EncodeBridgeFrame serializes an id + payload into the bridge layout.
func EncodeBridgeFrame(id uint16, payload []byte) ([]byte, error) {
	if id > MaxID {
		return nil, fmt.Errorf("message id 0x%X exceeds 11-bit range", id)
	}
	if len(payload) > MaxDLC {
		return nil, fmt.Errorf("payload length %d exceeds %d bytes", len(payload), MaxDLC)
	}
	buf := make([]byte, 5+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(id))
	buf[4] = byte(len(payload))
	copy(buf[5:], payload)
	return buf, nil
}

// ReadBridgeFrame reads exactly one bridge-framed message from r.
func ReadBridgeFrame(r io.Reader) (Message, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	id := uint16(binary.LittleEndian.Uint32(hdr[0:4]) & MaxID)
	n := int(hdr[4])
	if n > MaxDLC {
		return Message{}, fmt.Errorf("bridge frame length %d exceeds %d bytes", n, MaxDLC)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Message{}, err
	}
	return Message{ID: id, Data: data, Timestamp: time.Now(), Direction: Inbound}, nil
}
