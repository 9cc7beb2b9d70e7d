package canbus

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func legacyFrame(id uint16, payload []byte) []byte {
	f := make([]byte, legacyFrameLen)
	f[0] = FrameSentinel
	binary.LittleEndian.PutUint32(f[legacyIDOffset:], uint32(id))
	copy(f[legacyPayloadOffset:], payload)
	f[legacyFrameLen-1] = FrameFooter
	return f
}

func TestLegacyDecode(t *testing.T) {
	payload := []byte{0x10, 0x20, 0, 0, 0, 0, 0, 0}
	var d LegacyDecoder
	d.Write(legacyFrame(0x100, payload))

	msg, ok := d.Next()
	if !ok {
		t.Fatal("no message decoded")
	}
	if msg.ID != 0x100 {
		t.Fatalf("id = 0x%X, want 0x100", msg.ID)
	}
	if !bytes.Equal(msg.Data, payload) {
		t.Fatalf("data = % X, want % X", msg.Data, payload)
	}
	if _, ok := d.Next(); ok {
		t.Error("second message from one frame")
	}
}

func TestLegacyDecodeSplitAndResync(t *testing.T) {
	frame := legacyFrame(0x101, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	var d LegacyDecoder
	d.Write([]byte{0xFF, 0x42}) // noise
	d.Write(frame[:7])
	if _, ok := d.Next(); ok {
		t.Fatal("message surfaced from a partial frame")
	}
	d.Write(frame[7:])
	msg, ok := d.Next()
	if !ok || msg.ID != 0x101 {
		t.Fatalf("decode = (0x%X, %v), want id 0x101", msg.ID, ok)
	}
}

func TestLegacyBadFooter(t *testing.T) {
	bad := legacyFrame(0x123, []byte{9})
	bad[legacyFrameLen-1] = 0x00
	good := legacyFrame(0x456, []byte{7})

	var d LegacyDecoder
	d.Write(bad)
	d.Write(good)
	msg, ok := d.Next()
	if !ok || msg.ID != 0x456 {
		t.Fatalf("decode = (0x%X, %v), want id 0x456 after corrupt frame", msg.ID, ok)
	}
}
