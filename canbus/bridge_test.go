package canbus

import (
	"bytes"
	"testing"
)

func TestBridgeRoundTrip(t *testing.T) {
	tests := []struct {
		id      uint16
		payload []byte
	}{
		{0x000, nil},
		{0x100, []byte{0x34, 0x12}},
		{0x7FF, []byte{1, 2, 3, 4, 5, 6, 7, 8}},
	}
	for _, tt := range tests {
		raw, err := EncodeBridgeFrame(tt.id, tt.payload)
		if err != nil {
			t.Fatalf("EncodeBridgeFrame(0x%X): %v", tt.id, err)
		}
		msg, err := ReadBridgeFrame(bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("ReadBridgeFrame(0x%X): %v", tt.id, err)
		}
		if msg.ID != tt.id {
			t.Errorf("id = 0x%X, want 0x%X", msg.ID, tt.id)
		}
		if !bytes.Equal(msg.Data, tt.payload) && len(tt.payload) > 0 {
			t.Errorf("data = % X, want % X", msg.Data, tt.payload)
		}
	}
}

func TestBridgeRejects(t *testing.T) {
	if _, err := EncodeBridgeFrame(0x800, nil); err == nil {
		t.Error("id 0x800 should be rejected")
	}
	if _, err := EncodeBridgeFrame(1, make([]byte, 9)); err == nil {
		t.Error("9-byte payload should be rejected")
	}
	// Length byte claiming more than 8 bytes of data is a protocol error.
	if _, err := ReadBridgeFrame(bytes.NewReader([]byte{1, 0, 0, 0, 9, 0})); err == nil {
		t.Error("oversized bridge length should be rejected")
	}
}

func TestBridgeShortRead(t *testing.T) {
	raw, _ := EncodeBridgeFrame(0x100, []byte{1, 2, 3})
	if _, err := ReadBridgeFrame(bytes.NewReader(raw[:len(raw)-1])); err == nil {
		t.Error("truncated frame should fail")
	}
}
