package firmware

import "testing"

func TestChecksumCheckValue(t *testing.T) {
	// Standard check value for this CRC-32 variant.
	if got := Checksum([]byte("123456789")); got != 0xCBF43926 {
		t.Fatalf("Checksum = 0x%08X, want 0xCBF43926", got)
	}
}

func TestChecksumIncrementalMatchesOneShot(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i * 7)
	}

	crc := uint32(CRC32Initial)
	for off := 0; off < len(data); off += ChunkSize {
		end := off + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		crc = crcUpdate(crc, data[off:end])
	}
	if got := crc ^ CRC32FinalXOR; got != Checksum(data) {
		t.Fatalf("chunked = 0x%08X, one-shot = 0x%08X", got, Checksum(data))
	}
}

func TestChecksumEmpty(t *testing.T) {
	// No input bytes: init XOR final, by definition.
	if got := Checksum(nil); got != CRC32Initial^CRC32FinalXOR {
		t.Fatalf("Checksum(nil) = 0x%08X", got)
	}
}
