package firmware

// CRC-32 parameters used by the bootloader to validate a transferred image.
//
//   - Polynomial: 0x04C11DB7
//   - Initial value: 0xFFFFFFFF
//   - Input bytes are bit-reflected before being folded into the
//     accumulator MSB-first (refin/refout true in Rocksoft terms)
//   - Final value is XORed with 0xFFFFFFFF once, after the last chunk
//
// The reversed-polynomial form below is the standard bit-equivalent of that
// description; check value for "123456789" is 0xCBF43926.
const (
	// CRC32Polynomial is the bootloader CRC polynomial (normal form).
	CRC32Polynomial = 0x04C11DB7

	// crc32PolyReversed is CRC32Polynomial with its bits reflected; using it
	// lets the accumulator carry the reflected register directly.
	crc32PolyReversed = 0xEDB88320

	// CRC32Initial seeds the running accumulator.
	CRC32Initial = 0xFFFFFFFF

	// CRC32FinalXOR is applied once to the running value when the transfer
	// ends.
	CRC32FinalXOR = 0xFFFFFFFF
)

// crcUpdate folds data into the running accumulator. The caller seeds the
// accumulator with CRC32Initial and applies CRC32FinalXOR after the last
// chunk; intermediate values stay un-finalized so chunks can stream.
func crcUpdate(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crc32PolyReversed
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// Checksum computes the finalized CRC-32 of data in one call.
func Checksum(data []byte) uint32 {
	return crcUpdate(CRC32Initial, data) ^ CRC32FinalXOR
}
