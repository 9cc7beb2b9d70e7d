package canbus

// Message id catalog. Ids are 11-bit; the ranges group broadcast traffic,
// calibration commands/responses and bootloader traffic.
const (
	// Weight sample broadcasts, one id per side. Payload bytes 0..1 carry
	// the raw sample little-endian; interpretation (unsigned 12-bit vs
	// signed 16-bit) depends on the assigned acquisition source.
	IDWeightLeft  uint16 = 0x100
	IDWeightRight uint16 = 0x101

	// Calibration commands host -> controller.
	IDCalibSetPoint     uint16 = 0x200
	IDCalibComplete     uint16 = 0x201
	IDCalibManagePoints uint16 = 0x202

	// Calibration responses controller -> host.
	IDCalibResult  uint16 = 0x210
	IDCalibQuality uint16 = 0x211

	// Bootloader protocol.
	IDBootCommand uint16 = 0x700
	IDBootData    uint16 = 0x701
	IDBootStatus  uint16 = 0x702
)

// Bootloader sub-commands, carried in byte 0 of an IDBootCommand payload.
const (
	BootEnter byte = 0x01
	BootPing  byte = 0x02
	BootBegin byte = 0x03 // followed by image size, LE32
	BootEnd   byte = 0x04 // followed by final CRC, LE32
)

// Manage-points sub-commands, carried in byte 0 of an IDCalibManagePoints
// payload.
const (
	PointsClear      byte = 0x01
	PointsRemoveLast byte = 0x02
)
