package protocol

import "fmt"

// Opcode is the single-byte message type tag.
type Opcode uint8

const (
	OpUnlockAccepted Opcode = 0x32
	OpUnlockRejected Opcode = 0x33
	OpLegacyInfo1    Opcode = 0x60
	OpLegacyInfo2    Opcode = 0x61
	OpCellVolt       Opcode = 0x62
	OpUnlock         Opcode = 0x64
	OpUnlocked       Opcode = 0x65
	OpGetInfo        Opcode = 0xA0
)

func (o Opcode) String() string {
	switch o {
	case OpUnlockAccepted:
		return "unlock_accepted"
	case OpUnlockRejected:
		return "unlock_rejected"
	case OpLegacyInfo1:
		return "legacy_info1"
	case OpLegacyInfo2:
		return "legacy_info2"
	case OpCellVolt:
		return "cell_volt"
	case OpUnlock:
		return "unlock"
	case OpUnlocked:
		return "unlocked"
	case OpGetInfo:
		return "get_info"
	default:
		return fmt.Sprintf("0x%02X", uint8(o))
	}
}

// Known reports whether o is one of the opcodes this package defines.
func (o Opcode) Known() bool {
	switch o {
	case OpUnlockAccepted, OpUnlockRejected, OpLegacyInfo1, OpLegacyInfo2,
		OpCellVolt, OpUnlock, OpUnlocked, OpGetInfo:
		return true
	}
	return false
}
