package bms

import (
	"encoding/binary"
	"fmt"

	"github.com/chaz8081/bmslink/internal/ble/protocol"
)

// Minimum message lengths, counting the opcode at index 0.
const (
	getInfoLen     = 34
	cellVoltMinLen = 4
	legacyInfo1Len = 12
	legacyInfo2Len = 11
)

// Response is a decoded message. The types in this file plus PackInfo and
// CellVoltages are the only implementations.
type Response interface {
	isResponse()
}

// UnlockAccepted is any of the three replies that mean the device accepted
// the password: unlockAccepted, an echo of unlock, or unlocked.
type UnlockAccepted struct {
	Via protocol.Opcode
}

// UnlockRejected means the device refused the password.
type UnlockRejected struct{}

// LegacyInfo1 is the first half of a legacy pack reading.
type LegacyInfo1 struct {
	Voltage         uint16
	Current         int16
	FullCharge      uint16
	RemainingCharge uint16
	Percentage      uint8
}

// LegacyInfo2 is the second half of a legacy pack reading.
type LegacyInfo2 struct {
	FactoryCapacity uint16
	Temperature     Kelvin
}

// Unknown is a message with an opcode this package does not decode.
type Unknown struct {
	Opcode protocol.Opcode
}

func (UnlockAccepted) isResponse() {}
func (UnlockRejected) isResponse() {}
func (LegacyInfo1) isResponse()    {}
func (LegacyInfo2) isResponse()    {}
func (Unknown) isResponse()        {}
func (PackInfo) isResponse()       {}
func (CellVoltages) isResponse()   {}

// ParseResponse decodes an assembled message. Field offsets are relative to
// the opcode byte. Messages too short for their opcode's layout return
// protocol.ErrShortMessage.
func ParseResponse(msg protocol.Message) (Response, error) {
	d := msg.Data
	op := msg.Opcode()

	need := func(n int) error {
		if len(d) < n {
			return fmt.Errorf("%w: %v needs %d bytes, got %d", protocol.ErrShortMessage, op, n, len(d))
		}
		return nil
	}

	switch op {
	case protocol.OpUnlockAccepted, protocol.OpUnlock, protocol.OpUnlocked:
		return UnlockAccepted{Via: op}, nil

	case protocol.OpUnlockRejected:
		return UnlockRejected{}, nil

	case protocol.OpGetInfo:
		if err := need(getInfoLen); err != nil {
			return nil, err
		}
		return PackInfo{
			Voltage:         int32(binary.BigEndian.Uint32(d[3:])),
			Current:         int32(binary.BigEndian.Uint32(d[7:])),
			Percentage:      int(d[15]),
			RemainingCharge: int32(binary.BigEndian.Uint32(d[16:])),
			FullCharge:      int32(binary.BigEndian.Uint32(d[20:])),
			FactoryCapacity: int32(binary.BigEndian.Uint32(d[24:])),
			Temperatures: []Kelvin{
				KelvinFromRaw(binary.BigEndian.Uint16(d[28:])),
				KelvinFromRaw(binary.BigEndian.Uint16(d[30:])),
				KelvinFromRaw(binary.BigEndian.Uint16(d[32:])),
			},
		}, nil

	case protocol.OpCellVolt:
		if err := need(cellVoltMinLen); err != nil {
			return nil, err
		}
		n := int(d[3])
		if err := need(cellVoltMinLen + 2*n); err != nil {
			return nil, err
		}
		cells := make([]int, n)
		for i := range cells {
			cells[i] = int(binary.BigEndian.Uint16(d[4+2*i:]))
		}
		return CellVoltages{Values: cells}, nil

	case protocol.OpLegacyInfo1:
		if err := need(legacyInfo1Len); err != nil {
			return nil, err
		}
		return LegacyInfo1{
			Voltage:         binary.BigEndian.Uint16(d[3:]),
			Current:         int16(binary.BigEndian.Uint16(d[5:])),
			FullCharge:      binary.BigEndian.Uint16(d[7:]),
			RemainingCharge: binary.BigEndian.Uint16(d[9:]),
			Percentage:      d[11],
		}, nil

	case protocol.OpLegacyInfo2:
		if err := need(legacyInfo2Len); err != nil {
			return nil, err
		}
		return LegacyInfo2{
			FactoryCapacity: binary.BigEndian.Uint16(d[7:]),
			Temperature:     KelvinFromRaw(binary.BigEndian.Uint16(d[9:])),
		}, nil
	}

	return Unknown{Opcode: op}, nil
}
