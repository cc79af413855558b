// Package protocol implements the paged, checksummed byte protocol the BMS
// speaks over its single BLE write/notify characteristic.
//
// Every transfer is a fixed 20-byte page:
//
//	[len][page][0x3A 0x03 0x05][opcode][0x00 0x00][payload...][csHi csLo][0x0D 0x0A][zero padding]
//
// len counts the bytes after the len and page bytes. page packs the 1-based
// page index in the high nibble and the page count in the low nibble.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PageSize is the size of every page written to or notified by the BMS.
const PageSize = 20

// MaxPayloadBytes is the largest command payload that still fits in a single
// page: 20 bytes minus len, page, header(3), opcode, padding(2), checksum(2)
// and footer(2).
const MaxPayloadBytes = PageSize - 12

const (
	pageOneOfOne   = 0x11
	ackFlag        = 0x80
	checksumOffset = 8
)

var (
	frameHeader = []byte{0x3A, 0x03, 0x05}
	frameFooter = []byte{0x0D, 0x0A}
)

var (
	// ErrMalformedPage is returned for inbound pages that are not exactly
	// PageSize bytes or whose length/page byte is out of range.
	ErrMalformedPage = errors.New("protocol: malformed page")
	// ErrChecksum is returned when a reassembled message fails verification.
	ErrChecksum = errors.New("protocol: checksum mismatch")
	// ErrShortMessage is returned when a reassembled message is too short to
	// carry header, footer and checksum, or too short for its opcode's layout.
	ErrShortMessage = errors.New("protocol: message too short")
)

// Checksum returns the 16-bit sum of data plus 8.
func Checksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum + checksumOffset
}

// Encode builds the single-page frame for a command. The checksum covers the
// opcode, the two padding bytes and the payload.
// Panics if payload exceeds MaxPayloadBytes (programmer error).
func Encode(op Opcode, payload []byte) []byte {
	if len(payload) > MaxPayloadBytes {
		panic(fmt.Sprintf("protocol: payload of %d bytes exceeds %d", len(payload), MaxPayloadBytes))
	}

	body := make([]byte, 0, PageSize)
	body = append(body, byte(op), 0x00, 0x00)
	body = append(body, payload...)
	body = binary.BigEndian.AppendUint16(body, Checksum(body))
	body = append(body, frameFooter...)

	frame := make([]byte, PageSize)
	frame[0] = byte(len(frameHeader) + len(body))
	frame[1] = pageOneOfOne
	n := 2 + copy(frame[2:], frameHeader)
	copy(frame[n:], body)
	return frame
}

// IsAck reports whether raw is an acknowledgement echoed by the device.
// ACK frames carry 0x8 in the high nibble of the first byte.
func IsAck(raw []byte) bool {
	return len(raw) > 0 && raw[0]>>4 == 0x8
}

// Ack returns the acknowledgement for an inbound frame: the same bytes with
// 0x80 set on the first byte. raw is not modified.
func Ack(raw []byte) []byte {
	ack := make([]byte, len(raw))
	copy(ack, raw)
	if len(ack) > 0 {
		ack[0] |= ackFlag
	}
	return ack
}
