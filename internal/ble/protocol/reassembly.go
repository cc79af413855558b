// internal/ble/protocol/reassembly.go
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Bytes stripped from the front (header) and back (footer) of a reassembled
// payload before checksum verification.
const (
	headerLen = 3
	footerLen = 2
	sumLen    = 2
)

// Message is a complete, checksum-verified inbound message. Data[0] is the
// opcode; the checksum is not included.
type Message struct {
	Data []byte
}

// Opcode returns the message's opcode.
func (m Message) Opcode() Opcode {
	if len(m.Data) == 0 {
		return 0
	}
	return Opcode(m.Data[0])
}

// Payload returns the bytes following the opcode.
func (m Message) Payload() []byte {
	if len(m.Data) < 2 {
		return nil
	}
	return m.Data[1:]
}

// Result is the outcome of feeding one page to a Reassembler. At most one of
// Message and Err is set. Resync reports that a new first page arrived while
// a different multi-page message was still incomplete; the partial message
// was discarded.
type Result struct {
	Message *Message
	Resync  bool
	Err     error
}

// Reassembler accumulates pages into messages. The zero value is ready to use.
// It is not safe for concurrent use.
type Reassembler struct {
	buf        []byte
	firstPage  []byte
	inProgress bool
}

// InProgress reports whether a multi-page message is partially assembled.
func (r *Reassembler) InProgress() bool {
	return r.inProgress
}

// Reset discards any partial message.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.firstPage = nil
	r.inProgress = false
}

// Feed appends p to the current message and returns a completed message when
// p is the last page.
func (r *Reassembler) Feed(p Page) Result {
	var res Result

	if p.Index == 1 {
		if r.inProgress && !bytes.Equal(r.firstPage, p.Payload) {
			res.Resync = true
		}
		r.buf = append(r.buf[:0], p.Payload...)
		r.firstPage = append(r.firstPage[:0], p.Payload...)
		r.inProgress = p.Count > 1
	} else {
		r.buf = append(r.buf, p.Payload...)
	}

	if !p.Last() {
		return res
	}

	r.inProgress = false
	msg, err := verify(r.buf)
	r.buf = r.buf[:0]
	if err != nil {
		res.Err = err
		return res
	}
	res.Message = msg
	return res
}

// verify strips header and footer from a reassembled payload and checks the
// trailing big-endian checksum against the remaining bytes.
func verify(buf []byte) (*Message, error) {
	if len(buf) < headerLen+footerLen+sumLen+1 {
		return nil, fmt.Errorf("%w: %d bytes after reassembly", ErrShortMessage, len(buf))
	}

	body := buf[headerLen : len(buf)-footerLen]
	data := body[:len(body)-sumLen]
	want := binary.BigEndian.Uint16(body[len(body)-sumLen:])
	if got := Checksum(data); got != want {
		return nil, fmt.Errorf("%w: computed 0x%04X, frame carries 0x%04X", ErrChecksum, got, want)
	}

	out := make([]byte, len(data))
	copy(out, data)
	return &Message{Data: out}, nil
}
