package protocol

import "fmt"

// Page is one decoded inbound 20-byte unit.
type Page struct {
	Length  int // declared length including the len and page bytes
	Index   int // 1-based
	Count   int
	Payload []byte
}

// Last reports whether p completes its message.
func (p Page) Last() bool {
	return p.Index == p.Count
}

// DecodePage splits a raw notification into its page fields. The payload is
// a copy of raw[2:Length].
func DecodePage(raw []byte) (Page, error) {
	if len(raw) != PageSize {
		return Page{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedPage, len(raw), PageSize)
	}

	declared := int(raw[0]) + 2
	if declared > PageSize {
		return Page{}, fmt.Errorf("%w: declared length %d exceeds page", ErrMalformedPage, declared)
	}

	index := int(raw[1] >> 4)
	count := int(raw[1] & 0x0F)
	if index == 0 || count == 0 || index > count {
		return Page{}, fmt.Errorf("%w: page %d of %d", ErrMalformedPage, index, count)
	}

	payload := make([]byte, declared-2)
	copy(payload, raw[2:declared])
	return Page{
		Length:  declared,
		Index:   index,
		Count:   count,
		Payload: payload,
	}, nil
}
