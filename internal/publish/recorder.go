package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/chaz8081/bmslink/internal/bms"
)

// Record kinds.
const (
	kindPack  = "pack"
	kindCells = "cells"
)

// record is the on-disk form of a Reading: a stream of CBOR maps with
// integer keys.
type record struct {
	UnixMilli int64    `cbor:"1,keyasint"`
	Device    string   `cbor:"2,keyasint"`
	Kind      string   `cbor:"3,keyasint"`
	Pack      *packRec `cbor:"4,keyasint,omitempty"`
	Cells     []int    `cbor:"5,keyasint,omitempty"`
}

type packRec struct {
	Voltage         int32     `cbor:"1,keyasint"`
	Current         int32     `cbor:"2,keyasint"`
	Percentage      int       `cbor:"3,keyasint"`
	RemainingCharge int32     `cbor:"4,keyasint"`
	FullCharge      int32     `cbor:"5,keyasint"`
	FactoryCapacity int32     `cbor:"6,keyasint"`
	Temperatures    []float64 `cbor:"7,keyasint,omitempty"`
}

func toRecord(r Reading) (record, error) {
	rec := record{UnixMilli: r.Time.UnixMilli(), Device: r.Device}
	switch t := r.Telemetry.(type) {
	case bms.PackInfo:
		rec.Kind = kindPack
		rec.Pack = &packRec{
			Voltage:         t.Voltage,
			Current:         t.Current,
			Percentage:      t.Percentage,
			RemainingCharge: t.RemainingCharge,
			FullCharge:      t.FullCharge,
			FactoryCapacity: t.FactoryCapacity,
		}
		for _, k := range t.Temperatures {
			rec.Pack.Temperatures = append(rec.Pack.Temperatures, float64(k))
		}
	case bms.CellVoltages:
		rec.Kind = kindCells
		rec.Cells = t.Values
	default:
		return record{}, fmt.Errorf("recording %T: unsupported telemetry", r.Telemetry)
	}
	return rec, nil
}

func (rec record) reading() (Reading, error) {
	r := Reading{Time: time.UnixMilli(rec.UnixMilli), Device: rec.Device}
	switch rec.Kind {
	case kindPack:
		if rec.Pack == nil {
			return Reading{}, errors.New("pack record without pack data")
		}
		p := bms.PackInfo{
			Voltage:         rec.Pack.Voltage,
			Current:         rec.Pack.Current,
			Percentage:      rec.Pack.Percentage,
			RemainingCharge: rec.Pack.RemainingCharge,
			FullCharge:      rec.Pack.FullCharge,
			FactoryCapacity: rec.Pack.FactoryCapacity,
		}
		for _, k := range rec.Pack.Temperatures {
			p.Temperatures = append(p.Temperatures, bms.Kelvin(k))
		}
		r.Telemetry = p
	case kindCells:
		r.Telemetry = bms.CellVoltages{Values: rec.Cells}
	default:
		return Reading{}, fmt.Errorf("unknown record kind %q", rec.Kind)
	}
	return r, nil
}

// Recorder appends readings to a CBOR stream.
type Recorder struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
}

// NewRecorder writes to w. If w is an io.Closer, Close closes it.
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{enc: cbor.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// OpenRecorder appends to the file at path, creating it if needed.
func OpenRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening recording: %w", err)
	}
	return NewRecorder(f), nil
}

func (r *Recorder) Publish(_ context.Context, rd Reading) error {
	rec, err := toRecord(rd)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Close closes the underlying writer when it is closable.
func (r *Recorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadRecording decodes a recording and calls fn for each reading in order.
// It stops at the first error from fn.
func ReadRecording(rd io.Reader, fn func(Reading) error) error {
	dec := cbor.NewDecoder(rd)
	for n := 1; ; n++ {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("record %d: %w", n, err)
		}
		r, err := rec.reading()
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}
