// Package bletest provides an in-memory ble.Radio for tests.
package bletest

import (
	"sync"

	"github.com/chaz8081/bmslink/internal/ble"
)

// Write is one recorded Radio.Write call.
type Write struct {
	Characteristic ble.Characteristic
	Data           []byte
}

// Notify is one recorded Radio.SetNotify call.
type Notify struct {
	Characteristic ble.Characteristic
	Enabled        bool
}

// Radio records every request and lets the test inject events with Emit.
// Requests never produce events on their own.
type Radio struct {
	mu      sync.Mutex
	handler func(ble.Event)

	Scans        int
	StopScans    int
	Connects     []ble.PeripheralID
	Disconnects  []ble.PeripheralID
	ServiceReqs  []ble.PeripheralID
	CharReqs     []ble.Service
	Notifies     []Notify
	Writes       []Write
	RSSIRequests []ble.PeripheralID

	// ConnectErr and WriteErr, when set, are returned by Connect and Write.
	ConnectErr error
	WriteErr   error
}

// New returns an empty fake radio.
func New() *Radio {
	return &Radio{}
}

func (r *Radio) SetEventHandler(h func(ble.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// Emit delivers ev to the installed handler as the real radio would.
func (r *Radio) Emit(ev ble.Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (r *Radio) Scan(string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Scans++
	return nil
}

func (r *Radio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StopScans++
	return nil
}

func (r *Radio) Connect(id ble.PeripheralID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	r.Connects = append(r.Connects, id)
	return nil
}

func (r *Radio) Disconnect(id ble.PeripheralID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Disconnects = append(r.Disconnects, id)
	return nil
}

func (r *Radio) DiscoverServices(id ble.PeripheralID, _ ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ServiceReqs = append(r.ServiceReqs, id)
	return nil
}

func (r *Radio) DiscoverCharacteristics(svc ble.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CharReqs = append(r.CharReqs, svc)
	return nil
}

func (r *Radio) SetNotify(c ble.Characteristic, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notifies = append(r.Notifies, Notify{Characteristic: c, Enabled: enabled})
	return nil
}

func (r *Radio) Write(c ble.Characteristic, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.WriteErr != nil {
		return r.WriteErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	r.Writes = append(r.Writes, Write{Characteristic: c, Data: cp})
	return nil
}

func (r *Radio) ReadRSSI(id ble.PeripheralID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RSSIRequests = append(r.RSSIRequests, id)
	return nil
}

// Written returns a copy of every payload written so far.
func (r *Radio) Written() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.Writes))
	for i, w := range r.Writes {
		out[i] = w.Data
	}
	return out
}

// ClearWrites forgets recorded writes.
func (r *Radio) ClearWrites() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Writes = nil
}

var _ ble.Radio = (*Radio)(nil)
