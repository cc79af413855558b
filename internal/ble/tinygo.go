package ble

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// ErrPeripheralDisconnected is the Disconnected error for a link that dropped
// without being asked to.
var ErrPeripheralDisconnected = errors.New("ble: peripheral disconnected")

// ErrUnknownPeripheral is returned for ids that were never discovered or
// connected.
var ErrUnknownPeripheral = errors.New("ble: unknown peripheral")

// allProperties is reported for every discovered characteristic. tinygo
// does not expose GATT property flags on all platforms.
const allProperties = PropRead | PropWrite | PropWriteWithoutResponse | PropNotify

type serviceKey struct {
	id   PeripheralID
	uuid string
}

type charKey struct {
	id   PeripheralID
	uuid string
}

// TinyGoRadio implements Radio on top of tinygo-org/bluetooth. The blocking
// tinygo calls run on their own goroutines and report back through the event
// handler.
type TinyGoRadio struct {
	adapter *bluetooth.Adapter
	logger  *zap.Logger

	mu        sync.Mutex
	handler   func(Event)
	scanning  bool
	addrs     map[PeripheralID]bluetooth.Address
	names     map[PeripheralID]string
	rssi      map[PeripheralID]int
	devices   map[PeripheralID]bluetooth.Device
	services  map[serviceKey]bluetooth.DeviceService
	chars     map[charKey]bluetooth.DeviceCharacteristic
	pending   map[PeripheralID]bool // connect issued, no result yet
	cancelled map[PeripheralID]bool // Disconnect called while pending
	requested map[PeripheralID]bool // Disconnect called on a live link
}

// NewTinyGoRadio creates a radio on the platform's default adapter.
func NewTinyGoRadio(logger *zap.Logger) *TinyGoRadio {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TinyGoRadio{
		adapter:   bluetooth.DefaultAdapter,
		logger:    logger,
		handler:   func(Event) {},
		addrs:     make(map[PeripheralID]bluetooth.Address),
		names:     make(map[PeripheralID]string),
		rssi:      make(map[PeripheralID]int),
		devices:   make(map[PeripheralID]bluetooth.Device),
		services:  make(map[serviceKey]bluetooth.DeviceService),
		chars:     make(map[charKey]bluetooth.DeviceCharacteristic),
		pending:   make(map[PeripheralID]bool),
		cancelled: make(map[PeripheralID]bool),
		requested: make(map[PeripheralID]bool),
	}
}

// SetEventHandler installs h as the destination of all radio events.
func (r *TinyGoRadio) SetEventHandler(h func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *TinyGoRadio) emit(ev Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	h(ev)
}

// Enable powers on the adapter and reports the result as a StateChanged
// event. tinygo has no power-state notifications, so this is the only one.
func (r *TinyGoRadio) Enable() error {
	if err := r.adapter.Enable(); err != nil {
		r.emit(StateChanged{PoweredOn: false})
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := PeripheralID(device.Address.String())
		r.mu.Lock()
		_, known := r.devices[id]
		requested := r.requested[id]
		r.forgetLocked(id)
		r.mu.Unlock()
		if !known {
			return
		}
		var err error
		if !requested {
			err = ErrPeripheralDisconnected
		}
		r.logger.Info("peripheral disconnected", zap.String("peripheral", string(id)), zap.Bool("requested", requested))
		r.emit(Disconnected{Peripheral: id, Err: err})
	})

	r.emit(StateChanged{PoweredOn: true})
	return nil
}

func (r *TinyGoRadio) forgetLocked(id PeripheralID) {
	delete(r.devices, id)
	delete(r.requested, id)
	for k := range r.services {
		if k.id == id {
			delete(r.services, k)
		}
	}
	for k := range r.chars {
		if k.id == id {
			delete(r.chars, k)
		}
	}
}

// Scan starts a background scan. An empty serviceUUID reports every named
// peripheral. Calling Scan while scanning is a no-op.
func (r *TinyGoRadio) Scan(serviceUUID string) error {
	var (
		filter bool
		uuid   bluetooth.UUID
	)
	if serviceUUID != "" {
		var err error
		uuid, err = bluetooth.ParseUUID(NormalizeUUID(serviceUUID))
		if err != nil {
			return fmt.Errorf("ble: parse service UUID: %w", err)
		}
		filter = true
	}

	r.mu.Lock()
	if r.scanning {
		r.mu.Unlock()
		return nil
	}
	r.scanning = true
	r.mu.Unlock()

	go func() {
		err := r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if filter && !result.HasServiceUUID(uuid) {
				return
			}
			id := PeripheralID(result.Address.String())
			name := result.LocalName()
			rssi := int(result.RSSI)

			r.mu.Lock()
			r.addrs[id] = result.Address
			if name == "" {
				name = r.names[id]
			} else {
				r.names[id] = name
			}
			r.rssi[id] = rssi
			r.mu.Unlock()

			r.emit(Discovered{Peripheral: Peripheral{ID: id, Name: name}, RSSI: rssi})
		})

		r.mu.Lock()
		r.scanning = false
		r.mu.Unlock()
		if err != nil {
			r.logger.Warn("scan ended", zap.Error(err))
		}
	}()
	return nil
}

// StopScan stops the background scan.
func (r *TinyGoRadio) StopScan() error {
	r.mu.Lock()
	scanning := r.scanning
	r.mu.Unlock()
	if !scanning {
		return nil
	}
	if err := r.adapter.StopScan(); err != nil {
		return fmt.Errorf("ble: stop scan: %w", err)
	}
	return nil
}

// Connect starts a connection to id. The underlying tinygo call cannot be
// interrupted; a Disconnect issued meanwhile drops the link as soon as it
// comes up.
func (r *TinyGoRadio) Connect(id PeripheralID) error {
	r.mu.Lock()
	addr, ok := r.addrs[id]
	name := r.names[id]
	if r.pending[id] {
		r.mu.Unlock()
		return nil
	}
	r.pending[id] = true
	delete(r.cancelled, id)
	r.mu.Unlock()

	if !ok {
		addr.Set(string(id))
	}

	go func() {
		device, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})

		r.mu.Lock()
		delete(r.pending, id)
		cancelled := r.cancelled[id]
		delete(r.cancelled, id)
		if err == nil && !cancelled {
			r.devices[id] = device
		}
		r.mu.Unlock()

		switch {
		case err != nil:
			if cancelled {
				return
			}
			r.emit(ConnectFailed{Peripheral: id, Err: fmt.Errorf("ble: connect to %s: %w", id, err)})
		case cancelled:
			r.logger.Debug("dropping link for cancelled connect", zap.String("peripheral", string(id)))
			if derr := device.Disconnect(); derr != nil {
				r.logger.Warn("disconnect after cancelled connect", zap.Error(derr))
			}
		default:
			r.emit(Connected{Peripheral: Peripheral{ID: id, Name: name}})
		}
	}()
	return nil
}

// Disconnect drops the link to id or cancels a pending connect.
func (r *TinyGoRadio) Disconnect(id PeripheralID) error {
	r.mu.Lock()
	if r.pending[id] {
		r.cancelled[id] = true
		r.mu.Unlock()
		return nil
	}
	device, ok := r.devices[id]
	if ok {
		r.requested[id] = true
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := device.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect %s: %w", id, err)
	}
	return nil
}

// DiscoverServices looks up uuids on the connected peripheral id.
func (r *TinyGoRadio) DiscoverServices(id PeripheralID, uuids ...string) error {
	parsed := make([]bluetooth.UUID, 0, len(uuids))
	for _, u := range uuids {
		p, err := bluetooth.ParseUUID(NormalizeUUID(u))
		if err != nil {
			return fmt.Errorf("ble: parse service UUID %q: %w", u, err)
		}
		parsed = append(parsed, p)
	}

	r.mu.Lock()
	device, ok := r.devices[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeripheral, id)
	}

	go func() {
		svcs, err := device.DiscoverServices(parsed)
		if err != nil {
			r.emit(ServicesFound{Peripheral: id, Err: fmt.Errorf("ble: discover services: %w", err)})
			return
		}
		found := make([]Service, 0, len(svcs))
		r.mu.Lock()
		for _, s := range svcs {
			u := NormalizeUUID(s.UUID().String())
			r.services[serviceKey{id, u}] = s
			found = append(found, Service{Peripheral: id, UUID: u})
		}
		r.mu.Unlock()
		r.emit(ServicesFound{Peripheral: id, Services: found})
	}()
	return nil
}

// DiscoverCharacteristics enumerates every characteristic of svc.
func (r *TinyGoRadio) DiscoverCharacteristics(svc Service) error {
	r.mu.Lock()
	s, ok := r.services[serviceKey{svc.Peripheral, NormalizeUUID(svc.UUID)}]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: service %s on %s", ErrUnknownPeripheral, svc.UUID, svc.Peripheral)
	}

	go func() {
		chars, err := s.DiscoverCharacteristics(nil)
		if err != nil {
			r.emit(CharacteristicsFound{Service: svc, Err: fmt.Errorf("ble: discover characteristics: %w", err)})
			return
		}
		found := make([]Characteristic, 0, len(chars))
		r.mu.Lock()
		for _, c := range chars {
			u := NormalizeUUID(c.UUID().String())
			r.chars[charKey{svc.Peripheral, u}] = c
			found = append(found, Characteristic{Service: svc, UUID: u, Properties: allProperties})
		}
		r.mu.Unlock()
		r.emit(CharacteristicsFound{Service: svc, Characteristics: found})
	}()
	return nil
}

func (r *TinyGoRadio) characteristic(c Characteristic) (bluetooth.DeviceCharacteristic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.chars[charKey{c.Service.Peripheral, NormalizeUUID(c.UUID)}]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: characteristic %s on %s", ErrUnknownPeripheral, c.UUID, c.Service.Peripheral)
	}
	return ch, nil
}

// SetNotify subscribes to or unsubscribes from c.
func (r *TinyGoRadio) SetNotify(c Characteristic, enabled bool) error {
	ch, err := r.characteristic(c)
	if err != nil {
		return err
	}
	if !enabled {
		return ch.EnableNotifications(nil)
	}
	err = ch.EnableNotifications(func(buf []byte) {
		value := make([]byte, len(buf))
		copy(value, buf)
		r.emit(ValueUpdated{Characteristic: c, Value: value})
	})
	if err != nil {
		return fmt.Errorf("ble: enable notifications on %s: %w", c.UUID, err)
	}
	return nil
}

// Write sends data to c using write-without-response.
func (r *TinyGoRadio) Write(c Characteristic, data []byte) error {
	ch, err := r.characteristic(c)
	if err != nil {
		return err
	}
	if _, err := ch.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("ble: write %s: %w", c.UUID, err)
	}
	return nil
}

// ReadRSSI reports the last advertised RSSI for id.
func (r *TinyGoRadio) ReadRSSI(id PeripheralID) error {
	r.mu.Lock()
	rssi, ok := r.rssi[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeripheral, id)
	}
	go r.emit(RSSIRead{Peripheral: id, RSSI: rssi})
	return nil
}

// Compile-time check that TinyGoRadio implements Radio.
var _ Radio = (*TinyGoRadio)(nil)
