// Package ble abstracts the BLE central role the BMS link needs: scanning,
// connecting, GATT discovery, notifications and writes. All results arrive
// asynchronously as Events delivered to a single handler.
package ble

// BMS GATT UUIDs. The service carries one write characteristic and one or
// more notifying characteristics.
const (
	ServiceUUID   = "0000fff0-0000-1000-8000-00805f9b34fb"
	WriteCharUUID = "0000fff3-0000-1000-8000-00805f9b34fb"
)

// PeripheralID identifies a peripheral for the lifetime of the adapter.
// It is a MAC address on Linux and Windows and a CoreBluetooth UUID on macOS.
type PeripheralID string

// Peripheral is a discovered or connected remote device.
type Peripheral struct {
	ID   PeripheralID
	Name string
}

// Service is a GATT service on a connected peripheral.
type Service struct {
	Peripheral PeripheralID
	UUID       string
}

// Properties is the set of GATT characteristic properties.
type Properties uint8

const (
	PropRead Properties = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
	PropIndicate
)

// Has reports whether all of want are set.
func (p Properties) Has(want Properties) bool {
	return p&want == want
}

// Characteristic is a GATT characteristic within a discovered service.
type Characteristic struct {
	Service    Service
	UUID       string
	Properties Properties
}

// Notifiable reports whether the characteristic can push values.
func (c Characteristic) Notifiable() bool {
	return c.Properties&(PropNotify|PropIndicate) != 0
}

// Radio abstracts the BLE adapter for testing. Every method returns
// immediately; outcomes are reported as Events to the handler installed with
// SetEventHandler. A non-nil error means the request was not issued.
type Radio interface {
	// SetEventHandler installs the callback for all radio events. It must be
	// called before any other method.
	SetEventHandler(h func(Event))
	// Scan starts discovering peripherals. A non-empty serviceUUID limits
	// results to peripherals advertising it.
	Scan(serviceUUID string) error
	// StopScan stops an active scan. It is a no-op when not scanning.
	StopScan() error
	// Connect starts connecting to a previously discovered peripheral.
	Connect(id PeripheralID) error
	// Disconnect tears down a link or cancels a pending connect.
	Disconnect(id PeripheralID) error
	// DiscoverServices looks up the named services on a connected peripheral.
	DiscoverServices(id PeripheralID, uuids ...string) error
	// DiscoverCharacteristics enumerates the characteristics of svc.
	DiscoverCharacteristics(svc Service) error
	// SetNotify enables or disables value notifications on c.
	SetNotify(c Characteristic, enabled bool) error
	// Write sends data to c without waiting for a response.
	Write(c Characteristic, data []byte) error
	// ReadRSSI requests the signal strength of a connected peripheral.
	ReadRSSI(id PeripheralID) error
}
