package ble

// Event is a radio callback. The concrete types below are the only
// implementations.
type Event interface {
	isEvent()
}

// StateChanged reports the adapter's power state.
type StateChanged struct {
	PoweredOn bool
}

// Discovered reports an advertisement seen while scanning.
type Discovered struct {
	Peripheral Peripheral
	RSSI       int
}

// Connected reports a link established by Connect.
type Connected struct {
	Peripheral Peripheral
}

// Disconnected reports a link that went down. Err is nil for a requested
// disconnect.
type Disconnected struct {
	Peripheral PeripheralID
	Err        error
}

// ConnectFailed reports a Connect that did not produce a link.
type ConnectFailed struct {
	Peripheral PeripheralID
	Err        error
}

// ServicesFound reports the result of DiscoverServices.
type ServicesFound struct {
	Peripheral PeripheralID
	Services   []Service
	Err        error
}

// CharacteristicsFound reports the result of DiscoverCharacteristics.
type CharacteristicsFound struct {
	Service         Service
	Characteristics []Characteristic
	Err             error
}

// RSSIRead reports the result of ReadRSSI.
type RSSIRead struct {
	Peripheral PeripheralID
	RSSI       int
	Err        error
}

// ValueUpdated reports a notification from a subscribed characteristic.
type ValueUpdated struct {
	Characteristic Characteristic
	Value          []byte
}

func (StateChanged) isEvent()         {}
func (Discovered) isEvent()           {}
func (Connected) isEvent()            {}
func (Disconnected) isEvent()         {}
func (ConnectFailed) isEvent()        {}
func (ServicesFound) isEvent()        {}
func (CharacteristicsFound) isEvent() {}
func (RSSIRead) isEvent()             {}
func (ValueUpdated) isEvent()         {}
