// Package bms implements the BMS application protocol on top of the paged
// wire format: the unlock handshake, response decoding, legacy firmware
// fallback and the polling scheduler.
package bms

import (
	"math"
	"time"
)

// Kelvin is a temperature in kelvin.
type Kelvin float64

// KelvinFromRaw converts a device reading in tenths of a kelvin.
func KelvinFromRaw(raw uint16) Kelvin {
	return Kelvin(raw) / 10
}

// Celsius returns k in degrees Celsius.
func (k Kelvin) Celsius() float64 {
	return float64(k) - 273.15
}

// Fahrenheit returns k in degrees Fahrenheit.
func (k Kelvin) Fahrenheit() float64 {
	return k.Celsius()*9/5 + 32
}

// ChargeState is derived from the sign of the pack current.
type ChargeState int

const (
	Idle ChargeState = iota
	Charging
	Discharging
)

func (s ChargeState) String() string {
	switch s {
	case Charging:
		return "Charging"
	case Discharging:
		return "Discharging"
	default:
		return "Idle"
	}
}

// Telemetry is a decoded reading published outward. PackInfo and
// CellVoltages are the only implementations.
type Telemetry interface {
	isTelemetry()
}

// PackInfo is the pack-level reading. Voltage is in millivolts, current in
// milliamps (positive while charging), charges in milliamp-hours.
type PackInfo struct {
	Voltage         int32
	Current         int32
	Percentage      int
	RemainingCharge int32
	FullCharge      int32
	FactoryCapacity int32
	Temperatures    []Kelvin
}

// State reports whether the pack is charging, discharging or idle.
func (p PackInfo) State() ChargeState {
	switch {
	case p.Current > 0:
		return Charging
	case p.Current < 0:
		return Discharging
	default:
		return Idle
	}
}

// Volts returns the pack voltage in volts.
func (p PackInfo) Volts() float64 { return float64(p.Voltage) / 1000 }

// Amps returns the pack current in amps.
func (p PackInfo) Amps() float64 { return float64(p.Current) / 1000 }

// Power returns the absolute power flow in watts.
func (p PackInfo) Power() float64 {
	return math.Abs(p.Volts() * p.Amps())
}

// TimeToGo estimates time to full while charging and time to empty while
// discharging. It is zero when idle or when the estimate is negative.
func (p PackInfo) TimeToGo() time.Duration {
	var hours float64
	switch p.State() {
	case Charging:
		hours = float64(p.FullCharge-p.RemainingCharge) / float64(p.Current)
	case Discharging:
		hours = float64(p.RemainingCharge) / math.Abs(float64(p.Current))
	default:
		return 0
	}
	if hours <= 0 {
		return 0
	}
	return time.Duration(hours * float64(time.Hour)).Truncate(time.Minute)
}

// CellVoltages lists per-cell voltages in millivolts.
type CellVoltages struct {
	Values []int
}

// Min returns the lowest cell voltage, or 0 when there are no cells.
func (c CellVoltages) Min() int {
	if len(c.Values) == 0 {
		return 0
	}
	low := c.Values[0]
	for _, v := range c.Values[1:] {
		low = min(low, v)
	}
	return low
}

// Max returns the highest cell voltage, or 0 when there are no cells.
func (c CellVoltages) Max() int {
	if len(c.Values) == 0 {
		return 0
	}
	high := c.Values[0]
	for _, v := range c.Values[1:] {
		high = max(high, v)
	}
	return high
}

// Delta returns Max - Min.
func (c CellVoltages) Delta() int {
	return c.Max() - c.Min()
}

func (PackInfo) isTelemetry()     {}
func (CellVoltages) isTelemetry() {}

// SimulatedPack is the fixed reading published in simulated-device mode.
func SimulatedPack() PackInfo {
	return PackInfo{
		Voltage:         55350,
		Current:         -7467,
		Percentage:      85,
		RemainingCharge: 18276,
		FullCharge:      15974,
		FactoryCapacity: 200000,
		Temperatures:    []Kelvin{287.95, 288.05, 291.45},
	}
}

// SimulatedCells is the fixed cell reading published in simulated-device
// mode.
func SimulatedCells() CellVoltages {
	return CellVoltages{Values: []int{
		3465, 3435, 3398,
		3412, 3465, 3411,
		3450, 3399, 3451,
		3444, 3428, 3460,
		3411, 3429,
	}}
}
