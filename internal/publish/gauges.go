package publish

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chaz8081/bmslink/internal/bms"
)

// Gauges exports the latest reading per device as Prometheus gauges.
type Gauges struct {
	voltage     *prometheus.GaugeVec
	current     *prometheus.GaugeVec
	soc         *prometheus.GaugeVec
	remaining   *prometheus.GaugeVec
	full        *prometheus.GaugeVec
	power       *prometheus.GaugeVec
	temperature *prometheus.GaugeVec
	cell        *prometheus.GaugeVec
	cellDelta   *prometheus.GaugeVec
}

// NewGauges registers the telemetry gauges with reg.
func NewGauges(reg prometheus.Registerer) *Gauges {
	vec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bmslink",
			Subsystem: "pack",
			Name:      name,
			Help:      help,
		}, append([]string{"device"}, labels...))
	}
	g := &Gauges{
		voltage:     vec("voltage_volts", "Pack voltage."),
		current:     vec("current_amps", "Pack current, positive while charging."),
		soc:         vec("state_of_charge_percent", "State of charge."),
		remaining:   vec("remaining_charge_amp_hours", "Remaining charge."),
		full:        vec("full_charge_amp_hours", "Full charge capacity."),
		power:       vec("power_watts", "Absolute power flow."),
		temperature: vec("temperature_celsius", "Pack temperature sensors.", "sensor"),
		cell:        vec("cell_voltage_volts", "Per-cell voltage.", "cell"),
		cellDelta:   vec("cell_delta_volts", "Spread between highest and lowest cell."),
	}
	reg.MustRegister(g.voltage, g.current, g.soc, g.remaining, g.full, g.power, g.temperature, g.cell, g.cellDelta)
	return g
}

func (g *Gauges) Publish(_ context.Context, r Reading) error {
	switch t := r.Telemetry.(type) {
	case bms.PackInfo:
		g.voltage.WithLabelValues(r.Device).Set(t.Volts())
		g.current.WithLabelValues(r.Device).Set(t.Amps())
		g.soc.WithLabelValues(r.Device).Set(float64(t.Percentage))
		g.remaining.WithLabelValues(r.Device).Set(float64(t.RemainingCharge) / 1000)
		g.full.WithLabelValues(r.Device).Set(float64(t.FullCharge) / 1000)
		g.power.WithLabelValues(r.Device).Set(t.Power())
		for i, k := range t.Temperatures {
			g.temperature.WithLabelValues(r.Device, strconv.Itoa(i)).Set(k.Celsius())
		}
	case bms.CellVoltages:
		for i, mv := range t.Values {
			g.cell.WithLabelValues(r.Device, strconv.Itoa(i+1)).Set(float64(mv) / 1000)
		}
		g.cellDelta.WithLabelValues(r.Device).Set(float64(t.Delta()) / 1000)
	default:
		return fmt.Errorf("gauges: unsupported telemetry %T", r.Telemetry)
	}
	return nil
}
