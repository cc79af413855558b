package publish

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/bmslink/internal/bms"
)

// gauge returns the value of the named gauge whose labels include want.
func gauge(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("gauge %s%v not found", name, want)
	return 0
}

func TestGaugesPack(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewGauges(reg)
	require.NoError(t, g.Publish(context.Background(), packReading()))

	dev := map[string]string{"device": "DXB-1A2B"}
	assert.InDelta(t, 55.35, gauge(t, reg, "bmslink_pack_voltage_volts", dev), 1e-9)
	assert.InDelta(t, -7.467, gauge(t, reg, "bmslink_pack_current_amps", dev), 1e-9)
	assert.InDelta(t, 85, gauge(t, reg, "bmslink_pack_state_of_charge_percent", dev), 1e-9)
	assert.InDelta(t, 18.3, gauge(t, reg, "bmslink_pack_temperature_celsius",
		map[string]string{"device": "DXB-1A2B", "sensor": "2"}), 1e-6)
}

func TestGaugesCells(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewGauges(reg)
	require.NoError(t, g.Publish(context.Background(), Reading{
		Device:    "DXB-1A2B",
		Telemetry: bms.CellVoltages{Values: []int{3300, 3350}},
	}))

	assert.InDelta(t, 3.35, gauge(t, reg, "bmslink_pack_cell_voltage_volts",
		map[string]string{"device": "DXB-1A2B", "cell": "2"}), 1e-9)
	assert.InDelta(t, 0.05, gauge(t, reg, "bmslink_pack_cell_delta_volts",
		map[string]string{"device": "DXB-1A2B"}), 1e-9)
}
