package publish

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/bmslink/internal/bms"
)

func TestConsoleRendersPack(t *testing.T) {
	c := NewConsole(&bytes.Buffer{}, Celsius)
	out := c.Render(packReading())

	for _, want := range []string{
		"DXB-1A2B",
		"Discharging",
		"55.35 V",
		"-7.47 A",
		"413.3 W",
		"85 %",
		"Time to empty",
		"14.8 °C",
		"18.3 °C",
	} {
		assert.Contains(t, out, want)
	}
}

func TestConsoleFahrenheit(t *testing.T) {
	c := NewConsole(&bytes.Buffer{}, Fahrenheit)
	out := c.Render(Reading{Device: "d", Telemetry: bms.PackInfo{
		Temperatures: []bms.Kelvin{273.15},
	}})
	assert.Contains(t, out, "32.0 °F")
	assert.NotContains(t, out, "Time to", "idle pack has no time estimate")
}

func TestConsoleChargingLabel(t *testing.T) {
	c := NewConsole(&bytes.Buffer{}, Celsius)
	out := c.Render(Reading{Device: "d", Telemetry: bms.PackInfo{
		Current:         10000,
		RemainingCharge: 50000,
		FullCharge:      100000,
	}})
	assert.Contains(t, out, "Time to full")
	assert.Contains(t, out, "5h 00m")
}

func TestConsoleRendersCells(t *testing.T) {
	c := NewConsole(&bytes.Buffer{}, Celsius)
	out := c.Render(Reading{Device: "DXB-1A2B", Telemetry: bms.SimulatedCells()})

	assert.Contains(t, out, "cells (14)")
	assert.Contains(t, out, "3.398 V")
	assert.Contains(t, out, "3.465 V")
	assert.Contains(t, out, "67 mV")
}

func TestConsolePublishWrites(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, Celsius)
	require.NoError(t, c.Publish(context.Background(), Reading{
		Time:      time.Now(),
		Device:    "DXB-1A2B",
		Telemetry: bms.SimulatedCells(),
	}))
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42m", formatDuration(42*time.Minute))
	assert.Equal(t, "2h 05m", formatDuration(2*time.Hour+5*time.Minute))
}
