package publish

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/chaz8081/bmslink/internal/bms"
)

// Temperature units accepted by Console.
const (
	Celsius    = "celsius"
	Fahrenheit = "fahrenheit"
)

// Console renders readings for a terminal.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	unit string

	title lipgloss.Style
	label lipgloss.Style
	value lipgloss.Style
	warn  lipgloss.Style
	box   lipgloss.Style
}

// NewConsole writes rendered readings to w. unit is Celsius or Fahrenheit.
func NewConsole(w io.Writer, unit string) *Console {
	if unit != Fahrenheit {
		unit = Celsius
	}
	return &Console{
		w:    w,
		unit: unit,
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Padding(0, 1),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		warn: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
	}
}

func (c *Console) Publish(_ context.Context, r Reading) error {
	out := c.Render(r)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, out)
	return err
}

// Render formats one reading.
func (c *Console) Render(r Reading) string {
	switch t := r.Telemetry.(type) {
	case bms.PackInfo:
		return c.renderPack(r.Device, t)
	case bms.CellVoltages:
		return c.renderCells(r.Device, t)
	default:
		return fmt.Sprintf("%s: unsupported reading %T", r.Device, r.Telemetry)
	}
}

func (c *Console) pair(label, value string) string {
	return c.label.Render(label) + " " + c.value.Render(value)
}

func (c *Console) renderPack(device string, p bms.PackInfo) string {
	var b strings.Builder
	b.WriteString(c.title.Render(device) + " " + c.warnIf(p.State() == bms.Discharging, p.State().String()))
	b.WriteString("\n")
	b.WriteString(strings.Join([]string{
		c.pair("Voltage", fmt.Sprintf("%.2f V", p.Volts())),
		c.pair("Current", fmt.Sprintf("%.2f A", p.Amps())),
		c.pair("Power", fmt.Sprintf("%.1f W", p.Power())),
	}, "   "))
	b.WriteString("\n")
	b.WriteString(strings.Join([]string{
		c.pair("SOC", fmt.Sprintf("%d %%", p.Percentage)),
		c.pair("Remaining", fmt.Sprintf("%.2f Ah", float64(p.RemainingCharge)/1000)),
		c.pair("Full", fmt.Sprintf("%.2f Ah", float64(p.FullCharge)/1000)),
		c.pair("Factory", fmt.Sprintf("%.2f Ah", float64(p.FactoryCapacity)/1000)),
	}, "   "))

	if ttg := p.TimeToGo(); ttg > 0 {
		label := "Time to empty"
		if p.State() == bms.Charging {
			label = "Time to full"
		}
		b.WriteString("\n" + c.pair(label, formatDuration(ttg)))
	}
	if len(p.Temperatures) > 0 {
		temps := make([]string, len(p.Temperatures))
		for i, k := range p.Temperatures {
			temps[i] = c.temperature(k)
		}
		b.WriteString("\n" + c.pair("Temperatures", strings.Join(temps, "  ")))
	}
	return c.box.Render(b.String())
}

func (c *Console) renderCells(device string, v bms.CellVoltages) string {
	var b strings.Builder
	b.WriteString(c.title.Render(fmt.Sprintf("%s cells (%d)", device, len(v.Values))))
	b.WriteString("\n")
	b.WriteString(strings.Join([]string{
		c.pair("Min", fmt.Sprintf("%.3f V", float64(v.Min())/1000)),
		c.pair("Max", fmt.Sprintf("%.3f V", float64(v.Max())/1000)),
		c.pair("Delta", fmt.Sprintf("%d mV", v.Delta())),
	}, "   "))

	const perRow = 4
	for i, mv := range v.Values {
		if i%perRow == 0 {
			b.WriteString("\n")
		} else {
			b.WriteString("  ")
		}
		b.WriteString(c.pair(fmt.Sprintf("%2d", i+1), fmt.Sprintf("%.3f", float64(mv)/1000)))
	}
	return c.box.Render(b.String())
}

func (c *Console) warnIf(cond bool, s string) string {
	if cond {
		return c.warn.Render(s)
	}
	return c.value.Render(s)
}

func (c *Console) temperature(k bms.Kelvin) string {
	if c.unit == Fahrenheit {
		return fmt.Sprintf("%.1f °F", k.Fahrenheit())
	}
	return fmt.Sprintf("%.1f °C", k.Celsius())
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %02dm", h, m)
}
