// Package metrics holds the Prometheus registry and the protocol and link
// counters. Every AppMetrics method is safe to call on a nil receiver.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bmslink"

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler exposing reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics are the protocol and link counters.
type AppMetrics struct {
	FramesSent      *prometheus.CounterVec // labels: opcode
	AcksSent        prometheus.Counter
	AcksIgnored     prometheus.Counter
	PagesReceived   prometheus.Counter
	MalformedPages  prometheus.Counter
	ChecksumErrors  prometheus.Counter
	ShortMessages   prometheus.Counter
	Resyncs         prometheus.Counter
	MessagesDecoded *prometheus.CounterVec // labels: opcode
	UnknownOpcodes  prometheus.Counter
	ModeSwitches    prometheus.Counter
	Stalls          prometheus.Counter
	Transitions     *prometheus.CounterVec // labels: state
	Disconnects     *prometheus.CounterVec // labels: reason
	Timeouts        *prometheus.CounterVec // labels: phase
	DiagDropped     prometheus.Counter
	LinkState       prometheus.Gauge
	RSSI            prometheus.Gauge
}

// NewAppMetrics registers and returns the application metrics.
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Command frames written to the device.",
		}, []string{"opcode"}),
		AcksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_sent_total",
			Help:      "Acknowledgements echoed to the device.",
		}),
		AcksIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_ignored_total",
			Help:      "Inbound acknowledgement pages ignored.",
		}),
		PagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_received_total",
			Help:      "Well-formed inbound pages.",
		}),
		MalformedPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_pages_total",
			Help:      "Inbound pages dropped as malformed.",
		}),
		ChecksumErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_errors_total",
			Help:      "Reassembled messages discarded for a bad checksum.",
		}),
		ShortMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "short_messages_total",
			Help:      "Messages discarded for being too short to decode.",
		}),
		Resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resyncs_total",
			Help:      "Partial messages abandoned for a new first page.",
		}),
		MessagesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_decoded_total",
			Help:      "Verified messages by opcode.",
		}, []string{"opcode"}),
		UnknownOpcodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_opcodes_total",
			Help:      "Messages with an unrecognized opcode.",
		}),
		ModeSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_mode_switches_total",
			Help:      "Sessions that fell back to the legacy protocol.",
		}),
		Stalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_stalls_total",
			Help:      "Poll ticks skipped while a response was in flight.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_transitions_total",
			Help:      "Link state transitions by target state.",
		}, []string{"state"}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_disconnects_total",
			Help:      "Link teardowns by reason.",
		}, []string{"reason"}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_timeouts_total",
			Help:      "Connection deadlines that fired, by phase.",
		}, []string{"phase"}),
		DiagDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_dropped_total",
			Help:      "Diagnostics entries dropped under backpressure or rate limiting.",
		}),
		LinkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "Current link state as its numeric code.",
		}),
		RSSI: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_rssi_dbm",
			Help:      "Last RSSI read from the connected device.",
		}),
	}
	reg.MustRegister(
		m.FramesSent, m.AcksSent, m.AcksIgnored, m.PagesReceived, m.MalformedPages,
		m.ChecksumErrors, m.ShortMessages, m.Resyncs, m.MessagesDecoded, m.UnknownOpcodes, m.ModeSwitches,
		m.Stalls, m.Transitions, m.Disconnects, m.Timeouts, m.DiagDropped, m.LinkState, m.RSSI,
	)
	return m
}

func (m *AppMetrics) FrameSent(opcode string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(opcode).Inc()
}

func (m *AppMetrics) AckSent() {
	if m == nil {
		return
	}
	m.AcksSent.Inc()
}

func (m *AppMetrics) AckIgnored() {
	if m == nil {
		return
	}
	m.AcksIgnored.Inc()
}

func (m *AppMetrics) PageReceived() {
	if m == nil {
		return
	}
	m.PagesReceived.Inc()
}

func (m *AppMetrics) MalformedPage() {
	if m == nil {
		return
	}
	m.MalformedPages.Inc()
}

func (m *AppMetrics) ChecksumError() {
	if m == nil {
		return
	}
	m.ChecksumErrors.Inc()
}

func (m *AppMetrics) ShortMessage() {
	if m == nil {
		return
	}
	m.ShortMessages.Inc()
}

func (m *AppMetrics) Resync() {
	if m == nil {
		return
	}
	m.Resyncs.Inc()
}

func (m *AppMetrics) MessageDecoded(opcode string) {
	if m == nil {
		return
	}
	m.MessagesDecoded.WithLabelValues(opcode).Inc()
}

func (m *AppMetrics) UnknownOpcode() {
	if m == nil {
		return
	}
	m.UnknownOpcodes.Inc()
}

func (m *AppMetrics) ModeSwitch() {
	if m == nil {
		return
	}
	m.ModeSwitches.Inc()
}

func (m *AppMetrics) Stall() {
	if m == nil {
		return
	}
	m.Stalls.Inc()
}

// Transition records entry into state and updates the state gauge.
func (m *AppMetrics) Transition(state string, code int) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(state).Inc()
	m.LinkState.Set(float64(code))
}

func (m *AppMetrics) Disconnect(reason string) {
	if m == nil {
		return
	}
	m.Disconnects.WithLabelValues(reason).Inc()
}

func (m *AppMetrics) Timeout(phase string) {
	if m == nil {
		return
	}
	m.Timeouts.WithLabelValues(phase).Inc()
}

func (m *AppMetrics) DiagnosticDropped() {
	if m == nil {
		return
	}
	m.DiagDropped.Inc()
}

func (m *AppMetrics) SetRSSI(dbm int) {
	if m == nil {
		return
	}
	m.RSSI.Set(float64(dbm))
}
