package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilAppMetricsIsSafe(t *testing.T) {
	var m *AppMetrics
	m.FrameSent("get_info")
	m.AckSent()
	m.AckIgnored()
	m.PageReceived()
	m.MalformedPage()
	m.ChecksumError()
	m.ShortMessage()
	m.Resync()
	m.MessageDecoded("cell_volt")
	m.UnknownOpcode()
	m.ModeSwitch()
	m.Stall()
	m.Transition("active", 5)
	m.Disconnect("requested")
	m.Timeout("connect")
	m.DiagnosticDropped()
	m.SetRSSI(-60)
}

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	return rec.Body.String()
}

func TestAppMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAppMetrics(reg)

	m.FrameSent("get_info")
	m.FrameSent("get_info")
	m.FrameSent("cell_volt")
	m.Transition("active", 5)
	m.Disconnect("connect_timeout")

	body := scrape(t, reg)
	for _, want := range []string{
		`bmslink_frames_sent_total{opcode="get_info"} 2`,
		`bmslink_frames_sent_total{opcode="cell_volt"} 1`,
		`bmslink_link_state 5`,
		`bmslink_link_disconnects_total{reason="connect_timeout"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := NewRegistry()
	m := NewAppMetrics(reg)
	m.AckSent()

	if !strings.Contains(scrape(t, reg), "bmslink_acks_sent_total 1") {
		t.Error("response does not contain bmslink_acks_sent_total 1")
	}
}
