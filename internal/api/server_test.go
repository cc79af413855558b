package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/bmslink/internal/bms"
	"github.com/chaz8081/bmslink/internal/link"
)

type fakeSource struct {
	status link.Status
	refs   []link.PeripheralRef
}

func (f fakeSource) Status() link.Status               { return f.status }
func (f fakeSource) Peripherals() []link.PeripheralRef { return f.refs }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	pack := bms.SimulatedPack()
	cells := bms.CellVoltages{Values: []int{3300, 3320}}
	srv := New(":0", fakeSource{status: link.Status{
		State:     link.StateActive,
		PoweredOn: true,
		Device:    "DXB-1A2B",
		Mode:      bms.ModeLegacy,
		RSSI:      -61,
		Pack:      &pack,
		Cells:     &cells,
	}}, nil, nil)

	rec := get(t, srv.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "active", body.State)
	assert.Equal(t, "legacy", body.Mode)
	assert.Equal(t, -61, body.RSSI)
	require.NotNil(t, body.Pack)
	assert.Equal(t, int32(55350), body.Pack.VoltageMV)
	assert.Equal(t, "Discharging", body.Pack.State)
	require.Len(t, body.Pack.TemperaturesC, 3)
	assert.InDelta(t, 14.8, body.Pack.TemperaturesC[0], 1e-6)
	require.NotNil(t, body.Cells)
	assert.Equal(t, 20, body.Cells.DeltaMV)
}

func TestStatusEndpointIdle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := New(":0", fakeSource{}, nil, nil)

	rec := get(t, srv.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"idle","powered_on":false,"scanning":false,"simulated":false}`, rec.Body.String())
}

func TestPeripheralsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	seen := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := New(":0", fakeSource{refs: []link.PeripheralRef{
		{ID: "AA:BB", Name: "DXB-1A2B", RSSI: -60, LastSeen: seen},
	}}, nil, nil)

	rec := get(t, srv.Handler(), "/api/peripherals")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"AA:BB","name":"DXB-1A2B","rssi":-60,"last_seen":"2024-06-01T12:00:00Z"}]`, rec.Body.String())
}

func TestPeripheralsEndpointEmptyIsArray(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := New(":0", fakeSource{}, nil, nil)
	assert.JSONEq(t, `[]`, get(t, srv.Handler(), "/api/peripherals").Body.String())
}

func TestMetricsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("bmslink_up 1\n"))
	})
	srv := New(":0", fakeSource{}, metrics, nil)

	rec := get(t, srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bmslink_up 1")

	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/healthz").Code)
}

func TestMetricsRouteAbsentWithoutHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := New(":0", fakeSource{}, nil, nil)
	assert.Equal(t, http.StatusNotFound, get(t, srv.Handler(), "/metrics").Code)
}
