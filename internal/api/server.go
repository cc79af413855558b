// Package api serves the HTTP status endpoints next to /metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaz8081/bmslink/internal/bms"
	"github.com/chaz8081/bmslink/internal/link"
)

// StatusSource is implemented by *link.Supervisor.
type StatusSource interface {
	Status() link.Status
	Peripherals() []link.PeripheralRef
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// New builds the router. metricsHandler may be nil.
func New(addr string, src StatusSource, metricsHandler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}
	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, newStatusResponse(src.Status()))
	})
	r.GET("/api/peripherals", func(c *gin.Context) {
		refs := src.Peripherals()
		out := make([]peripheralResponse, 0, len(refs))
		for _, p := range refs {
			out = append(out, peripheralResponse{
				ID:       string(p.ID),
				Name:     p.Name,
				RSSI:     p.RSSI,
				LastSeen: p.LastSeen,
			})
		}
		c.JSON(http.StatusOK, out)
	})

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type statusResponse struct {
	State      string         `json:"state"`
	PoweredOn  bool           `json:"powered_on"`
	Scanning   bool           `json:"scanning"`
	Device     string         `json:"device,omitempty"`
	Peripheral string         `json:"peripheral,omitempty"`
	Mode       string         `json:"mode,omitempty"`
	Simulated  bool           `json:"simulated"`
	RSSI       int            `json:"rssi,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	Pack       *packResponse  `json:"pack,omitempty"`
	Cells      *cellsResponse `json:"cells,omitempty"`
}

type packResponse struct {
	State           string    `json:"state"`
	VoltageMV       int32     `json:"voltage_mv"`
	CurrentMA       int32     `json:"current_ma"`
	Percentage      int       `json:"percentage"`
	RemainingMAh    int32     `json:"remaining_mah"`
	FullMAh         int32     `json:"full_mah"`
	FactoryMAh      int32     `json:"factory_mah"`
	PowerW          float64   `json:"power_w"`
	TimeToGoSeconds int64     `json:"time_to_go_s"`
	TemperaturesC   []float64 `json:"temperatures_c"`
}

type cellsResponse struct {
	VoltagesMV []int `json:"voltages_mv"`
	MinMV      int   `json:"min_mv"`
	MaxMV      int   `json:"max_mv"`
	DeltaMV    int   `json:"delta_mv"`
}

type peripheralResponse struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	RSSI     int       `json:"rssi"`
	LastSeen time.Time `json:"last_seen"`
}

func newStatusResponse(st link.Status) statusResponse {
	out := statusResponse{
		State:      st.State.String(),
		PoweredOn:  st.PoweredOn,
		Scanning:   st.Scanning,
		Device:     st.Device,
		Peripheral: string(st.Peripheral),
		Simulated:  st.Simulated,
		RSSI:       st.RSSI,
		SessionID:  st.SessionID,
		LastError:  st.LastError,
	}
	if st.Device != "" {
		out.Mode = st.Mode.String()
	}
	if st.Pack != nil {
		out.Pack = newPackResponse(*st.Pack)
	}
	if st.Cells != nil {
		out.Cells = &cellsResponse{
			VoltagesMV: st.Cells.Values,
			MinMV:      st.Cells.Min(),
			MaxMV:      st.Cells.Max(),
			DeltaMV:    st.Cells.Delta(),
		}
	}
	return out
}

func newPackResponse(p bms.PackInfo) *packResponse {
	temps := make([]float64, len(p.Temperatures))
	for i, k := range p.Temperatures {
		temps[i] = k.Celsius()
	}
	return &packResponse{
		State:           p.State().String(),
		VoltageMV:       p.Voltage,
		CurrentMA:       p.Current,
		Percentage:      p.Percentage,
		RemainingMAh:    p.RemainingCharge,
		FullMAh:         p.FullCharge,
		FactoryMAh:      p.FactoryCapacity,
		PowerW:          p.Power(),
		TimeToGoSeconds: int64(p.TimeToGo().Seconds()),
		TemperaturesC:   temps,
	}
}
