package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chaz8081/bmslink/internal/api"
	"github.com/chaz8081/bmslink/internal/bms"
	"github.com/chaz8081/bmslink/internal/ble"
	"github.com/chaz8081/bmslink/internal/config"
	"github.com/chaz8081/bmslink/internal/diag"
	"github.com/chaz8081/bmslink/internal/link"
	"github.com/chaz8081/bmslink/internal/metrics"
	"github.com/chaz8081/bmslink/internal/publish"
)

var (
	monitorDevice   string
	monitorSimulate bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Connect to a battery monitor and stream telemetry",
	Long: `Scan, connect and poll a battery monitor until interrupted.

Without --device the last connected device is reconnected when
bms.auto_reconnect is set. With --device the first advertisement with that
name is connected.

Examples:
  bmslink monitor --device DXB-1A2B
  bmslink monitor --simulate`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorDevice, "device", "", "connect to the device with this advertised name")
	monitorCmd.Flags().BoolVar(&monitorSimulate, "simulate", false, "publish fixed readings from a simulated device")
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := config.OpenFileStore(cfg.StatePath, cfg.BMS)
	if err != nil {
		return err
	}
	store.Override(func(s *config.Settings) {
		if monitorDevice != "" {
			s.AutoReconnect = true
			s.LastConnectedDeviceName = monitorDevice
		}
		if monitorSimulate {
			s.SimulateDevice = true
		}
	})

	reg := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(reg)

	diagSink := diag.Nop()
	if f := cfg.Log.Diagnostics; f.File != "" {
		sink := diag.NewFile(diag.FileOptions{
			Path:       f.File,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		}, diag.Options{
			FramesPerSecond: f.FramesPerSecond,
			Buffer:          f.Buffer,
			Drops:           appMetrics,
		})
		defer sink.Close()
		diagSink = sink
		logger.Info("diagnostics enabled", zap.String("file", f.File))
	}

	fanout, closeSinks, err := buildSinks(ctx, cfg, reg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()
	queue := publish.NewQueue(fanout, 64, logger.Named("publish"))

	radio := ble.NewTinyGoRadio(logger.Named("ble"))
	sup, err := link.New(link.Options{
		Radio:              radio,
		Settings:           store,
		Logger:             logger,
		Diag:               diagSink,
		Metrics:            appMetrics,
		Observer:           &monitorObserver{queue: queue, logger: logger},
		ConnectTimeout:     cfg.BMS.ConnectTimeout,
		PollInterval:       cfg.BMS.PollInterval,
		RSSIInterval:       cfg.BMS.RSSIInterval,
		BatchWindow:        cfg.BMS.ScanBatchWindow,
		MaxStalls:          cfg.BMS.MaxStalls,
		StopScanWhenActive: true,
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	queueCtx, stopQueue := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Run(queueCtx)
	}()

	var srv *api.Server
	if cfg.Metrics.Addr != "" {
		gin.SetMode(gin.ReleaseMode)
		srv = api.New(cfg.Metrics.Addr, sup, metrics.Handler(reg), logger.Named("api"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(); err != nil {
				logger.Error("http server failed", zap.Error(err))
			}
		}()
	}

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	if !store.Settings().SimulateDevice {
		if err := radio.Enable(); err != nil {
			logger.Error("bluetooth unavailable", zap.Error(err))
			stop()
		}
	}
	logger.Info("ready, press Ctrl+C to quit")

	runErr := <-done
	logger.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}
	stopQueue()
	wg.Wait()

	if n := queue.Dropped(); n > 0 {
		logger.Warn("readings dropped", zap.Int64("count", n))
	}
	return runErr
}

// buildSinks assembles the telemetry fanout from the config. The returned
// func closes whatever was opened.
func buildSinks(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *zap.Logger) (*publish.Fanout, func(), error) {
	fanout := publish.NewFanout(logger.Named("publish"))
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	fanout.Add("console", publish.NewConsole(os.Stdout, cfg.BMS.TemperatureUnit))
	fanout.Add("gauges", publish.NewGauges(reg))

	if cfg.Record.Path != "" {
		rec, err := publish.OpenRecorder(cfg.Record.Path)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := rec.Close(); err != nil {
				logger.Warn("closing recording", zap.Error(err))
			}
		})
		fanout.Add("recorder", rec)
		logger.Info("recording telemetry", zap.String("path", cfg.Record.Path))
	}

	if cfg.Redis.Addr != "" {
		client, err := publish.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		fanout.Add("redis", publish.NewRedis(client, cfg.Redis.KeyPrefix, logger.Named("redis")))
		logger.Info("publishing to redis", zap.String("addr", cfg.Redis.Addr))
	}

	return fanout, closeAll, nil
}

// monitorObserver forwards telemetry to the publish queue and logs state
// changes. It runs on the supervisor's goroutine, so it must not block.
type monitorObserver struct {
	queue  *publish.Queue
	logger *zap.Logger
	last   link.State
}

func (o *monitorObserver) OnState(st link.Status) {
	if st.State == o.last {
		return
	}
	o.last = st.State
	fields := []zap.Field{zap.Stringer("state", st.State)}
	if st.Device != "" {
		fields = append(fields, zap.String("device", st.Device))
	}
	if st.LastError != "" && st.State == link.StateIdle {
		fields = append(fields, zap.String("reason", st.LastError))
	}
	o.logger.Info("link", fields...)
}

func (o *monitorObserver) OnPeripherals(refs []link.PeripheralRef) {
	o.logger.Debug("discovery", zap.Int("peripherals", len(refs)))
}

func (o *monitorObserver) OnTelemetry(device string, t bms.Telemetry) {
	o.queue.Offer(publish.Reading{Time: time.Now(), Device: device, Telemetry: t})
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	target := "last connected device"
	switch {
	case monitorSimulate:
		target = link.SimulatedDeviceName
	case monitorDevice != "":
		target = monitorDevice
	}
	fmt.Println("=== bmslink ===")
	fmt.Printf("  Device:   %s\n", target)
	fmt.Printf("  Filter:   %s\n", prefixSummary(cfg.BMS))
	fmt.Printf("  Poll:     %s\n", cfg.BMS.PollInterval)
	if cfg.Record.Path != "" {
		fmt.Printf("  Record:   %s\n", cfg.Record.Path)
	}
	if cfg.Redis.Addr != "" {
		fmt.Printf("  Redis:    %s\n", cfg.Redis.Addr)
	}
	if cfg.Metrics.Addr != "" {
		fmt.Printf("  HTTP:     %s\n", cfg.Metrics.Addr)
	}
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("===============")
}

func prefixSummary(b config.BMSConfig) string {
	if !b.FilterDevicePrefix {
		return "off"
	}
	return b.DevicePrefix + "*"
}
