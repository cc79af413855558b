package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/bmslink/internal/bms"
	"github.com/chaz8081/bmslink/internal/ble"
	"github.com/chaz8081/bmslink/internal/config"
	"github.com/chaz8081/bmslink/internal/link"
)

var scanDuration time.Duration

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby battery monitors",
	Long: `Power on the adapter, scan for devices advertising the BMS service and
print the discovery list once per batch window.

Only names matching bms.device_prefix are listed when
bms.filter_device_prefix is set.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "how long to scan")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, scanDuration)
	defer cancel()

	radio := ble.NewTinyGoRadio(logger.Named("ble"))
	sup, err := link.New(link.Options{
		Radio: radio,
		Settings: config.NewMemoryStore(config.Settings{
			FilterDevicePrefix: cfg.BMS.FilterDevicePrefix,
			DevicePrefix:       cfg.BMS.DevicePrefix,
		}),
		Logger:      logger,
		BatchWindow: cfg.BMS.ScanBatchWindow,
		Observer:    &scanObserver{out: cmd.OutOrStdout()},
	})
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	if err := radio.Enable(); err != nil {
		cancel()
		<-done
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Scanning for %s...\n", scanDuration)
	return <-done
}

// scanObserver prints each batched discovery list.
type scanObserver struct {
	out io.Writer
}

func (o *scanObserver) OnState(link.Status)               {}
func (o *scanObserver) OnTelemetry(string, bms.Telemetry) {}

func (o *scanObserver) OnPeripherals(refs []link.PeripheralRef) {
	if len(refs) == 0 {
		return
	}
	fmt.Fprintf(o.out, "\n%-20s %-40s %s\n", "NAME", "ID", "RSSI")
	for _, r := range refs {
		fmt.Fprintf(o.out, "%-20s %-40s %d dBm\n", r.Name, r.ID, r.RSSI)
	}
}

var _ link.Observer = (*scanObserver)(nil)
