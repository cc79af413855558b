package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/bmslink/internal/publish"
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Render a telemetry recording",
	Long: `Render every reading in a CBOR recording written by monitor with
record.path set.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening recording: %w", err)
	}
	defer f.Close()

	console := publish.NewConsole(cmd.OutOrStdout(), cfg.BMS.TemperatureUnit)
	n := 0
	err = publish.ReadRecording(f, func(r publish.Reading) error {
		n++
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", r.Time.Format("2006-01-02 15:04:05.000"))
		return console.Publish(cmd.Context(), r)
	})
	if err != nil {
		return fmt.Errorf("reading %s after %d readings: %w", args[0], n, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d readings\n", n)
	return nil
}
