package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chaz8081/bmslink/internal/config"
	"github.com/chaz8081/bmslink/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "bmslink",
	Short: "Bluetooth LE battery monitor client",
	Long: `bmslink discovers battery management systems over Bluetooth LE, unlocks
them, and polls pack and cell telemetry.

Telemetry is rendered to the terminal and can also be recorded to a CBOR
file, published to Redis and exported as Prometheus metrics.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.config/bmslink/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
}

// setup loads and validates the config and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, loadedFrom, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation: %w", err)
	}

	logger := logging.InitLogger(config.ParseLogLevel(cfg.LogLevel), cfg.Log.Format)
	if loadedFrom != "" {
		logger.Info("config loaded", zap.String("path", loadedFrom))
	} else {
		logger.Info("no config file found, using defaults")
	}
	return cfg, logger, nil
}

// loadConfig loads the config from path, or from the default path when it
// exists, or falls back to built-in defaults. It also returns the file read.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, defaultPath, nil
	}

	return config.Default(), "", nil
}
