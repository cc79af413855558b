package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const appName = "bmslink"

// Config holds all application configuration.
type Config struct {
	LogLevel  string        `yaml:"log_level"`
	Log       LogConfig     `yaml:"log"`
	BMS       BMSConfig     `yaml:"bms"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Redis     RedisConfig   `yaml:"redis"`
	Record    RecordConfig  `yaml:"record"`
	StatePath string        `yaml:"state_path"`
}

// LogConfig holds logging output settings.
type LogConfig struct {
	Format      string            `yaml:"format"` // "console" or "json"
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// DiagnosticsConfig locates the diagnostics trail. An empty File disables it.
type DiagnosticsConfig struct {
	File            string  `yaml:"file"`
	MaxSizeMB       int     `yaml:"max_size_mb"`
	MaxBackups      int     `yaml:"max_backups"`
	MaxAgeDays      int     `yaml:"max_age_days"`
	Compress        bool    `yaml:"compress"`
	FramesPerSecond float64 `yaml:"frames_per_second"`
	Buffer          int     `yaml:"buffer"`
}

// BMSConfig holds the link and protocol settings.
type BMSConfig struct {
	AutoReconnect      bool          `yaml:"auto_reconnect"`
	FilterDevicePrefix bool          `yaml:"filter_device_prefix"`
	DevicePrefix       string        `yaml:"device_prefix"`
	SimulateDevice     bool          `yaml:"simulate_device"`
	TemperatureUnit    string        `yaml:"temperature_unit"` // "celsius" or "fahrenheit"
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	RSSIInterval       time.Duration `yaml:"rssi_interval"`
	ScanBatchWindow    time.Duration `yaml:"scan_batch_window"`
	MaxStalls          int           `yaml:"max_stalls"`
}

// MetricsConfig holds the HTTP listen address for /metrics and /api. An
// empty Addr disables the server.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig enables telemetry publishing when Addr is set.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RecordConfig enables CBOR telemetry recording when Path is set.
type RecordConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName)
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultStatePath returns where the last connected device is remembered.
func DefaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", appName, "state.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Log: LogConfig{
			Format: "console",
			Diagnostics: DiagnosticsConfig{
				MaxSizeMB:       10,
				MaxBackups:      3,
				MaxAgeDays:      28,
				FramesPerSecond: 20,
				Buffer:          256,
			},
		},
		BMS: BMSConfig{
			AutoReconnect:      true,
			FilterDevicePrefix: true,
			DevicePrefix:       "DXB-",
			TemperatureUnit:    "celsius",
			ConnectTimeout:     5 * time.Second,
			PollInterval:       300 * time.Millisecond,
			RSSIInterval:       5 * time.Second,
			ScanBatchWindow:    time.Second,
			MaxStalls:          5,
		},
		Redis: RedisConfig{
			KeyPrefix: "bms",
		},
		StatePath: DefaultStatePath(),
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in file paths is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.StatePath = expandTilde(cfg.StatePath)
	cfg.Record.Path = expandTilde(cfg.Record.Path)
	cfg.Log.Diagnostics.File = expandTilde(cfg.Log.Diagnostics.File)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be \"console\" or \"json\", got %q", c.Log.Format)
	}

	switch c.BMS.TemperatureUnit {
	case "celsius", "fahrenheit":
	default:
		return fmt.Errorf("bms.temperature_unit must be \"celsius\" or \"fahrenheit\", got %q", c.BMS.TemperatureUnit)
	}

	if c.BMS.FilterDevicePrefix && c.BMS.DevicePrefix == "" {
		return fmt.Errorf("bms.device_prefix must not be empty when bms.filter_device_prefix is set")
	}
	if c.BMS.ConnectTimeout <= 0 {
		return fmt.Errorf("bms.connect_timeout must be > 0")
	}
	if c.BMS.PollInterval <= 0 {
		return fmt.Errorf("bms.poll_interval must be > 0")
	}
	if c.BMS.RSSIInterval <= 0 {
		return fmt.Errorf("bms.rssi_interval must be > 0")
	}
	if c.BMS.ScanBatchWindow <= 0 {
		return fmt.Errorf("bms.scan_batch_window must be > 0")
	}
	if c.BMS.MaxStalls <= 0 {
		return fmt.Errorf("bms.max_stalls must be > 0")
	}

	if c.Log.Diagnostics.File != "" && c.Log.Diagnostics.MaxSizeMB <= 0 {
		return fmt.Errorf("log.diagnostics.max_size_mb must be > 0")
	}
	if c.Log.Diagnostics.FramesPerSecond < 0 {
		return fmt.Errorf("log.diagnostics.frames_per_second must not be negative")
	}

	if c.Redis.Addr != "" && c.Redis.KeyPrefix == "" {
		return fmt.Errorf("redis.key_prefix must not be empty when redis.addr is set")
	}

	if c.StatePath == "" {
		return fmt.Errorf("state_path must not be empty")
	}

	return nil
}

// ParseLogLevel maps a config log level to a zap level. Unknown values
// default to info.
func ParseLogLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the path written, or "" when a config already
// exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	content := append([]byte("# bmslink configuration\n"), data...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
