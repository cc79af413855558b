package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.BMS.DevicePrefix != "DXB-" {
		t.Errorf("BMS.DevicePrefix = %q, want %q", cfg.BMS.DevicePrefix, "DXB-")
	}
	if !cfg.BMS.AutoReconnect || !cfg.BMS.FilterDevicePrefix {
		t.Error("AutoReconnect and FilterDevicePrefix should default to true")
	}
	if cfg.BMS.ConnectTimeout != 5*time.Second {
		t.Errorf("BMS.ConnectTimeout = %v, want 5s", cfg.BMS.ConnectTimeout)
	}
	if cfg.BMS.PollInterval != 300*time.Millisecond {
		t.Errorf("BMS.PollInterval = %v, want 300ms", cfg.BMS.PollInterval)
	}
	if cfg.BMS.RSSIInterval != 5*time.Second {
		t.Errorf("BMS.RSSIInterval = %v, want 5s", cfg.BMS.RSSIInterval)
	}
	if cfg.BMS.ScanBatchWindow != time.Second {
		t.Errorf("BMS.ScanBatchWindow = %v, want 1s", cfg.BMS.ScanBatchWindow)
	}
	if cfg.BMS.MaxStalls != 5 {
		t.Errorf("BMS.MaxStalls = %d, want 5", cfg.BMS.MaxStalls)
	}
	if cfg.Redis.KeyPrefix != "bms" {
		t.Errorf("Redis.KeyPrefix = %q, want %q", cfg.Redis.KeyPrefix, "bms")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
log_level: debug
log:
  format: json
  diagnostics:
    file: /tmp/bms-diag.log
    frames_per_second: 5
bms:
  auto_reconnect: false
  device_prefix: "JBD-"
  temperature_unit: fahrenheit
  connect_timeout: 8s
  poll_interval: 500ms
metrics:
  addr: ":9108"
redis:
  addr: "localhost:6379"
  db: 2
record:
  path: /tmp/bms.cbor
state_path: /tmp/bms-state.yaml
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Log.Diagnostics.File != "/tmp/bms-diag.log" || cfg.Log.Diagnostics.FramesPerSecond != 5 {
		t.Errorf("Log.Diagnostics = %+v", cfg.Log.Diagnostics)
	}
	if cfg.Log.Diagnostics.MaxSizeMB != 10 {
		t.Errorf("Log.Diagnostics.MaxSizeMB = %d, want default 10", cfg.Log.Diagnostics.MaxSizeMB)
	}
	if cfg.BMS.AutoReconnect {
		t.Error("BMS.AutoReconnect = true, want false")
	}
	if !cfg.BMS.FilterDevicePrefix {
		t.Error("BMS.FilterDevicePrefix should keep its default")
	}
	if cfg.BMS.DevicePrefix != "JBD-" {
		t.Errorf("BMS.DevicePrefix = %q, want %q", cfg.BMS.DevicePrefix, "JBD-")
	}
	if cfg.BMS.ConnectTimeout != 8*time.Second {
		t.Errorf("BMS.ConnectTimeout = %v, want 8s", cfg.BMS.ConnectTimeout)
	}
	if cfg.BMS.PollInterval != 500*time.Millisecond {
		t.Errorf("BMS.PollInterval = %v, want 500ms", cfg.BMS.PollInterval)
	}
	if cfg.Metrics.Addr != ":9108" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9108")
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 || cfg.Redis.KeyPrefix != "bms" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Record.Path != "/tmp/bms.cbor" {
		t.Errorf("Record.Path = %q", cfg.Record.Path)
	}
	if cfg.StatePath != "/tmp/bms-state.yaml" {
		t.Errorf("StatePath = %q", cfg.StatePath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
record:
  path: ~/bms/telemetry.cbor
state_path: ~/bms/state.yaml
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(home, "bms/telemetry.cbor"); cfg.Record.Path != want {
		t.Errorf("Record.Path = %q, want %q", cfg.Record.Path, want)
	}
	if want := filepath.Join(home, "bms/state.yaml"); cfg.StatePath != want {
		t.Errorf("StatePath = %q, want %q", cfg.StatePath, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("bms: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "invalid temperature unit",
			modify:  func(c *Config) { c.BMS.TemperatureUnit = "kelvin" },
			wantErr: true,
		},
		{
			name:    "empty prefix with filter",
			modify:  func(c *Config) { c.BMS.DevicePrefix = "" },
			wantErr: true,
		},
		{
			name: "empty prefix without filter",
			modify: func(c *Config) {
				c.BMS.DevicePrefix = ""
				c.BMS.FilterDevicePrefix = false
			},
			wantErr: false,
		},
		{
			name:    "zero connect timeout",
			modify:  func(c *Config) { c.BMS.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero poll interval",
			modify:  func(c *Config) { c.BMS.PollInterval = 0 },
			wantErr: true,
		},
		{
			name:    "zero max stalls",
			modify:  func(c *Config) { c.BMS.MaxStalls = 0 },
			wantErr: true,
		},
		{
			name: "diagnostics file without size",
			modify: func(c *Config) {
				c.Log.Diagnostics.File = "/tmp/diag.log"
				c.Log.Diagnostics.MaxSizeMB = 0
			},
			wantErr: true,
		},
		{
			name: "redis without key prefix",
			modify: func(c *Config) {
				c.Redis.Addr = "localhost:6379"
				c.Redis.KeyPrefix = ""
			},
			wantErr: true,
		},
		{
			name:    "empty state path",
			modify:  func(c *Config) { c.StatePath = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.StatePath = "/tmp/state.yaml"
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "bmslink", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# bmslink") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.BMS.ConnectTimeout != 5*time.Second {
		t.Errorf("written config BMS.ConnectTimeout = %v, want 5s", cfg.BMS.ConnectTimeout)
	}
	if cfg.BMS.DevicePrefix != "DXB-" {
		t.Errorf("written config BMS.DevicePrefix = %q, want %q", cfg.BMS.DevicePrefix, "DXB-")
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "bmslink")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"unknown", zapcore.InfoLevel}, // defaults to info
		{"", zapcore.InfoLevel},        // defaults to info
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
