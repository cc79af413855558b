package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings is the snapshot the link supervisor reads at each transition.
type Settings struct {
	AutoReconnect           bool
	FilterDevicePrefix      bool
	DevicePrefix            string
	LastConnectedDeviceName string
	SimulateDevice          bool
}

// SettingsStore hands out fresh snapshots and persists the last device.
type SettingsStore interface {
	Settings() Settings
	SetLastConnectedDevice(name string) error
}

type state struct {
	LastConnectedDevice string `yaml:"last_connected_device"`
}

// FileStore combines the static BMS config with a small YAML state file.
type FileStore struct {
	path string

	mu       sync.Mutex
	base     BMSConfig
	state    state
	override func(*Settings)
}

// OpenFileStore loads the state file at path if it exists.
func OpenFileStore(path string, bms BMSConfig) (*FileStore, error) {
	s := &FileStore{path: path, base: bms}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	return s, nil
}

// Override installs fn to adjust every snapshot, e.g. from command-line
// flags.
func (s *FileStore) Override(fn func(*Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = fn
}

// Settings returns the current snapshot.
func (s *FileStore) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Settings{
		AutoReconnect:           s.base.AutoReconnect,
		FilterDevicePrefix:      s.base.FilterDevicePrefix,
		DevicePrefix:            s.base.DevicePrefix,
		LastConnectedDeviceName: s.state.LastConnectedDevice,
		SimulateDevice:          s.base.SimulateDevice,
	}
	if s.override != nil {
		s.override(&out)
	}
	return out
}

// SetLastConnectedDevice records name and writes the state file atomically.
func (s *FileStore) SetLastConnectedDevice(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.LastConnectedDevice == name {
		return nil
	}
	s.state.LastConnectedDevice = name

	data, err := yaml.Marshal(&s.state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory SettingsStore.
type MemoryStore struct {
	mu sync.Mutex
	s  Settings
}

// NewMemoryStore returns a store holding s.
func NewMemoryStore(s Settings) *MemoryStore {
	return &MemoryStore{s: s}
}

func (m *MemoryStore) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}

func (m *MemoryStore) SetLastConnectedDevice(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.LastConnectedDeviceName = name
	return nil
}

// Update applies fn to the stored settings.
func (m *MemoryStore) Update(fn func(*Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.s)
}
