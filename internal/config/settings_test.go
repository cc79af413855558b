package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreMissingStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "state.yaml")
	s, err := OpenFileStore(path, Default().BMS)
	if err != nil {
		t.Fatalf("OpenFileStore() error = %v", err)
	}

	got := s.Settings()
	if got.LastConnectedDeviceName != "" {
		t.Errorf("LastConnectedDeviceName = %q, want empty", got.LastConnectedDeviceName)
	}
	if !got.AutoReconnect || !got.FilterDevicePrefix || got.DevicePrefix != "DXB-" {
		t.Errorf("Settings() = %+v, want config defaults", got)
	}
}

func TestFileStorePersistsLastDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "state.yaml")
	s, err := OpenFileStore(path, Default().BMS)
	if err != nil {
		t.Fatalf("OpenFileStore() error = %v", err)
	}

	if err := s.SetLastConnectedDevice("DXB-1A2B"); err != nil {
		t.Fatalf("SetLastConnectedDevice() error = %v", err)
	}
	if got := s.Settings().LastConnectedDeviceName; got != "DXB-1A2B" {
		t.Errorf("LastConnectedDeviceName = %q, want DXB-1A2B", got)
	}

	reopened, err := OpenFileStore(path, Default().BMS)
	if err != nil {
		t.Fatalf("OpenFileStore() reopen error = %v", err)
	}
	if got := reopened.Settings().LastConnectedDeviceName; got != "DXB-1A2B" {
		t.Errorf("reopened LastConnectedDeviceName = %q, want DXB-1A2B", got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary state file left behind")
	}
}

func TestFileStoreCorruptStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("last_connected_device: [oops"), 0644); err != nil {
		t.Fatalf("failed to write state file: %v", err)
	}
	if _, err := OpenFileStore(path, Default().BMS); err == nil {
		t.Error("OpenFileStore() should fail on an unparseable state file")
	}
}

func TestFileStoreOverride(t *testing.T) {
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "state.yaml"), Default().BMS)
	if err != nil {
		t.Fatalf("OpenFileStore() error = %v", err)
	}
	s.Override(func(st *Settings) {
		st.LastConnectedDeviceName = "DXB-FFFF"
		st.SimulateDevice = true
	})

	got := s.Settings()
	if got.LastConnectedDeviceName != "DXB-FFFF" || !got.SimulateDevice {
		t.Errorf("Settings() = %+v, want override applied", got)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore(Settings{AutoReconnect: true})
	if err := m.SetLastConnectedDevice("DXB-0001"); err != nil {
		t.Fatalf("SetLastConnectedDevice() error = %v", err)
	}
	m.Update(func(s *Settings) { s.FilterDevicePrefix = true })

	got := m.Settings()
	if got.LastConnectedDeviceName != "DXB-0001" || !got.FilterDevicePrefix || !got.AutoReconnect {
		t.Errorf("Settings() = %+v", got)
	}
}
