package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "lane.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Sync.PageSize != 150 {
		t.Errorf("page_size = %d, want default 150", cfg.Sync.PageSize)
	}
	if cfg.Sync.ProbeInterval != 15*time.Second {
		t.Errorf("probe_interval = %v, want 15s", cfg.Sync.ProbeInterval)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lane.yaml")
	content := []byte(`
db_path: /var/lib/lane/lane.db
gateway:
  base_url: https://backoffice.example.com
sync:
  probe_interval: 5s
  page_size: 50
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DBPath != "/var/lib/lane/lane.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
	if cfg.Gateway.BaseURL != "https://backoffice.example.com" {
		t.Errorf("base_url = %q", cfg.Gateway.BaseURL)
	}
	if cfg.Sync.ProbeInterval != 5*time.Second {
		t.Errorf("probe_interval = %v, want 5s", cfg.Sync.ProbeInterval)
	}
	if cfg.Sync.PageSize != 50 {
		t.Errorf("page_size = %d, want 50", cfg.Sync.PageSize)
	}
	// Untouched keys keep their defaults.
	if cfg.Sync.SyncInterval != 60*time.Second {
		t.Errorf("sync_interval = %v, want default 60s", cfg.Sync.SyncInterval)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lane.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  page_size: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("negative page_size should be rejected")
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lane.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of the default file failed: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", cfg, DefaultConfig())
	}

	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault() should refuse to overwrite an existing file")
	}
}

func TestLoadOrCreateIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.toml")

	first, err := LoadOrCreateIdentity(path, "store-7")
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity() failed: %v", err)
	}
	if first.RegisterID == "" {
		t.Fatal("no register_id generated")
	}
	if first.StoreID != "store-7" {
		t.Errorf("store_id = %q, want store-7", first.StoreID)
	}

	// A second load returns the same identity, not a new one.
	second, err := LoadOrCreateIdentity(path, "store-ignored")
	if err != nil {
		t.Fatalf("second LoadOrCreateIdentity() failed: %v", err)
	}
	if second.RegisterID != first.RegisterID {
		t.Errorf("register_id changed across loads: %q vs %q", second.RegisterID, first.RegisterID)
	}
	if second.StoreID != "store-7" {
		t.Errorf("store_id = %q, want the stored store-7", second.StoreID)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lane.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  page_size: 150\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("sync:\n  page_size: 75\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-w.Updates():
		if cfg.Sync.PageSize != 75 {
			t.Errorf("reloaded page_size = %d, want 75", cfg.Sync.PageSize)
		}
	case err := <-w.Errors():
		t.Fatalf("unexpected reload error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcherReportsParseErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lane.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  page_size: 150\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("sync: [broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-w.Errors():
		// Reload failure surfaced; previous config stays in effect.
	case cfg := <-w.Updates():
		t.Fatalf("broken file produced a config: %+v", cfg)
	case <-time.After(5 * time.Second):
		t.Fatal("no error observed")
	}
}
