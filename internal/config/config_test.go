package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen.Port != 5432 {
		t.Errorf("Listen.Port = %d, want 5432", cfg.Listen.Port)
	}
	if !cfg.Provision.AutoProvision {
		t.Error("Provision.AutoProvision should default to true")
	}
	if cfg.Provision.MaxStartupMessageSize != 1<<20 {
		t.Errorf("MaxStartupMessageSize = %d, want %d", cfg.Provision.MaxStartupMessageSize, 1<<20)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
listen:
  host: 127.0.0.1
  port: 15432
backend:
  data_dir: /var/lib/pgfrontdoor
provision:
  auto_provision: false
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen.Host != "127.0.0.1" || cfg.Listen.Port != 15432 {
		t.Errorf("Listen = %+v, want host=127.0.0.1 port=15432", cfg.Listen)
	}
	if cfg.Backend.DataDir != "/var/lib/pgfrontdoor" {
		t.Errorf("Backend.DataDir = %q", cfg.Backend.DataDir)
	}
	if cfg.Provision.AutoProvision {
		t.Error("Provision.AutoProvision should be false from file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PGFRONTDOOR_LISTEN_PORT", "25432")
	t.Setenv("PGFRONTDOOR_AUTO_PROVISION", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen.Port != 25432 {
		t.Errorf("Listen.Port = %d, want 25432", cfg.Listen.Port)
	}
	if cfg.Provision.AutoProvision {
		t.Error("Provision.AutoProvision should be false from env")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() should error for a missing config file path")
	}
}

func TestGlobalPanicsBeforeSet(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Global() should panic before SetGlobal is called")
		}
	}()
	globalMu.Lock()
	globalCfg = nil
	globalMu.Unlock()
	Global()
}
