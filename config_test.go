package pagewatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadBootstrapConfig_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagewatch.yaml")
	if err := os.WriteFile(path, []byte(`
targets:
  - url: https://example.com/page
    selector: "#content"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadBootstrapConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Path != "pagewatch.db" {
		t.Fatalf("expected default store path, got %q", cfg.Store.Path)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default server addr, got %q", cfg.Server.Addr)
	}
	if cfg.Agent.Mode != "browser" {
		t.Fatalf("expected default agent mode browser, got %q", cfg.Agent.Mode)
	}
	if cfg.Global.RefreshInterval != 60*time.Second {
		t.Fatalf("expected default refresh interval, got %v", cfg.Global.RefreshInterval)
	}
	if cfg.Global.ChangeDetection == nil || !*cfg.Global.ChangeDetection {
		t.Fatalf("expected default change detection true")
	}

	if len(cfg.Targets) != 1 {
		t.Fatalf("expected one target, got %d", len(cfg.Targets))
	}
	tc := cfg.Targets[0]
	if tc.ContentMode != "markup" {
		t.Fatalf("expected default content mode markup, got %q", tc.ContentMode)
	}
	if tc.Interval != cfg.Global.RefreshInterval {
		t.Fatalf("expected target interval to inherit global refresh interval")
	}
	if tc.ChangeDetection == nil || !*tc.ChangeDetection {
		t.Fatalf("expected target change detection to inherit global default")
	}
}

func TestLoadBootstrapConfig_MissingFileErrors(t *testing.T) {
	if _, err := LoadBootstrapConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing bootstrap file")
	}
}
