package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/physic"

	"inkpanel/internal/link"
	appLog "inkpanel/internal/log"
	"inkpanel/internal/model"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("first-run config mismatch (-want +got):\n%s", diff)
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if perm := st.Mode().Perm(); perm != 0o600 {
		t.Errorf("config mode = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("second Load() error: %v", err)
	}
	if diff := cmp.Diff(cfg, again); diff != "" {
		t.Errorf("reloaded config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDefaultWhenSaveFails(t *testing.T) {
	// A dangling symlink as the parent: the read reports not-exist but the
	// directory cannot be created.
	dir := t.TempDir()
	parent := filepath.Join(dir, "etc")
	if err := os.Symlink(filepath.Join(dir, "missing", "etc"), parent); err != nil {
		t.Fatalf("os.Symlink() error: %v", err)
	}
	path := filepath.Join(parent, "config.yaml")

	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	t.Cleanup(func() { appLog.SetOutput(os.Stderr) })

	cfg, err := Load(path)
	if err == nil {
		t.Fatal("Load() succeeded with an unwritable directory")
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("fallback config mismatch (-want +got):\n%s", diff)
	}
	if out := buf.String(); !strings.Contains(out, "[WARN] could not write default config") {
		t.Errorf("log output missing warning:\n%s", out)
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
listen: ":9000"
panel:
  source: static
  family: what
  width: 400
  height: 300
hardware:
  busy_pin: GPIO5
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.LogLevel != "info" {
		t.Errorf("listen=%q log_level=%q", cfg.Listen, cfg.LogLevel)
	}

	lc := cfg.LinkConfig()
	want := link.DefaultConfig
	want.Pins.Busy = "GPIO5"
	if diff := cmp.Diff(want, lc); diff != "" {
		t.Errorf("LinkConfig() mismatch (-want +got):\n%s", diff)
	}
	if lc.Speed != 488*physic.KiloHertz {
		t.Errorf("Speed = %v", lc.Speed)
	}

	p, err := cfg.Provider()
	if err != nil {
		t.Fatalf("Provider() error: %v", err)
	}
	desc, err := p.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if desc.Family() != model.FamilyWhat || desc.Width != 400 || desc.Height != 300 {
		t.Errorf("static descriptor = %v", desc)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad cron":      "refresh: \"every tuesday\"\n",
		"bad level":     "log_level: loud\n",
		"bad source":    "panel:\n  source: usb\n",
		"bad family":    "panel:\n  source: static\n  family: lcd\n  width: 1\n  height: 1\n",
		"missing sizes": "panel:\n  source: static\n  family: e673\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Errorf("Load() accepted %q", body)
			}
		})
	}
}

func TestRefreshOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefreshCron = "off"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.RefreshEnabled() {
		t.Error("RefreshEnabled() = true for off")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.BasicAuth = &BasicAuthConfig{Username: "ink", Password: "secret"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
