package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samaelod/duoclock/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Default()
	if cfg.LogLines != d.LogLines || cfg.ResyncWindow != 256 || cfg.ResyncDelayMs != 100 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if len(cfg.Presets) != len(d.Presets) {
		t.Errorf("got %d presets, want %d", len(cfg.Presets), len(d.Presets))
	}
	if _, ok := cfg.ProposedMode(); ok {
		t.Errorf("default config proposes a mode")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "duoclock.json", `{
		"log_lines": 50,
		"address": "10.0.0.5:4001",
		"propose_mode": "slave",
		"presets": [{"name": "Odds", "seconds_a": 300, "seconds_b": 120}]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLines != 50 || cfg.Address != "10.0.0.5:4001" {
		t.Errorf("fields not read: %+v", cfg)
	}
	if mode, ok := cfg.ProposedMode(); !ok || mode != types.ModeSlave {
		t.Errorf("ProposedMode = %s, %v", mode, ok)
	}
	if len(cfg.Presets) != 1 {
		t.Fatalf("presets = %+v", cfg.Presets)
	}
	a, b := cfg.Presets[0].Durations()
	if a != 5*time.Minute || b != 2*time.Minute {
		t.Errorf("durations = %v, %v", a, b)
	}
	if cfg.DialTimeoutMs != 5000 {
		t.Errorf("unset field lost its default: %d", cfg.DialTimeoutMs)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "duoclock.yaml", `
device: /dev/ttyUSB0
resync_window: 64
feed:
  nats_url: nats://localhost:4222
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device != "/dev/ttyUSB0" || cfg.ResyncWindow != 64 {
		t.Errorf("fields not read: %+v", cfg)
	}
	if cfg.Feed.NATSURL != "nats://localhost:4222" || cfg.Feed.Subject != "duoclock.snapshot" {
		t.Errorf("feed = %+v", cfg.Feed)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "c.json", `{"address": "file:1"}`)
	t.Setenv("DUOCLOCK_ADDRESS", "env:2")
	t.Setenv("DUOCLOCK_LOG_LINES", "7")
	t.Setenv("DUOCLOCK_DIAL_TIMEOUT_MS", "not a number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != "env:2" {
		t.Errorf("address = %q, want env:2", cfg.Address)
	}
	if cfg.LogLines != 7 {
		t.Errorf("log lines = %d, want 7", cfg.LogLines)
	}
	if cfg.DialTimeoutMs != 5000 {
		t.Errorf("bad env value replaced dial timeout: %d", cfg.DialTimeoutMs)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"mode":   `{"propose_mode": "boss"}`,
		"preset": `{"presets": [{"name": "zero", "seconds_a": 0, "seconds_b": 60}]}`,
		"syntax": `{"log_lines": `,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "c.json", body)); err == nil {
				t.Errorf("Load accepted %s", body)
			}
		})
	}
}
