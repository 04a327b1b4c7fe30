package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cpapsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upload.Mode != "smart" {
		t.Errorf("mode = %q, want smart", cfg.Upload.Mode)
	}
	if cfg.Upload.SilenceSeconds != 300 || cfg.Upload.AccessMinutes != 5 || cfg.Upload.CooldownMinutes != 10 {
		t.Errorf("timing defaults = %d/%d/%d", cfg.Upload.SilenceSeconds, cfg.Upload.AccessMinutes, cfg.Upload.CooldownMinutes)
	}
	if !cfg.Storage.ReadOnly {
		t.Error("storage must default to read-only")
	}
	if cfg.Bus.SwitchGPIO != -1 {
		t.Errorf("switch_gpio default = %d, want -1", cfg.Bus.SwitchGPIO)
	}
}

func TestLoadFullFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
upload:
  mode: scheduled
  window_start_hour: 22
  window_end_hour: 6
  silence_seconds: 120
  access_minutes: 10
  cooldown_minutes: 15
  recent_days: 3
  max_days: 90
  tz_offset_hours: -5
  max_retry_attempts: 2
bus:
  counter_device: /sys/bus/counter/devices/counter0
  switch_gpio: 21
  settle_ms: 250
storage:
  device: /dev/mmcblk1p1
  mountpoint: /mnt/card
ledger:
  dir: /data/ledger
database:
  path: /data/history.db
status:
  listen: 0.0.0.0:8750
destinations:
  - name: nas
    type: share
    path: /mnt/nas/cpap
  - name: cloud
    type: http
    url: https://import.example.com/cpap
    username: importer
    password: hunter2
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upload.Mode != "scheduled" || cfg.Upload.WindowStartHour != 22 || cfg.Upload.WindowEndHour != 6 {
		t.Errorf("window = %s %d-%d", cfg.Upload.Mode, cfg.Upload.WindowStartHour, cfg.Upload.WindowEndHour)
	}
	if cfg.Upload.TZOffsetHours != -5 {
		t.Errorf("tz offset = %d, want -5", cfg.Upload.TZOffsetHours)
	}
	if cfg.Bus.SwitchGPIO != 21 || cfg.Bus.SettleMs != 250 {
		t.Errorf("bus = %+v", cfg.Bus)
	}
	if len(cfg.Destinations) != 2 {
		t.Fatalf("destinations = %d, want 2", len(cfg.Destinations))
	}
	if cfg.Destinations[1].Type != "http" || cfg.Destinations[1].Username != "importer" {
		t.Errorf("http destination = %+v", cfg.Destinations[1])
	}
}

func TestTimingValuesAreClamped(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
upload:
  silence_seconds: 5
  access_minutes: 120
  cooldown_minutes: 0
  recent_days: 0
  max_days: 0
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upload.SilenceSeconds != 10 {
		t.Errorf("silence clamped to %d, want 10", cfg.Upload.SilenceSeconds)
	}
	if cfg.Upload.AccessMinutes != 30 {
		t.Errorf("access clamped to %d, want 30", cfg.Upload.AccessMinutes)
	}
	if cfg.Upload.CooldownMinutes != 1 {
		t.Errorf("cooldown clamped to %d, want 1", cfg.Upload.CooldownMinutes)
	}
	if cfg.Upload.RecentDays != 1 || cfg.Upload.MaxDays != 1 {
		t.Errorf("day thresholds = %d/%d, want 1/1", cfg.Upload.RecentDays, cfg.Upload.MaxDays)
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad mode", func(c *Config) { c.Upload.Mode = "eager" }, "upload.mode"},
		{"bad start hour", func(c *Config) { c.Upload.WindowStartHour = 24 }, "window_start_hour"},
		{"missing ledger dir", func(c *Config) { c.Ledger.Dir = "" }, "ledger.dir"},
		{"unnamed destination", func(c *Config) {
			c.Destinations = []DestinationConfig{{Type: "share", Path: "/x"}}
		}, "name is required"},
		{"duplicate destination", func(c *Config) {
			c.Destinations = []DestinationConfig{
				{Name: "nas", Type: "share", Path: "/x"},
				{Name: "nas", Type: "share", Path: "/y"},
			}
		}, "duplicate"},
		{"share without path", func(c *Config) {
			c.Destinations = []DestinationConfig{{Name: "nas", Type: "share"}}
		}, "path is required"},
		{"http without url", func(c *Config) {
			c.Destinations = []DestinationConfig{{Name: "cloud", Type: "http"}}
		}, "url is required"},
		{"unknown type", func(c *Config) {
			c.Destinations = []DestinationConfig{{Name: "x", Type: "ftp", Path: "/x"}}
		}, "type must be"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted bad config")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
