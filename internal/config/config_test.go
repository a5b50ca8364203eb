// v0
// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got, want := cfg.ReservoirLitersPerMeter, 375000.0; got != want {
		t.Fatalf("liters per meter mismatch: got %.1f want %.1f", got, want)
	}
	if cfg.TileWidth != 10*time.Second || cfg.TileCapacity != 18 {
		t.Fatalf("unexpected tile defaults: %s x %d", cfg.TileWidth, cfg.TileCapacity)
	}
}

func TestLoadLayersPropertiesThenEnv(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "sctk.properties")
	body := "# service settings\n" +
		"listen_address=:8080\n" +
		"source_mode=sse\n" +
		"sse_urls=http://a/events, http://b/events\n" +
		"qc_pull_interval=30s\n" +
		"tile_capacity=12\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write properties: %v", err)
	}
	t.Setenv("SCTK_PROPERTIES_PATH", path)
	t.Setenv("SCTK_TILE_CAPACITY", " 24 ")
	t.Setenv("SCTK_HTTP_READ_TIMEOUT_MS", "1500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ListenAddress != ":8080" {
		t.Fatalf("listen address mismatch: %q", cfg.ListenAddress)
	}
	if cfg.SourceMode != ModeSSE {
		t.Fatalf("source mode mismatch: %q", cfg.SourceMode)
	}
	if len(cfg.SSEURLs) != 2 || cfg.SSEURLs[1] != "http://b/events" {
		t.Fatalf("sse urls mismatch: %v", cfg.SSEURLs)
	}
	if cfg.QCPullInterval != 30*time.Second {
		t.Fatalf("qc interval mismatch: %s", cfg.QCPullInterval)
	}
	if cfg.TileCapacity != 24 {
		t.Fatalf("env should override properties: got %d", cfg.TileCapacity)
	}
	if cfg.HTTPReadTimeout != 1500*time.Millisecond {
		t.Fatalf("read timeout mismatch: %s", cfg.HTTPReadTimeout)
	}
}

func TestLoadRejectsMalformedProperties(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "bad.properties")
	if err := os.WriteFile(path, []byte("listen_address\n"), 0o644); err != nil {
		t.Fatalf("write properties: %v", err)
	}
	t.Setenv("SCTK_PROPERTIES_PATH", path)
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected line error, got %v", err)
	}
}

func TestSetRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key, value string
	}{
		{"source_mode", "carrier-pigeon"},
		{"tile_capacity", "0"},
		{"poll_interval", "-3"},
		{"http_read_timeout_ms", "abc"},
		{"no_such_key", "1"},
		{"reset_on_reconnect", "sometimes"},
	}
	for _, tc := range cases {
		cfg := Default()
		if err := Set(&cfg, tc.key, tc.value); err == nil {
			t.Fatalf("expected error for %s=%s", tc.key, tc.value)
		}
	}
}

func TestSetStreamSettings(t *testing.T) {
	cfg := Default()
	if cfg.ResetOnReconnect {
		t.Fatalf("tiles should survive reconnects by default")
	}
	if err := Set(&cfg, "RESET_ON_RECONNECT", "true"); err != nil {
		t.Fatalf("Set reset_on_reconnect: %v", err)
	}
	if err := Set(&cfg, "events_keepalive", "30s"); err != nil {
		t.Fatalf("Set events_keepalive: %v", err)
	}
	if !cfg.ResetOnReconnect || cfg.EventsKeepAlive != 30*time.Second {
		t.Fatalf("unexpected stream settings: %v %s", cfg.ResetOnReconnect, cfg.EventsKeepAlive)
	}
}

func TestSetScheduleSettings(t *testing.T) {
	cfg := Default()
	if cfg.ScheduleReloadInterval != 10*time.Second {
		t.Fatalf("unexpected default reload interval %s", cfg.ScheduleReloadInterval)
	}
	if err := Set(&cfg, "schedule_path", "/data/jadwal.json"); err != nil {
		t.Fatalf("Set schedule_path: %v", err)
	}
	if err := Set(&cfg, "schedule_reload_interval", "30"); err != nil {
		t.Fatalf("Set schedule_reload_interval: %v", err)
	}
	if cfg.SchedulePath != "/data/jadwal.json" || cfg.ScheduleReloadInterval != 30*time.Second {
		t.Fatalf("unexpected schedule settings: %q %s", cfg.SchedulePath, cfg.ScheduleReloadInterval)
	}
	if err := Set(&cfg, "schedule_reload_interval", "0"); err == nil {
		t.Fatalf("zero reload interval should be rejected")
	}
}

func TestParseDurationAcceptsSeconds(t *testing.T) {
	d, err := parseDuration("2.5")
	if err != nil {
		t.Fatalf("parseDuration error: %v", err)
	}
	if d != 2500*time.Millisecond {
		t.Fatalf("duration mismatch: %s", d)
	}
}

func TestValidateModeRequirements(t *testing.T) {
	cfg := Default()
	cfg.SourceMode = ModePoll
	if err := cfg.Validate(); err == nil {
		t.Fatalf("poll mode without urls should fail")
	}
	cfg.PollLatestURL = "http://upstream/api/latest"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("poll mode with url should pass: %v", err)
	}
	cfg.KafkaTopic = "sctk.telemetry"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("kafka topic without brokers should fail")
	}
}
