package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
hub:
  refresh_interval: 5s
  send_buffer: 8
feed:
  type: http
  url: https://odds.example.com/v1/events
  format: oddsapi
channel:
  backoff_factor: 1.5
  sports: [football, tennis]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Hub.RefreshInterval != 5*time.Second {
		t.Errorf("RefreshInterval = %v, want 5s", cfg.Hub.RefreshInterval)
	}
	if cfg.Hub.SendBuffer != 8 {
		t.Errorf("SendBuffer = %d, want 8", cfg.Hub.SendBuffer)
	}
	if cfg.Hub.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want default 30s", cfg.Hub.HeartbeatInterval)
	}
	if cfg.Feed.Format != "oddsapi" {
		t.Errorf("Feed.Format = %q, want oddsapi", cfg.Feed.Format)
	}
	if cfg.Channel.BackoffFactor != 1.5 {
		t.Errorf("BackoffFactor = %v, want 1.5", cfg.Channel.BackoffFactor)
	}
	if len(cfg.Channel.Sports) != 2 {
		t.Errorf("Sports = %v, want 2 entries", cfg.Channel.Sports)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ODDS_FEED_URL", "https://feed.example.com")
	t.Setenv("ODDS_LISTEN_ADDR", ":9999")

	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Feed.Type != "http" || cfg.Feed.URL != "https://feed.example.com" {
		t.Errorf("Feed = %+v, want http feed from env", cfg.Feed)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("Server.Addr = %q, want :9999", cfg.Server.Addr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad storage", func(c *Config) { c.Storage.Type = "s3" }, true},
		{"file without dir", func(c *Config) { c.Storage.Type = "file"; c.Storage.OutputDir = "" }, true},
		{"http without url", func(c *Config) { c.Feed.Type = "http" }, true},
		{"bad format", func(c *Config) { c.Feed.Type = "http"; c.Feed.URL = "x"; c.Feed.Format = "xml" }, true},
		{"shrinking backoff", func(c *Config) { c.Channel.BackoffFactor = 0.5 }, true},
		{"max below initial", func(c *Config) { c.Channel.MaxBackoff = time.Millisecond }, true},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
