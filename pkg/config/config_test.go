package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":8188" {
		t.Errorf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.EngineURL != "http://127.0.0.1:8189" {
		t.Errorf("engine_url = %q", cfg.EngineURL)
	}
	if cfg.EventMode != EventModeWebsocket {
		t.Errorf("event_mode = %q", cfg.EventMode)
	}
	if cfg.JobTimeout != 10*time.Minute {
		t.Errorf("job_timeout = %v", cfg.JobTimeout)
	}
	if cfg.MaxUploadBytes != 64<<20 {
		t.Errorf("max_upload_bytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.RetainCompleted != 24*time.Hour {
		t.Errorf("retain_completed = %v", cfg.RetainCompleted)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `listen_addr: ":9000"
engine_url: "http://gpu-box:8189"
event_mode: "poll"
poll_interval: 5s
log_level: "debug"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.EventMode != EventModePoll {
		t.Errorf("event_mode = %q", cfg.EventMode)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("poll_interval = %v", cfg.PollInterval)
	}
	// Unset keys keep their defaults
	if cfg.JobTimeout != 10*time.Minute {
		t.Errorf("job_timeout = %v", cfg.JobTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			ListenAddr:     ":8188",
			EngineURL:      "http://engine",
			EventMode:      EventModeWebsocket,
			PollInterval:   time.Second,
			JobTimeout:     time.Minute,
			MaxUploadBytes: 1 << 20,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty engine url", func(c *Config) { c.EngineURL = "" }, "engine_url"},
		{"bad event mode", func(c *Config) { c.EventMode = "carrier-pigeon" }, "event_mode"},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, "poll_interval"},
		{"negative job timeout", func(c *Config) { c.JobTimeout = -time.Second }, "job_timeout"},
		{"zero upload limit", func(c *Config) { c.MaxUploadBytes = 0 }, "max_upload_bytes"},
		{"cert without key", func(c *Config) { c.TLSCert = "server.crt" }, "tls_cert"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
