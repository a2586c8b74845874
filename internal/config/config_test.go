package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Session.Duration != 10*time.Minute {
		t.Errorf("Session.Duration = %v, want 10m", cfg.Session.Duration)
	}
	if cfg.Session.TickInterval != 100*time.Millisecond {
		t.Errorf("Session.TickInterval = %v, want 100ms", cfg.Session.TickInterval)
	}
	if cfg.Session.StrictPursuers {
		t.Error("StrictPursuers should default to false")
	}
	if cfg.Log.Level != "info" || !cfg.Metrics.Enabled {
		t.Errorf("Log=%+v Metrics=%+v", cfg.Log, cfg.Metrics)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host_token: secret
  allowed_origins: ["http://localhost:3000"]
session:
  duration: 90s
  strict_pursuers: true
bots:
  count: 4
  kill_interval: 2s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.HostToken != "secret" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Session.Duration != 90*time.Second || !cfg.Session.StrictPursuers {
		t.Errorf("Session = %+v", cfg.Session)
	}
	// Unset keys keep their defaults.
	if cfg.Session.TickInterval != 100*time.Millisecond {
		t.Errorf("TickInterval = %v, want default", cfg.Session.TickInterval)
	}
	if cfg.Bots.Count != 4 || cfg.Bots.KillInterval != 2*time.Second {
		t.Errorf("Bots = %+v", cfg.Bots)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CHAINHUNT_SERVER_PORT", "7000")
	t.Setenv("CHAINHUNT_SESSION_DURATION", "45s")
	t.Setenv("CHAINHUNT_LOG_LEVEL", "debug")
	t.Setenv("CHAINHUNT_SERVER_ALLOWED_ORIGINS", "http://a,http://b")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want env value 7000", cfg.Server.Port)
	}
	if cfg.Session.Duration != 45*time.Second {
		t.Errorf("Session.Duration = %v, want 45s", cfg.Session.Duration)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of missing file did not fail")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}

	if _, err := LoadOrDefault(writeConfig(t, "server: [oops\n")); err == nil {
		t.Error("LoadOrDefault() swallowed a parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero duration", func(c *Config) { c.Session.Duration = 0 }, "session.duration"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero tick", func(c *Config) { c.Session.TickInterval = 0 }, "tick_interval"},
		{"bots without interval", func(c *Config) { c.Bots.Count = 3; c.Bots.KillInterval = 0 }, "bots.kill_interval"},
		{"no connections", func(c *Config) { c.Server.MaxConnections = 0 }, "max_connections"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}
	b, _ := GenerateToken()
	if len(a) != 32 {
		t.Errorf("token length = %d, want 32", len(a))
	}
	if a == b {
		t.Error("two tokens are identical")
	}
}

func TestAddr(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.Addr(); got != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", got)
	}
}
