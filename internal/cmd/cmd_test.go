package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "chainhunt" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "chainhunt")
	}
	cmdMap := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		cmdMap[c.Name()] = true
	}
	for _, want := range []string{"serve", "watch"} {
		if !cmdMap[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}

// newServeFlags returns a fresh command carrying serve's flags so tests do
// not leak parsed values into each other.
func newServeFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	fresh := &cobra.Command{Use: "serve"}
	fresh.Flags().StringP("config", "c", "", "")
	fresh.Flags().Int("port", 0, "")
	fresh.Flags().String("host", "", "")
	fresh.Flags().Int("bots", -1, "")
	fresh.Flags().String("log-level", "", "")
	fresh.Flags().Bool("strict-pursuers", false, "")
	if err := fresh.Flags().Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return fresh
}

func TestLoadServeConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chainhunt.yaml")
	body := "server:\n  port: 9000\nsession:\n  duration: 2m\nbots:\n  count: 2\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	c := newServeFlags(t, "--config", path, "--port", "9100", "--bots", "5", "--strict-pursuers")
	cfg, err := loadServeConfig(c)
	if err != nil {
		t.Fatalf("loadServeConfig() error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want flag value 9100", cfg.Server.Port)
	}
	if cfg.Session.Duration != 2*time.Minute {
		t.Errorf("duration = %v, want file value 2m", cfg.Session.Duration)
	}
	if cfg.Bots.Count != 5 || !cfg.Session.StrictPursuers {
		t.Errorf("bots=%d strict=%v", cfg.Bots.Count, cfg.Session.StrictPursuers)
	}
}

func TestLoadServeConfigRejectsInvalid(t *testing.T) {
	c := newServeFlags(t, "--bots", "3")
	t.Setenv("CHAINHUNT_BOTS_KILL_INTERVAL", "0s")
	if _, err := loadServeConfig(c); err == nil {
		t.Error("loadServeConfig() accepted bots with zero kill interval")
	}
}

func TestDeriveHTTPBase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ws://127.0.0.1:8080/ws", "http://127.0.0.1:8080"},
		{"wss://game.example/ws", "https://game.example"},
		{"::bad", "http://127.0.0.1:8080"},
	}
	for _, tt := range tests {
		if got := deriveHTTPBase(tt.in); got != tt.want {
			t.Errorf("deriveHTTPBase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
