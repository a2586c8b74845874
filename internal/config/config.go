package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Session SessionConfig `yaml:"session" envPrefix:"SESSION_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
	Bots    BotsConfig    `yaml:"bots" envPrefix:"BOTS_"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" env:"PORT"`
	Host           string   `yaml:"host" env:"HOST"`
	AuthToken      string   `yaml:"auth_token" env:"AUTH_TOKEN"`
	HostToken      string   `yaml:"host_token" env:"HOST_TOKEN"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	MaxConnections int      `yaml:"max_connections" env:"MAX_CONNECTIONS"`
}

type SessionConfig struct {
	Duration       time.Duration `yaml:"duration" env:"DURATION"`
	TickInterval   time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	StrictPursuers bool          `yaml:"strict_pursuers" env:"STRICT_PURSUERS"`
	QueueSize      int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	InboxSize      int           `yaml:"inbox_size" env:"INBOX_SIZE"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// BotsConfig drives the simulated participant feed. Count zero disables it.
type BotsConfig struct {
	Count        int           `yaml:"count" env:"COUNT"`
	KillInterval time.Duration `yaml:"kill_interval" env:"KILL_INTERVAL"`
}

// EnvPrefix namespaces every environment override, e.g.
// CHAINHUNT_SERVER_PORT or CHAINHUNT_SESSION_DURATION.
const EnvPrefix = "CHAINHUNT_"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			MaxConnections: 256,
		},
		Session: SessionConfig{
			Duration:     10 * time.Minute,
			TickInterval: 100 * time.Millisecond,
			QueueSize:    64,
			InboxSize:    256,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Bots: BotsConfig{
			KillInterval: 5 * time.Second,
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefault is Load, except that an empty path or a missing file yields
// the defaults with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		cfg, err := Load(path)
		if err == nil || !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}
	return finish(defaultConfig())
}

func finish(cfg *Config) (*Config, error) {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("server.max_connections must be positive, got %d", c.Server.MaxConnections))
	}
	if c.Session.Duration <= 0 {
		errs = append(errs, fmt.Errorf("session.duration must be positive, got %s", c.Session.Duration))
	}
	if c.Session.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.tick_interval must be positive, got %s", c.Session.TickInterval))
	}
	if c.Session.QueueSize < 1 || c.Session.InboxSize < 1 {
		errs = append(errs, fmt.Errorf("session queue_size and inbox_size must be positive"))
	}
	if c.Bots.Count < 0 {
		errs = append(errs, fmt.Errorf("bots.count must not be negative, got %d", c.Bots.Count))
	}
	if c.Bots.Count > 0 && c.Bots.KillInterval <= 0 {
		errs = append(errs, fmt.Errorf("bots.kill_interval must be positive when bots are enabled"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GenerateToken returns a random 32-character hex token.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
