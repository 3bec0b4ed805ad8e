// Package config loads the game sandbox configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Listen       string             `yaml:"listen"`
	Service      ServiceConfig      `yaml:"service"`
	LocalBackend LocalBackendConfig `yaml:"local_backend"`
	Limits       LimitsConfig       `yaml:"limits"`
	Store        StoreConfig        `yaml:"store"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServiceConfig locates the remote generation service.
type ServiceConfig struct {
	WSURL          string `yaml:"ws_url"`
	HealthURL      string `yaml:"health_url"`
	CreatePath     string `yaml:"create_path"`
	EditPath       string `yaml:"edit_path"`
	DialTimeout    string `yaml:"dial_timeout"`
	HealthTimeout  string `yaml:"health_timeout"`
	EditRetryDelay string `yaml:"edit_retry_delay"`
}

// LocalBackendConfig runs the generation service in a local container.
type LocalBackendConfig struct {
	Image         string `yaml:"image"`
	ContainerPort int    `yaml:"container_port"`
	StartTimeout  string `yaml:"start_timeout"`
}

// LimitsConfig bounds per-visitor usage.
type LimitsConfig struct {
	DailyMessages int `yaml:"daily_messages"`
	ConsoleBuffer int `yaml:"console_buffer"`
}

// StoreConfig selects where sessions persist.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, memory
	Path   string `yaml:"path"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen: "127.0.0.1:8080",

		Service: ServiceConfig{
			WSURL:          "ws://127.0.0.1:8000",
			HealthURL:      "http://127.0.0.1:8000/generate/chat/health",
			CreatePath:     "/generate/ws/chat",
			EditPath:       "/generate/ws/chat/edit",
			DialTimeout:    "10s",
			HealthTimeout:  "5s",
			EditRetryDelay: "1s",
		},

		LocalBackend: LocalBackendConfig{
			Image:         "game-generation-service:latest",
			ContainerPort: 8000,
			StartTimeout:  "60s",
		},

		Limits: LimitsConfig{
			DailyMessages: 3,
			ConsoleBuffer: 500,
		},

		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "data/sessions.db",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GAME_SANDBOX_WS_URL"); v != "" {
		c.Service.WSURL = v
	}
	if v := os.Getenv("GAME_SANDBOX_HEALTH_URL"); v != "" {
		c.Service.HealthURL = v
	}
	if v := os.Getenv("GAME_SANDBOX_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("GAME_SANDBOX_LISTEN"); v != "" {
		c.Listen = v
	}
}

// CreateURL is the websocket URL of the create channel.
func (c *Config) CreateURL() string {
	return joinURL(c.Service.WSURL, c.Service.CreatePath)
}

// EditURL is the websocket URL of the edit channel.
func (c *Config) EditURL() string {
	return joinURL(c.Service.WSURL, c.Service.EditPath)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// GetDialTimeout returns the websocket dial timeout.
func (c *Config) GetDialTimeout() time.Duration {
	return parseDuration(c.Service.DialTimeout, 10*time.Second)
}

// GetHealthTimeout returns the health probe timeout.
func (c *Config) GetHealthTimeout() time.Duration {
	return parseDuration(c.Service.HealthTimeout, 5*time.Second)
}

// GetEditRetryDelay returns the delay before a deferred edit send retries.
func (c *Config) GetEditRetryDelay() time.Duration {
	return parseDuration(c.Service.EditRetryDelay, time.Second)
}

// GetStartTimeout returns how long to wait for a local backend to become
// healthy.
func (c *Config) GetStartTimeout() time.Duration {
	return parseDuration(c.LocalBackend.StartTimeout, 60*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidStoreDrivers lists the supported session stores.
var ValidStoreDrivers = []string{"sqlite", "memory"}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address not configured")
	}
	ws, err := url.Parse(c.Service.WSURL)
	if err != nil || (ws.Scheme != "ws" && ws.Scheme != "wss") || ws.Host == "" {
		return fmt.Errorf("invalid service ws_url %q (want ws:// or wss://)", c.Service.WSURL)
	}
	health, err := url.Parse(c.Service.HealthURL)
	if err != nil || (health.Scheme != "http" && health.Scheme != "https") || health.Host == "" {
		return fmt.Errorf("invalid service health_url %q (want http:// or https://)", c.Service.HealthURL)
	}
	for _, d := range []struct{ name, value string }{
		{"dial_timeout", c.Service.DialTimeout},
		{"health_timeout", c.Service.HealthTimeout},
		{"edit_retry_delay", c.Service.EditRetryDelay},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid service %s %q: %w", d.name, d.value, err)
		}
	}
	if c.Limits.DailyMessages <= 0 {
		return fmt.Errorf("limits.daily_messages must be positive, got %d", c.Limits.DailyMessages)
	}
	if c.Limits.ConsoleBuffer <= 0 {
		return fmt.Errorf("limits.console_buffer must be positive, got %d", c.Limits.ConsoleBuffer)
	}

	validDriver := false
	for _, d := range ValidStoreDrivers {
		if c.Store.Driver == d {
			validDriver = true
			break
		}
	}
	if !validDriver {
		return fmt.Errorf("invalid store driver: %s (valid: %v)", c.Store.Driver, ValidStoreDrivers)
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the sqlite driver")
	}
	return nil
}
