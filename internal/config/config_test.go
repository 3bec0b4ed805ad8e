package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "ws://127.0.0.1:8000/generate/ws/chat", cfg.CreateURL())
	require.Equal(t, "ws://127.0.0.1:8000/generate/ws/chat/edit", cfg.EditURL())
	require.Equal(t, time.Second, cfg.GetEditRetryDelay())
	require.Equal(t, 3, cfg.Limits.DailyMessages)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
service:
  ws_url: "wss://gen.example.com/"
  edit_retry_delay: "250ms"
limits:
  daily_messages: 10
store:
  driver: memory
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, ":9090", cfg.Listen)
	require.Equal(t, "wss://gen.example.com/generate/ws/chat", cfg.CreateURL())
	require.Equal(t, 250*time.Millisecond, cfg.GetEditRetryDelay())
	require.Equal(t, 10, cfg.Limits.DailyMessages)
	require.Equal(t, 500, cfg.Limits.ConsoleBuffer)
	require.Equal(t, "memory", cfg.Store.Driver)
	require.Equal(t, "http://127.0.0.1:8000/generate/chat/health", cfg.Service.HealthURL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GAME_SANDBOX_WS_URL", "ws://10.0.0.5:8000")
	t.Setenv("GAME_SANDBOX_HEALTH_URL", "http://10.0.0.5:8000/health")
	t.Setenv("GAME_SANDBOX_STORE_PATH", "/var/lib/sandbox.db")
	t.Setenv("GAME_SANDBOX_LISTEN", ":7000")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "ws://10.0.0.5:8000", cfg.Service.WSURL)
	require.Equal(t, "http://10.0.0.5:8000/health", cfg.Service.HealthURL)
	require.Equal(t, "/var/lib/sandbox.db", cfg.Store.Path)
	require.Equal(t, ":7000", cfg.Listen)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"http ws url":     func(c *Config) { c.Service.WSURL = "http://x" },
		"ws health url":   func(c *Config) { c.Service.HealthURL = "ws://x" },
		"zero limit":      func(c *Config) { c.Limits.DailyMessages = 0 },
		"zero console":    func(c *Config) { c.Limits.ConsoleBuffer = 0 },
		"unknown driver":  func(c *Config) { c.Store.Driver = "redis" },
		"sqlite no path":  func(c *Config) { c.Store.Path = "" },
		"bad duration":    func(c *Config) { c.Service.DialTimeout = "soon" },
		"empty listen":    func(c *Config) { c.Listen = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sandbox.yaml")
	want := DefaultConfig()
	want.Limits.DailyMessages = 7
	require.NoError(t, want.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
