package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"game-sandbox/internal/backend"
	"game-sandbox/internal/channel"
	"game-sandbox/internal/config"
)

func TestConfigInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandbox.yaml")

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "config", "init"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfig().Listen, cfg.Listen)

	// A second init refuses to clobber the file.
	cmd = NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config", path, "config", "init"})
	require.Error(t, cmd.Execute())

	cmd = NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "config", "init", "--force"})
	require.NoError(t, cmd.Execute())
}

func TestHealthCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":200,"message":"ok"}`))
	}))
	defer ts.Close()

	cfg := config.DefaultConfig()
	cfg.Service.HealthURL = ts.URL
	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	require.NoError(t, cfg.Save(path))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "health"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "200 ok")
}

func TestChannelConfigFromFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cc := channelConfig(cfg)

	require.Equal(t, cfg.CreateURL(), cc.URLs[channel.RoleCreate])
	require.Equal(t, cfg.EditURL(), cc.URLs[channel.RoleEdit])
	require.Equal(t, cfg.GetEditRetryDelay(), cc.Policies[channel.RoleEdit].RetryDelay)
	require.Equal(t, cfg.Service.HealthURL, cc.HealthURL)
}

func TestNewBackendSelectsProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	logger := zap.NewNop()

	_, ok := newBackend(backend.KindRemote, cfg, logger).(*backend.Remote)
	require.True(t, ok)
	_, ok = newBackend(backend.KindDocker, cfg, logger).(*backend.LocalDocker)
	require.True(t, ok)
	_, ok = newBackend(backend.KindEcho, cfg, logger).(*backend.Echo)
	require.True(t, ok)
}

func TestServeFlagsDeclaredOnce(t *testing.T) {
	root := NewRootCommand()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.Equal(t, "serve", serve.Name())

	for _, name := range []string{"config", "listen", "backend", "verbose"} {
		require.NotNil(t, root.PersistentFlags().Lookup(name), name)
		require.Nil(t, serve.LocalNonPersistentFlags().Lookup(name), name)
	}

	require.NoError(t, serve.ParseFlags([]string{"--listen", "127.0.0.1:9999", "--backend", "echo"}))
	listen, err := serve.Flags().GetString("listen")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", listen)
	require.Equal(t, "echo", root.PersistentFlags().Lookup("backend").Value.String())
}
