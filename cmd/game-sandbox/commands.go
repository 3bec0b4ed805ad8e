package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"game-sandbox/internal/backend"
	"game-sandbox/internal/channel"
	"game-sandbox/internal/config"
	"game-sandbox/internal/health"
	"game-sandbox/internal/logging"
	"game-sandbox/internal/server"
	"game-sandbox/internal/session"
	"game-sandbox/internal/store"
)

const defaultConfigPath = "game-sandbox.yaml"

type serveOptions struct {
	configPath string
	listen     string
	backend    string
	verbose    bool
}

// NewRootCommand creates the root command. Without a subcommand it serves.
func NewRootCommand() *cobra.Command {
	opts := &serveOptions{}
	rootCmd := &cobra.Command{
		Use:   "game-sandbox",
		Short: "Browser sandbox for building games with an AI generation service",
		Long: `game-sandbox serves a browser workspace where visitors describe a game,
watch it being generated, play it in a sandboxed preview and ask for changes.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "Path to the YAML config file")
	flags.StringVar(&opts.listen, "listen", "", "Address to serve HTTP on (overrides config)")
	flags.StringVar(&opts.backend, "backend", string(backend.KindRemote), "Generation service: remote, docker or echo")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging in development format")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sandbox web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newConfigCommand(opts))
	rootCmd.AddCommand(newHealthCommand(opts))
	return rootCmd
}

func newConfigCommand(opts *serveOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", opts.configPath)
			}
			if err := config.DefaultConfig().Save(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", opts.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(initCmd)
	return configCmd
}

func newHealthCommand(opts *serveOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the configured generation service once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.GetHealthTimeout())
			defer cancel()
			resp, err := health.Check(ctx, http.DefaultClient, cfg.Service.HealthURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d %s\n", cfg.Service.HealthURL, resp.Status, resp.Message)
			return nil
		},
	}
}

func newBackend(kind backend.Kind, cfg *config.Config, logger *zap.Logger) backend.Backend {
	switch kind {
	case backend.KindDocker:
		return backend.NewLocalDocker(backend.LocalDockerConfig{
			Image:         cfg.LocalBackend.Image,
			ContainerPort: cfg.LocalBackend.ContainerPort,
			StartTimeout:  cfg.GetStartTimeout(),
		}, logger.Named("docker"))
	case backend.KindEcho:
		return backend.NewEcho(logger.Named("echo"), 150*time.Millisecond)
	default:
		return backend.NewRemote(backend.Endpoints{
			WSURL:     cfg.Service.WSURL,
			HealthURL: cfg.Service.HealthURL,
		})
	}
}

func openStore(cfg *config.Config) (session.Store, error) {
	if cfg.Store.Driver == "memory" {
		return session.NewMemoryStore(), nil
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func channelConfig(cfg *config.Config) channel.Config {
	policies := channel.DefaultPolicies()
	edit := policies[channel.RoleEdit]
	edit.RetryDelay = cfg.GetEditRetryDelay()
	policies[channel.RoleEdit] = edit

	return channel.Config{
		URLs: map[channel.Role]string{
			channel.RoleCreate: cfg.CreateURL(),
			channel.RoleEdit:   cfg.EditURL(),
		},
		HealthURL:     cfg.Service.HealthURL,
		Policies:      policies,
		DialTimeout:   cfg.GetDialTimeout(),
		HealthTimeout: cfg.GetHealthTimeout(),
	}
}

func runServe(parent context.Context, opts *serveOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	kind, err := backend.ParseKind(opts.backend)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("runServe: starting generation service", zap.String("backend", string(kind)))
	be := newBackend(kind, cfg, logger)
	if err := be.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s backend: %w", kind, err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := be.Stop(stopCtx); err != nil {
			logger.Warn("runServe: backend cleanup failed", zap.Error(err))
		}
	}()
	if kind != backend.KindRemote {
		ep := be.Endpoints()
		cfg.Service.WSURL = ep.WSURL
		cfg.Service.HealthURL = ep.HealthURL
	}

	sessionStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	srv, err := server.NewServer(server.Options{
		Channels:        channelConfig(cfg),
		Sessions:        session.NewManager(sessionStore, cfg.Limits.DailyMessages, logger.Named("session")),
		ConsoleCapacity: cfg.Limits.ConsoleBuffer,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	logger.Info("runServe: templates loaded")

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("runServe: listening",
			zap.String("addr", cfg.Listen),
			zap.String("service", cfg.Service.WSURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("runServe: shutting down gracefully")

		// Closing the studios ends every open event stream.
		srv.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("runServe: HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("runServe: shutdown complete")
	return err
}
