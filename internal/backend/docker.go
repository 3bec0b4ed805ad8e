package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"game-sandbox/internal/health"
)

const (
	containerPrefix = "game-sandbox-backend-"
	containerLabel  = "io.game-sandbox.backend"
)

// runtime is the slice of the Docker engine API LocalDocker drives.
type runtime interface {
	HasImage(ctx context.Context, ref string) (bool, error)
	Pull(ctx context.Context, ref string) error
	Create(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Remove(ctx context.Context, id string) error
	ListLabelled(ctx context.Context, label string) ([]string, error)
	Running(ctx context.Context, id string) (bool, error)
	Close() error
}

// LocalDockerConfig configures the container that runs the service.
type LocalDockerConfig struct {
	Image         string
	ContainerPort int
	StartTimeout  time.Duration
}

// LocalDocker runs the generation service in a local Docker container
// published on a free loopback port.
type LocalDocker struct {
	cfg    LocalDockerConfig
	logger *zap.Logger

	mu          sync.Mutex
	rt          runtime
	containerID string
	name        string
	port        int
	waitReady   func(ctx context.Context, url string, timeout time.Duration) error
}

// NewLocalDocker creates a LocalDocker backend. The Docker client is
// configured from the environment on Start.
func NewLocalDocker(cfg LocalDockerConfig, logger *zap.Logger) *LocalDocker {
	if cfg.ContainerPort == 0 {
		cfg.ContainerPort = 8000
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 60 * time.Second
	}
	return &LocalDocker{
		cfg:    cfg,
		logger: logger,
		waitReady: func(ctx context.Context, url string, timeout time.Duration) error {
			return health.WaitReady(ctx, http.DefaultClient, url, timeout)
		},
	}
}

func (ld *LocalDocker) Start(ctx context.Context) error {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	if ld.rt == nil {
		rt, err := newDockerRuntime()
		if err != nil {
			return fmt.Errorf("failed to connect to Docker: %w", err)
		}
		ld.rt = rt
	}

	if err := ld.cleanupOrphanedContainers(ctx); err != nil {
		ld.logger.Warn("LocalDocker: failed to clean up orphaned containers", zap.Error(err))
	}

	port, err := FindFreePort()
	if err != nil {
		return fmt.Errorf("failed to find free port: %w", err)
	}
	ld.port = port
	ld.logger.Info("LocalDocker: allocated port", zap.Int("port", port))

	if err := ld.ensureImage(ctx); err != nil {
		return fmt.Errorf("failed to ensure Docker image: %w", err)
	}
	if err := ld.createContainer(ctx); err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	endpoints := localEndpoints(ld.port)
	if err := ld.waitReady(ctx, endpoints.HealthURL, ld.cfg.StartTimeout); err != nil {
		return fmt.Errorf("generation service not ready: %w", err)
	}
	ld.logger.Info("LocalDocker: generation service ready",
		zap.String("container", ld.name),
		zap.Int("port", ld.port))
	return nil
}

func (ld *LocalDocker) Endpoints() Endpoints {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return localEndpoints(ld.port)
}

func (ld *LocalDocker) Stop(ctx context.Context) error {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	if ld.rt == nil {
		return nil
	}
	var errs []string
	if ld.containerID != "" {
		ld.logger.Info("LocalDocker: stopping container", zap.String("container", ld.name))
		if err := ld.rt.Stop(ctx, ld.containerID, 5*time.Second); err != nil {
			ld.logger.Warn("LocalDocker: graceful stop failed", zap.String("container", ld.name), zap.Error(err))
		}
		if err := ld.rt.Remove(ctx, ld.containerID); err != nil {
			errs = append(errs, fmt.Sprintf("failed to remove container %s: %v", ld.name, err))
		} else {
			ld.logger.Info("LocalDocker: removed container", zap.String("container", ld.name))
		}
		ld.containerID = ""
		ld.name = ""
	}
	ld.port = 0
	if err := ld.rt.Close(); err != nil {
		errs = append(errs, fmt.Sprintf("failed to close Docker client: %v", err))
	}
	ld.rt = nil

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (ld *LocalDocker) IsRunning() bool {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	if ld.rt == nil || ld.containerID == "" {
		return false
	}
	running, err := ld.rt.Running(context.Background(), ld.containerID)
	return err == nil && running
}

func (ld *LocalDocker) ensureImage(ctx context.Context) error {
	ok, err := ld.rt.HasImage(ctx, ld.cfg.Image)
	if err != nil {
		return fmt.Errorf("failed to check image: %w", err)
	}
	if ok {
		ld.logger.Debug("LocalDocker: image present", zap.String("image", ld.cfg.Image))
		return nil
	}
	ld.logger.Info("LocalDocker: pulling image", zap.String("image", ld.cfg.Image))
	return ld.rt.Pull(ctx, ld.cfg.Image)
}

func (ld *LocalDocker) createContainer(ctx context.Context) error {
	ld.name = fmt.Sprintf("%s%d", containerPrefix, time.Now().Unix())

	port, err := nat.NewPort("tcp", strconv.Itoa(ld.cfg.ContainerPort))
	if err != nil {
		return err
	}
	useInit := true
	cfg := &container.Config{
		Image:        ld.cfg.Image,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels:       map[string]string{containerLabel: "true"},
	}
	host := &container.HostConfig{
		Init: &useInit,
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(ld.port)}},
		},
	}

	id, err := ld.rt.Create(ctx, ld.name, cfg, host)
	if err != nil {
		return err
	}
	if err := ld.rt.Start(ctx, id); err != nil {
		_ = ld.rt.Remove(ctx, id)
		return fmt.Errorf("failed to start container: %w", err)
	}
	ld.containerID = id
	ld.logger.Info("LocalDocker: started container",
		zap.String("container", ld.name),
		zap.String("id", shortID(id)),
		zap.Int("port", ld.port))
	return nil
}

func (ld *LocalDocker) cleanupOrphanedContainers(ctx context.Context) error {
	ids, err := ld.rt.ListLabelled(ctx, containerLabel+"=true")
	if err != nil {
		return fmt.Errorf("failed to list orphaned containers: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	ld.logger.Info("LocalDocker: removing orphaned containers", zap.Int("count", len(ids)))
	for _, id := range ids {
		if err := ld.rt.Remove(ctx, id); err != nil {
			ld.logger.Warn("LocalDocker: failed to remove orphaned container", zap.String("id", shortID(id)), zap.Error(err))
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// dockerRuntime adapts the Docker SDK client to runtime.
type dockerRuntime struct {
	cli *client.Client
}

func newDockerRuntime() (*dockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &dockerRuntime{cli: cli}, nil
}

func (d *dockerRuntime) HasImage(ctx context.Context, ref string) (bool, error) {
	images, err := d.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return false, err
	}
	return len(images) > 0, nil
}

func (d *dockerRuntime) Pull(ctx context.Context, ref string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (d *dockerRuntime) Create(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *dockerRuntime) Start(ctx context.Context, id string) error {
	return d.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (d *dockerRuntime) Stop(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
}

func (d *dockerRuntime) Remove(ctx context.Context, id string) error {
	return d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (d *dockerRuntime) ListLabelled(ctx context.Context, label string) ([]string, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (d *dockerRuntime) Running(ctx context.Context, id string) (bool, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return false, err
	}
	return info.State != nil && info.State.Running, nil
}

func (d *dockerRuntime) Close() error {
	return d.cli.Close()
}
