// Package backend provides the generation service the sandbox talks to:
// a remote deployment, a local Docker container, or an in-process echo
// service.
package backend

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// Endpoints locates a running generation service.
type Endpoints struct {
	// WSURL is the ws:// or wss:// base the channel paths are joined to.
	WSURL     string
	HealthURL string
}

// Backend is the contract for generation service providers.
type Backend interface {
	// Start brings the service up and returns once it is reachable.
	Start(ctx context.Context) error

	// Endpoints returns where the service listens. Only valid after Start.
	Endpoints() Endpoints

	// Stop shuts the service down and releases its resources.
	Stop(ctx context.Context) error

	// IsRunning reports whether the service is up.
	IsRunning() bool
}

// Kind names a backend provider on the command line.
type Kind string

const (
	KindRemote Kind = "remote"
	KindDocker Kind = "docker"
	KindEcho   Kind = "echo"
)

// ParseKind validates a provider name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindRemote, KindDocker, KindEcho:
		return k, nil
	case "":
		return KindRemote, nil
	default:
		return "", fmt.Errorf("unknown backend %q (valid: remote, docker, echo)", s)
	}
}

// FindFreePort finds an available TCP port on the local machine.
func FindFreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("failed to get TCP address")
	}
	return addr.Port, nil
}

// HealthPath is where the generation service reports its health.
const HealthPath = "/generate/chat/health"

func localEndpoints(port int) Endpoints {
	return Endpoints{
		WSURL:     fmt.Sprintf("ws://127.0.0.1:%d", port),
		HealthURL: fmt.Sprintf("http://127.0.0.1:%d%s", port, HealthPath),
	}
}
