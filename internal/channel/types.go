// Package channel manages the create and edit websocket channels to the
// generation service.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Role names one of the two duplex channels.
type Role int

const (
	RoleCreate Role = iota
	RoleEdit
)

func (r Role) String() string {
	switch r {
	case RoleCreate:
		return "create"
	case RoleEdit:
		return "edit"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Phase is the connection state of one channel.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseOpen
	PhaseClosedWithError
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	case PhaseClosedWithError:
		return "closed-with-error"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Policy controls how a role is opened and how sends recover from a closed
// channel.
type Policy struct {
	// HealthCheck probes the health endpoint before dialling.
	HealthCheck bool
	// LazyOpen lets SendDeferred open the channel on demand.
	LazyOpen bool
	// SendRetries is how many deferred retries SendDeferred schedules.
	SendRetries int
	RetryDelay  time.Duration
}

// DefaultPolicies returns the create and edit policies.
func DefaultPolicies() map[Role]Policy {
	return map[Role]Policy{
		RoleCreate: {HealthCheck: true},
		RoleEdit:   {LazyOpen: true, SendRetries: 1, RetryDelay: time.Second},
	}
}

var (
	// ErrNotOpen is matched by every NotOpenError.
	ErrNotOpen = errors.New("channel not open")
	// ErrTransportLost means a write failed on an open channel.
	ErrTransportLost = errors.New("transport lost")
	// ErrClosed is reported to deferred sends cancelled by CloseAll.
	ErrClosed = errors.New("channel manager closed")
)

// NotOpenError is returned when sending on a channel that is not open.
type NotOpenError struct {
	Role  Role
	Phase Phase
}

func (e *NotOpenError) Error() string {
	return fmt.Sprintf("%s channel not open (%s)", e.Role, e.Phase)
}

func (e *NotOpenError) Is(target error) bool {
	return target == ErrNotOpen
}

// EventKind classifies events raised by the Manager.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	// EventUnavailable means the channel could not be opened at all.
	EventUnavailable
	// EventTransportLost means an open channel closed or errored.
	EventTransportLost
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventUnavailable:
		return "unavailable"
	case EventTransportLost:
		return "transport-lost"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered to the owner on its event loop.
type Event struct {
	Role Role
	Kind EventKind
	Data []byte
	Err  error
}

// Conn is the subset of *websocket.Conn the Manager uses.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a Conn to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Poster schedules a callback on the owner's event loop. It reports false
// once the loop no longer accepts work.
type Poster interface {
	Post(fn func()) bool
}
