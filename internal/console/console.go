// Package console keeps the console output captured from the preview frame.
package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"game-sandbox/internal/models"
)

// DefaultCapacity is the number of events kept when none is configured.
const DefaultCapacity = 500

// ErrNotConsoleMessage is returned for anything that is not a well-formed
// console bridge message.
var ErrNotConsoleMessage = errors.New("not a console message")

// Kind is the console method that produced an event.
type Kind int

const (
	KindLog Kind = iota
	KindWarn
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindWarn:
		return "warn"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func parseKind(s string) (Kind, bool) {
	switch s {
	case "log":
		return KindLog, true
	case "warn":
		return KindWarn, true
	case "error":
		return KindError, true
	}
	return 0, false
}

// Event is one captured console line.
type Event struct {
	Kind      Kind
	Text      string
	Timestamp time.Time
}

// Clock formats the timestamp as HH:MM:SS in UTC.
func (e Event) Clock() string {
	return e.Timestamp.UTC().Format("15:04:05")
}

// Bridge validates bridge messages and keeps the newest events in a ring.
// It is not safe for concurrent use.
type Bridge struct {
	buf   []Event
	start int
	n     int
}

// NewBridge creates a bridge keeping at most capacity events.
func NewBridge(capacity int) *Bridge {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bridge{buf: make([]Event, capacity)}
}

// Parse validates raw without storing it.
func Parse(raw []byte) (Event, error) {
	var msg models.ConsoleMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrNotConsoleMessage, err)
	}
	if msg.Type != "console" {
		return Event{}, fmt.Errorf("%w: type %q", ErrNotConsoleMessage, msg.Type)
	}
	kind, ok := parseKind(msg.ConsoleType)
	if !ok {
		return Event{}, fmt.Errorf("%w: consoleType %q", ErrNotConsoleMessage, msg.ConsoleType)
	}
	ts, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("%w: timestamp: %v", ErrNotConsoleMessage, err)
	}
	return Event{Kind: kind, Text: msg.Message, Timestamp: ts}, nil
}

// Accept validates raw and records it.
func (b *Bridge) Accept(raw []byte) (Event, error) {
	ev, err := Parse(raw)
	if err != nil {
		return Event{}, err
	}
	b.Append(ev)
	return ev, nil
}

// Append records ev, dropping the oldest event when full.
func (b *Bridge) Append(ev Event) {
	if b.n < len(b.buf) {
		b.buf[(b.start+b.n)%len(b.buf)] = ev
		b.n++
		return
	}
	b.buf[b.start] = ev
	b.start = (b.start + 1) % len(b.buf)
}

// Events returns the recorded events, oldest first.
func (b *Bridge) Events() []Event {
	out := make([]Event, 0, b.n)
	for i := 0; i < b.n; i++ {
		out = append(out, b.buf[(b.start+i)%len(b.buf)])
	}
	return out
}

// Errors returns the recorded error events, oldest first.
func (b *Bridge) Errors() []Event {
	var out []Event
	for _, ev := range b.Events() {
		if ev.Kind == KindError {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of recorded events.
func (b *Bridge) Len() int { return b.n }

// Clear drops every recorded event.
func (b *Bridge) Clear() {
	for i := range b.buf {
		b.buf[i] = Event{}
	}
	b.start, b.n = 0, 0
}
