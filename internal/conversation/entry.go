// Package conversation assembles streamed service frames into the chat log
// and decides which channel each user message travels on.
package conversation

import (
	"errors"
	"fmt"

	"game-sandbox/internal/workspace"
)

// Speaker is who authored an entry.
type Speaker int

const (
	SpeakerUser Speaker = iota
	SpeakerAssistant
)

func (s Speaker) String() string {
	switch s {
	case SpeakerUser:
		return "user"
	case SpeakerAssistant:
		return "assistant"
	default:
		return fmt.Sprintf("speaker(%d)", int(s))
	}
}

// Phase tells how an assistant entry came to be.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseStreamingThought
	PhaseFileDelta
	PhaseAdvisory
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseStreamingThought:
		return "thinking"
	case PhaseFileDelta:
		return "files_shared"
	case PhaseAdvisory:
		return "ai_assistance_message"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Hint is the service's verdict on whether a request concerns the game.
type Hint int

const (
	HintUnknown Hint = iota
	HintRelated
	HintUnrelated
)

func (h Hint) String() string {
	switch h {
	case HintUnknown:
		return "unknown"
	case HintRelated:
		return "related"
	case HintUnrelated:
		return "unrelated"
	default:
		return fmt.Sprintf("hint(%d)", int(h))
	}
}

// Entry is one item of the chat log.
type Entry struct {
	ID            int
	Speaker       Speaker
	Text          string
	Phase         Phase
	Streaming     bool
	HideAnimation bool
	Accumulated   string
	Files         workspace.Files
	Hint          Hint
}

// ErrEntryClosed is returned when mutating an entry that is no longer
// streaming.
var ErrEntryClosed = errors.New("conversation entry is closed")

// Log is the append-only chat log. Only streaming entries may change after
// they are appended.
type Log struct {
	entries []Entry
	nextID  int
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{nextID: 1}
}

// Append adds e with a fresh ID and returns the stored copy.
func (l *Log) Append(e Entry) Entry {
	e.ID = l.nextID
	l.nextID++
	e.Files = e.Files.Clone()
	l.entries = append(l.entries, e)
	return e
}

// Entries returns a copy of the log in arrival order.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Last returns the newest entry.
func (l *Log) Last() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Update applies fn to the entry with id. Closed entries are refused.
func (l *Log) Update(id int, fn func(*Entry)) error {
	for i := range l.entries {
		if l.entries[i].ID != id {
			continue
		}
		if !l.entries[i].Streaming {
			return fmt.Errorf("entry %d: %w", id, ErrEntryClosed)
		}
		fn(&l.entries[i])
		l.entries[i].ID = id
		return nil
	}
	return fmt.Errorf("entry %d not found", id)
}

// ExtendThought appends fragment to the newest entry when it is an open
// streaming thought. It reports whether it did.
func (l *Log) ExtendThought(fragment string) bool {
	last, ok := l.Last()
	if !ok || last.Phase != PhaseStreamingThought || !last.Streaming {
		return false
	}
	return l.Update(last.ID, func(e *Entry) {
		e.Accumulated += "\n" + fragment
	}) == nil
}

// CloseThoughts ends every open streaming thought and returns how many it
// closed.
func (l *Log) CloseThoughts() int {
	n := 0
	for i := range l.entries {
		e := &l.entries[i]
		if e.Phase == PhaseStreamingThought && e.Streaming {
			e.Streaming = false
			e.HideAnimation = true
			n++
		}
	}
	return n
}
