// Package session keeps the per-browser identity and its daily message quota.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnonymousIdentity tags outbound traffic when no session is available.
const AnonymousIdentity = "anonymous"

// DefaultDailyLimit is the number of user-initiated messages allowed per day.
const DefaultDailyLimit = 3

const dateLayout = "2006-01-02"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrQuotaExceeded   = errors.New("daily message limit reached")
)

// Session is the persisted record for one browser identity.
type Session struct {
	Identity       string `json:"userId"`
	MessageCount   int    `json:"messageCount"`
	LastActiveDate string `json:"lastAccessDate"`
	OnboardingSeen bool   `json:"hasSeenFTUE"`
}

// Store persists session records keyed by identity.
type Store interface {
	Load(ctx context.Context, identity string) (Session, error)
	Save(ctx context.Context, s Session) error
	Close() error
}

// NewIdentity returns a fresh opaque identity in the user_xxxxxxxxx form.
func NewIdentity() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "user_" + id[:9]
}

// Today formats t as the calendar date used for quota resets (UTC).
func Today(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// Remaining returns how many messages are left today under limit.
func (s Session) Remaining(limit int) int {
	if r := limit - s.MessageCount; r > 0 {
		return r
	}
	return 0
}

// Exhausted reports whether the quota for today is used up.
func (s Session) Exhausted(limit int) bool {
	return s.MessageCount >= limit
}
