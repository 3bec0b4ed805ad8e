// Package store persists browser sessions in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"game-sandbox/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	identity         TEXT PRIMARY KEY,
	message_count    INTEGER NOT NULL DEFAULT 0,
	last_active_date TEXT NOT NULL,
	onboarding_seen  INTEGER NOT NULL DEFAULT 0
)`

// StoreError reports a failed store operation.
type StoreError struct {
	Op       string // "open", "load", "save"
	Identity string
	Err      error
}

func (e *StoreError) Error() string {
	if e.Identity == "" {
		return fmt.Sprintf("store error: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store error: %s %s: %v", e.Op, e.Identity, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// SQLite implements session.Store on a SQLite file.
type SQLite struct {
	db *sql.DB
}

var _ session.Store = (*SQLite)(nil)

// Open opens (creating if needed) the database at path. The special path
// ":memory:" keeps everything in memory.
func Open(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, &StoreError{Op: "open", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	// A single connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("ping: %w", err)}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("migrate: %w", err)}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context, identity string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT identity, message_count, last_active_date, onboarding_seen FROM sessions WHERE identity = ?`,
		identity)

	var (
		out  session.Session
		seen int
	)
	err := row.Scan(&out.Identity, &out.MessageCount, &out.LastActiveDate, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrSessionNotFound
	}
	if err != nil {
		return session.Session{}, &StoreError{Op: "load", Identity: identity, Err: err}
	}
	out.OnboardingSeen = seen != 0
	return out, nil
}

func (s *SQLite) Save(ctx context.Context, sess session.Session) error {
	seen := 0
	if sess.OnboardingSeen {
		seen = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (identity, message_count, last_active_date, onboarding_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			message_count = excluded.message_count,
			last_active_date = excluded.last_active_date,
			onboarding_seen = excluded.onboarding_seen`,
		sess.Identity, sess.MessageCount, sess.LastActiveDate, seen)
	if err != nil {
		return &StoreError{Op: "save", Identity: sess.Identity, Err: err}
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
