package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"game-sandbox/internal/session"
)

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.Load(ctx, "user_missing")
	require.True(t, errors.Is(err, session.ErrSessionNotFound))

	want := session.Session{Identity: "user_abc", MessageCount: 2, LastActiveDate: "2026-05-01", OnboardingSeen: true}
	require.NoError(t, db.Save(ctx, want))

	got, err := db.Load(ctx, "user_abc")
	require.NoError(t, err)
	require.Equal(t, want, got)

	want.MessageCount = 3
	want.OnboardingSeen = false
	require.NoError(t, db.Save(ctx, want))
	got, err = db.Load(ctx, "user_abc")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Save(ctx, session.Session{Identity: "user_x", MessageCount: 1, LastActiveDate: "2026-05-01"}))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Load(ctx, "user_x")
	require.NoError(t, err)
	require.Equal(t, 1, got.MessageCount)
}

func TestSQLiteBacksManager(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m := session.NewManager(db, 3, zap.NewNop(), session.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	s, err := m.Open(ctx, "user_mgr")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		s, err = m.Check(ctx, s)
		require.NoError(t, err)
		s, err = m.RecordSend(ctx, s)
		require.NoError(t, err)
	}
	_, err = m.Check(ctx, s)
	require.ErrorIs(t, err, session.ErrQuotaExceeded)

	now = now.Add(24 * time.Hour)
	s, err = m.Check(ctx, s)
	require.NoError(t, err)
	require.Equal(t, 0, s.MessageCount)
}
