package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSetWithTTL(t *testing.T) {
	ctx := context.Background()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetWithTTL(ctx, "k", []byte("v"), time.Minute))

	value, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	now = now.Add(2 * time.Minute)

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.SetWithTTL(ctx, "k", []byte("v"), 0))

	now = now.Add(24 * time.Hour)

	value, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestMemoryStore_IncrWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	current, previous, err := s.IncrWindow(ctx, "k", 1000, 0, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, current)
	assert.EqualValues(t, 0, previous)

	current, previous, err = s.IncrWindow(ctx, "k", 1000, 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, current)
	assert.EqualValues(t, 0, previous)

	// Roll to the next window; the old bucket becomes previous.
	current, previous, err = s.IncrWindow(ctx, "k", 2000, 1000, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, current)
	assert.EqualValues(t, 3, previous)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	ctx := context.Background()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	old := now.Add(-10 * time.Minute).UnixMilli()
	recent := now.Add(-30 * time.Second).UnixMilli()

	_, _, err := s.IncrWindow(ctx, "k", old, 0, 5)
	require.NoError(t, err)
	_, _, err = s.IncrWindow(ctx, "k", recent, 0, 5)
	require.NoError(t, err)

	removed, err := s.Cleanup(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, previous, err := s.IncrWindow(ctx, "k", recent+60_000, recent, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, previous)
}
