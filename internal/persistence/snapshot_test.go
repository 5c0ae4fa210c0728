package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestSnapshotStore(t *testing.T) *LocalSnapshotStore {
	t.Helper()
	s, err := OpenLocalSnapshotStore(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLocalSnapshotStoreLoadMissWhenEmpty(t *testing.T) {
	s := newTestSnapshotStore(t)
	state, seq, ok := s.Load(context.Background(), uuid.New())
	require.False(t, ok)
	require.Nil(t, state)
	require.Zero(t, seq)
}

func TestLocalSnapshotStoreLoadReturnsHighestSeq(t *testing.T) {
	s := newTestSnapshotStore(t)
	market := uuid.New()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, market, 1, []byte("first")))
	require.NoError(t, s.Save(ctx, market, 2, []byte("second")))

	state, seq, ok := s.Load(ctx, market)
	require.True(t, ok)
	require.Equal(t, uint64(2), seq)
	require.Equal(t, []byte("second"), state)
}

func TestLocalSnapshotStoreIsolatesMarkets(t *testing.T) {
	s := newTestSnapshotStore(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, s.Save(ctx, a, 1, []byte("a-state")))
	require.NoError(t, s.Save(ctx, b, 1, []byte("b-state")))

	state, _, ok := s.Load(ctx, b)
	require.True(t, ok)
	require.Equal(t, []byte("b-state"), state)
}
