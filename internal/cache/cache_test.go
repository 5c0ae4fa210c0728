package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetLoaderRunsOnceUnderSingleflight(t *testing.T) {
	c := New(zap.NewNop(), DefaultConfig(), nil, nil)
	var calls int64

	loader := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&calls, 1)
		return map[string]any{"value": 42}, nil
	}

	v1, err1 := c.Get(context.Background(), "k", loader)
	require.NoError(t, err1)
	v2, err2 := c.Get(context.Background(), "k", loader)
	require.NoError(t, err2)

	require.Equal(t, int64(1), atomic.LoadInt64(&calls))
	require.EqualValues(t, v1, v2)
}

func TestSetThenGetHitsL1WithoutLoader(t *testing.T) {
	c := New(zap.NewNop(), DefaultConfig(), nil, nil)
	require.NoError(t, c.Set(context.Background(), "k", "hello", 0, nil))

	called := false
	v, err := c.Get(context.Background(), "k", func(ctx context.Context) (any, error) {
		called = true
		return "unused", nil
	})
	require.NoError(t, err)
	require.False(t, called)
	require.Equal(t, "hello", v)
}

func TestInvalidateRemovesTaggedKeys(t *testing.T) {
	c := New(zap.NewNop(), DefaultConfig(), nil, nil)
	require.NoError(t, c.Set(context.Background(), "a", 1, 0, []string{"market:1"}))
	require.NoError(t, c.Set(context.Background(), "b", 2, 0, []string{"market:1"}))
	require.NoError(t, c.Set(context.Background(), "c", 3, 0, []string{"market:2"}))

	c.Invalidate(context.Background(), "market:1")

	called := false
	_, _ = c.Get(context.Background(), "a", func(ctx context.Context) (any, error) {
		called = true
		return nil, errors.New("no loader configured for test")
	})
	require.True(t, called, "invalidated key should be a miss requiring the loader")

	called = false
	_, err := c.Get(context.Background(), "c", func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	require.False(t, called, "untouched tag's key should remain cached")
}
