package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetJSON(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "symbols", []string{"BTCUSDT", "ETHUSDT"}, time.Minute))
	var got []string
	require.NoError(t, mc.Get(ctx, "symbols", &got))
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, got)

	var s string
	assert.ErrorIs(t, mc.Get(ctx, "missing", &s), ErrCacheMiss)
}

func TestMemoryExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	time.Sleep(time.Millisecond)
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	require.NoError(t, mc.Set(ctx, "c", "3", time.Minute))

	assert.NoError(t, mc.Get(ctx, "a", &s))
	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
}

func TestMemoryLock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	token, ok, err := mc.TryLock(ctx, "repair:BTCUSDT", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = mc.TryLock(ctx, "repair:BTCUSDT", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, errors.Is(mc.Unlock(ctx, "repair:BTCUSDT", "other"), ErrNotOwner))
	require.NoError(t, mc.Unlock(ctx, "repair:BTCUSDT", token))

	_, ok, err = mc.TryLock(ctx, "repair:BTCUSDT", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetOrLoad(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	calls := 0
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"BTCUSDT"}, nil
	}
	for i := 0; i < 3; i++ {
		v, err := GetOrLoad(ctx, mc, Key("binance", "um", "perpetual"), time.Minute, load)
		require.NoError(t, err)
		assert.Equal(t, []string{"BTCUSDT"}, v)
	}
	assert.Equal(t, 1, calls)
}
