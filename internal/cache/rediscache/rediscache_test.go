package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "item:42:current", []byte(`{"id":42}`), time.Minute))

	b, ok, err := c.Get(ctx, "item:42:current")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"id":42}`), b)
}

func TestRedisCache_GetMissing(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	_, ok, err := c.Get(context.Background(), "item:1:current")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:marketplace:amazon:202608311200", 2, 70*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:marketplace:amazon:202608311200", 2, 70*time.Second)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:marketplace:amazon:202608311200", 2, 70*time.Second)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}

func TestRateLimiter_SeparateMarketplaces(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, _, err := rl.Allow(ctx, "rl:marketplace:amazon:202608311200", 1, 70*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = rl.Allow(ctx, "rl:marketplace:ebay:202608311200", 1, 70*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}
