package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRodPool_Defaults(t *testing.T) {
	p := NewRodPool(RodPoolConfig{})

	require.Equal(t, 4, p.cfg.PoolSize)
	require.Equal(t, 30*time.Second, p.cfg.NavTimeout)
	require.Equal(t, 2*time.Second, p.cfg.ContentWait)
	require.NotEmpty(t, p.cfg.UserAgent)
}

func TestNewRodPool_ExplicitConfigKept(t *testing.T) {
	p := NewRodPool(RodPoolConfig{
		PoolSize:    2,
		NavTimeout:  5 * time.Second,
		ContentWait: 100 * time.Millisecond,
		UserAgent:   "test-agent",
	})

	require.Equal(t, 2, p.cfg.PoolSize)
	require.Equal(t, 5*time.Second, p.cfg.NavTimeout)
	require.Equal(t, "test-agent", p.cfg.UserAgent)
	require.Equal(t, 2, cap(p.idle))
}

func TestRodPool_ReleaseAfterCloseDropsPage(t *testing.T) {
	p := NewRodPool(RodPoolConfig{PoolSize: 1})
	p.Close()

	require.NotPanics(t, func() { p.Release(&rodPage{}) })

	_, err := p.Acquire(context.Background())
	require.ErrorContains(t, err, "pool closed")
}

func TestRodPool_CloseIdempotent(t *testing.T) {
	p := NewRodPool(RodPoolConfig{PoolSize: 1})

	p.Close()
	require.NotPanics(t, p.Close)
}

func TestRodPool_MarkSuccess(t *testing.T) {
	p := NewRodPool(RodPoolConfig{})

	require.Zero(t, p.Successes())
	p.MarkSuccess()
	p.MarkSuccess()
	require.Equal(t, int64(2), p.Successes())
}
