package redisinfra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kyc-access/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newThrottle(t *testing.T, limit int) (*Throttle, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	return NewThrottle(client, "reset", limit, time.Minute), mr
}

func TestThrottle_AllowsUpToLimit(t *testing.T) {
	th, _ := newThrottle(t, 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, th.Allow(ctx, "a@b.com"))
	}
	err := th.Allow(ctx, "a@b.com")
	assert.True(t, errors.Is(err, domain.ErrTooManyRequests))

	// other keys are independent
	assert.NoError(t, th.Allow(ctx, "c@d.com"))
}

func TestThrottle_WindowExpires(t *testing.T) {
	th, mr := newThrottle(t, 1)
	ctx := context.Background()
	require.NoError(t, th.Allow(ctx, "a@b.com"))
	require.Error(t, th.Allow(ctx, "a@b.com"))

	mr.FastForward(2 * time.Minute)
	assert.NoError(t, th.Allow(ctx, "a@b.com"))
}

func TestThrottle_RedisDown_Refuses(t *testing.T) {
	th, mr := newThrottle(t, 5)
	mr.Close()
	err := th.Allow(context.Background(), "a@b.com")
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrTooManyRequests))
}
