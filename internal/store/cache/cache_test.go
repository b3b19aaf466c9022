package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *RedisRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	return &RedisRepository{client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
}

func TestLockPreventsDoubleLock(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, r.Lock(ctx, "ds:a", time.Minute))
	err := r.Lock(ctx, "ds:a", time.Minute)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	require.NoError(t, r.Unlock(ctx, "ds:a"))
	assert.NoError(t, r.Lock(ctx, "ds:a", time.Minute))
}

func TestStatusRoundTrip(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	_, ok, err := r.GetStatus(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetStatus(ctx, "job-1", "running", time.Minute))
	status, ok, err := r.GetStatus(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "running", status)
}
