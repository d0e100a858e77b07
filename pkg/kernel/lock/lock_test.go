package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	lease, err := l.Acquire(ctx, "prop-1", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "prop-1", time.Minute)
	require.ErrorIs(t, err, ErrHeld)

	other, err := l.Acquire(ctx, "prop-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	again, err := l.Acquire(ctx, "prop-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	stale, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	// the expired holder must not release the new lease
	require.NoError(t, stale.Release(ctx))
	_, err = l.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrHeld)
	require.NoError(t, fresh.Release(ctx))
}

func TestMemoryLocker_Extend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	lease, err := l.Acquire(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)

	// a holder that keeps extending outlives its original ttl
	for i := 0; i < 5; i++ {
		now = now.Add(30 * time.Millisecond)
		require.NoError(t, lease.Extend(ctx, 50*time.Millisecond))
	}
	_, err = l.Acquire(ctx, "k", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrHeld)

	// once it stops, the lease runs out and cannot be revived
	now = now.Add(80 * time.Millisecond)
	next, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.ErrorIs(t, lease.Extend(ctx, time.Second), ErrLost)
	require.NoError(t, next.Release(ctx))
	assert.ErrorIs(t, next.Extend(ctx, time.Second), ErrLost)
}

// TestRedisLocker_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisLocker_Integration(t *testing.T) {
	l := DialRedisLocker("localhost:6379", "", 0)
	defer func() { _ = l.Close() }()
	ctx := context.Background()
	if err := l.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	key := fmt.Sprintf("test-%d", time.Now().UnixNano())
	lease, err := l.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key, 5*time.Second)
	require.ErrorIs(t, err, ErrHeld)

	require.NoError(t, lease.Extend(ctx, 10*time.Second))
	ttl, err := l.client.PTTL(ctx, l.prefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 5*time.Second)

	require.NoError(t, lease.Release(ctx))
	assert.ErrorIs(t, lease.Extend(ctx, time.Second), ErrLost)
	again, err := l.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
