package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client), mr
}

func TestLockerAcquireRelease(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()
	key := DocumentLockKey(42)

	ok, err := locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be re-acquired")

	require.NoError(t, locker.Release(ctx, key))

	ok, err = locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "released lock is free again")
}

func TestLockerTTLExpiry(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()
	key := ClientLockKey(7)

	ok, err := locker.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)

	ok, err = locker.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock expires with its TTL even without Release")
}

func TestLockerDistinctKeysIndependent(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, DocumentLockKey(1), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locker.Acquire(ctx, DocumentLockKey(2), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNilLockerAlwaysAcquires(t *testing.T) {
	var locker *Locker
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, DocumentLockKey(1), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, locker.Release(ctx, DocumentLockKey(1)))
}
