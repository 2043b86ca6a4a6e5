package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return client, server
}

func TestTryLockIsExclusive(t *testing.T) {
	client, _ := setupTestRedis(t)
	locker := New(client, "test:")
	ctx := context.Background()

	unlock, acquired, err := locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.False(t, acquired)

	require.NoError(t, unlock(ctx))
	_, acquired, err = locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestUnlockKeepsForeignLock(t *testing.T) {
	client, server := setupTestRedis(t)
	locker := New(client, "test:")
	ctx := context.Background()

	staleUnlock, acquired, err := locker.TryLock(ctx, "sweep", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	server.FastForward(2 * time.Second)
	_, acquired, err = locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, staleUnlock(ctx))
	require.True(t, server.Exists("test:sweep"))
}

func TestTryLockRejectsInvalidTTL(t *testing.T) {
	client, _ := setupTestRedis(t)
	_, _, err := New(client, "").TryLock(context.Background(), "sweep", 0)
	require.ErrorIs(t, err, errInvalidTTL)
}

func TestTryLockReportsConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	_, acquired, err := New(client, "").TryLock(context.Background(), "sweep", time.Minute)
	require.Error(t, err)
	require.False(t, acquired)
}
