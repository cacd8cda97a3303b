package lock_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payflow/internal/lock"
)

func setup(t *testing.T) (*miniredis.Miniredis, lock.Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
}

func TestWithLockSerialisesHolders(t *testing.T) {
	_, locker := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var inside, maxInside atomic.Int32
	errs := make(chan error, 4)
	for range 4 {
		go func() {
			errs <- locker.WithLock(ctx, lock.OrderKey("o-1"), time.Second, func(context.Context) error {
				n := inside.Add(1)
				if n > maxInside.Load() {
					maxInside.Store(n)
				}
				time.Sleep(10 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	for range 4 {
		require.NoError(t, <-errs)
	}
	require.Equal(t, int32(1), maxInside.Load())
}

func TestWithLockMaxWait(t *testing.T) {
	mr, locker := setup(t)
	require.NoError(t, mr.Set(lock.OrderKey("1"), "someone-else"))
	locker.MaxWait = 30 * time.Millisecond

	called := false
	err := locker.WithLock(context.Background(), lock.OrderKey("1"), time.Second, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, lock.ErrNotAcquired)
	require.False(t, called)
}

func TestWithLockHonoursCallerCancel(t *testing.T) {
	mr, locker := setup(t)
	require.NoError(t, mr.Set(lock.MethodKey("pm_1"), "someone-else"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := locker.WithLock(ctx, lock.MethodKey("pm_1"), time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLockReleasesOnlyOwnToken(t *testing.T) {
	mr, locker := setup(t)
	err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
		// expired and taken over by another holder
		return mr.Set("k", "other")
	})
	require.NoError(t, err)
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "other", got)

	require.NoError(t, locker.WithLock(context.Background(), "free", time.Second, func(context.Context) error { return nil }))
	require.False(t, mr.Exists("free"))
}

func TestWithLockCancelsWorkWhenLost(t *testing.T) {
	mr, locker := setup(t)
	err := locker.WithLock(context.Background(), lock.OrderKey("o-2"), 60*time.Millisecond, func(ctx context.Context) error {
		require.NoError(t, mr.Set(lock.OrderKey("o-2"), "other"))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
			t.Error("lock loss did not cancel the callback")
			return nil
		}
	})
	require.ErrorIs(t, err, lock.ErrLost)
}
