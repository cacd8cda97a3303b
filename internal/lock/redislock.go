// Package lock provides a Redis mutex keyed per order or payment method. The
// API checkout, webhook handling and the renewal worker all take the same order
// key so at most one of them mutates an order's payment state at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when MaxWait elapses before the lock is free.
var ErrNotAcquired = errors.New("lock: not acquired")

// ErrLost is returned when the lock expired or was taken over while fn ran.
var ErrLost = errors.New("lock: lost while held")

const defaultTTL = 30 * time.Second

var (
	unlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

	extend = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// OrderKey is the lock guarding an order's payment state.
func OrderKey(orderID string) string { return "payflow:lock:order:" + orderID }

// MethodKey is the lock guarding a stored payment method.
func MethodKey(methodID string) string { return "payflow:lock:method:" + methodID }

// Locker is a token-owned SET NX lock. The holder keeps it alive by extending
// the TTL every ttl/3 while fn runs.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	// MaxWait bounds how long WithLock waits for a held lock. Zero waits until ctx ends.
	MaxWait time.Duration
}

// WithLock runs fn while holding key. fn's context is cancelled if the lock
// is lost, in which case WithLock returns ErrLost unless fn failed first.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token, ttl); err != nil {
		return err
	}
	defer func() {
		_ = unlock.Run(context.WithoutCancel(ctx), l.R, []string{key}, token).Err()
	}()

	fnCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(fnCtx, key, token, ttl, stop, cancel)
	}()

	err := fn(fnCtx)
	close(stop)
	<-done
	if err == nil && errors.Is(context.Cause(fnCtx), ErrLost) {
		return fmt.Errorf("%w: %s", ErrLost, key)
	}
	return err
}

func (l Locker) keepAlive(ctx context.Context, key, token string, ttl time.Duration, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	tick := time.NewTicker(max(ttl/3, 10*time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-tick.C:
			n, err := extend.Run(ctx, l.R, []string{key}, token, ttl.Milliseconds()).Int64()
			if err == nil && n == 0 {
				cancel(ErrLost)
				return
			}
		}
	}
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	waitCtx := ctx
	if l.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeoutCause(ctx, l.MaxWait, ErrNotAcquired)
		defer cancel()
	}
	for {
		ok, err := l.R.SetNX(waitCtx, key, token, ttl).Result()
		if ok {
			return nil
		}
		if err != nil && waitCtx.Err() == nil {
			return err
		}
		select {
		case <-waitCtx.Done():
			if cause := context.Cause(waitCtx); errors.Is(cause, ErrNotAcquired) {
				return ErrNotAcquired
			}
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}
