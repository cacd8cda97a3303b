package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payflow/internal/queue"
)

func TestEnqueueDequeue(t *testing.T) {
	client := newRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "test"}
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: "subscription-renewal", Payload: []byte("payload"), IdempotencyKey: "1"}))

	processed := make(chan queue.Task, 1)
	runWorker(t, queue.Worker{
		R:                 client,
		Prefix:            "test",
		Kind:              "subscription-renewal",
		VisibilityTimeout: time.Second,
		Handler: func(_ context.Context, task queue.Task) error {
			processed <- task
			return nil
		},
	})

	select {
	case task := <-processed:
		require.Equal(t, []byte("payload"), task.Payload)
		require.Equal(t, 1, task.Attempt)
		require.Equal(t, "subscription-renewal", task.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for payload")
	}
}

func TestWorkerRetries(t *testing.T) {
	client := newRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "retry"}
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: "subscription-renewal", Payload: []byte("retry"), IdempotencyKey: "r1", MaxAttempts: 3}))

	var attempts atomic.Int32
	succeeded := make(chan int, 1)
	runWorker(t, queue.Worker{
		R:                 client,
		Prefix:            "retry",
		Kind:              "subscription-renewal",
		VisibilityTimeout: time.Second,
		RetryBase:         5 * time.Millisecond,
		RetryJitter:       0.1,
		Handler: func(_ context.Context, task queue.Task) error {
			if attempts.Add(1) == 1 {
				return errors.New("processor unavailable")
			}
			succeeded <- task.Attempt
			return nil
		},
	})

	select {
	case attempt := <-succeeded:
		require.Equal(t, 2, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not retry in time")
	}
}

// A handler that overruns its soft deadline loses the claim; the task comes
// back with the next attempt number once the visibility timeout passes.
func TestVisibilityTimeoutRequeue(t *testing.T) {
	client := newRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "vis", DedupTTL: time.Minute, MaxAttempts: 3}

	attempts := make(chan int, 2)
	_, stop := runWorker(t, queue.Worker{
		R:                 client,
		Prefix:            "vis",
		Kind:              "save-payment-method",
		Concurrency:       1,
		VisibilityTimeout: 150 * time.Millisecond,
		SoftDeadline:      80 * time.Millisecond,
		RetryBase:         20 * time.Millisecond,
		Store:             newMemoryStore(),
		Logger:            quietLogger(),
		Handler: func(jobCtx context.Context, task queue.Task) error {
			attempts <- task.Attempt
			if task.Attempt == 1 {
				<-jobCtx.Done()
				return jobCtx.Err()
			}
			return nil
		},
	})
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: "save-payment-method", Payload: []byte("payload"), IdempotencyKey: "a1", MaxAttempts: 3}))

	require.Eventually(t, func() bool { return len(attempts) == 2 }, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, <-attempts)
	require.Equal(t, 2, <-attempts)

	require.Eventually(t, func() bool {
		ready, inflight, err := enq.Depth(context.Background(), "save-payment-method")
		return err == nil && ready == 0 && inflight == 0
	}, time.Second, 20*time.Millisecond)
	stop()
}

func TestEnqueueDeduplicatesByKey(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()
	enq := queue.Enqueuer{R: client, Prefix: "dedup", MaxAttempts: 4}
	task := queue.Task{Kind: "save-payment-method", Payload: []byte(`{"order_id":"o1"}`), IdempotencyKey: "o1"}
	require.NoError(t, enq.Enqueue(ctx, task))
	require.NoError(t, enq.Enqueue(ctx, task))

	ready, inflight, err := enq.Depth(ctx, "save-payment-method")
	require.NoError(t, err)
	require.Equal(t, int64(1), ready)
	require.Zero(t, inflight)

	require.NoError(t, enq.Release(ctx, "save-payment-method", "o1"))
	require.NoError(t, enq.Enqueue(ctx, task))
	ready, _, err = enq.Depth(ctx, "save-payment-method")
	require.NoError(t, err)
	require.Equal(t, int64(2), ready)

	require.Error(t, enq.Enqueue(ctx, queue.Task{Kind: "Bad Kind"}))
}
