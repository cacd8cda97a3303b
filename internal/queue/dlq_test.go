package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payflow/internal/queue"
)

func TestMoveToDLQAfterMaxAttempts(t *testing.T) {
	client := newRedis(t)
	store := newMemoryStore()
	runWorker(t, queue.Worker{
		R:                 client,
		Prefix:            "dlq",
		Kind:              "save-payment-method",
		Concurrency:       1,
		VisibilityTimeout: 120 * time.Millisecond,
		RetryBase:         20 * time.Millisecond,
		Store:             store,
		Logger:            quietLogger(),
		Handler: func(context.Context, queue.Task) error {
			return errors.New("processor rejected method")
		},
	})

	enq := queue.Enqueuer{R: client, Prefix: "dlq", MaxAttempts: 2}
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: "save-payment-method", Payload: []byte("body"), IdempotencyKey: "dlq1", MaxAttempts: 2}))

	require.Eventually(t, func() bool { return len(store.snapshot()) == 1 }, 2*time.Second, 20*time.Millisecond)
	entry := store.snapshot()[0]
	require.Equal(t, "save-payment-method", entry.Kind)
	require.Equal(t, "dlq1", entry.IdempotencyKey)
	require.Equal(t, 2, entry.Attempts)
	require.NotEmpty(t, entry.Payload)
	require.NotNil(t, entry.LastError)
	require.Contains(t, *entry.LastError, "processor rejected method")
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	client := newRedis(t)
	store := newMemoryStore()
	runWorker(t, queue.Worker{
		R:                 client,
		Prefix:            "perm",
		Kind:              "subscription-renewal",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         10 * time.Millisecond,
		Store:             store,
		Logger:            quietLogger(),
		Handler: func(context.Context, queue.Task) error {
			return queue.Permanent(errors.New("order gone"))
		},
	})

	enq := queue.Enqueuer{R: client, Prefix: "perm", MaxAttempts: 5}
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: "subscription-renewal", Payload: []byte(`{"order_id":"o1"}`)}))

	require.Eventually(t, func() bool {
		count, err := store.CountQueueDlq(context.Background(), "subscription-renewal")
		return err == nil && count == 1
	}, 2*time.Second, 20*time.Millisecond)
	entry := store.snapshot()[0]
	require.Equal(t, 1, entry.Attempts)
	require.Contains(t, *entry.LastError, "order gone")
}
