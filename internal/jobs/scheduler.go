package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/toko-payflow/internal/common"
	"github.com/noah-isme/toko-payflow/internal/queue"
)

// Enqueuer is the queue surface the scheduler publishes to.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// QueueScheduler schedules jobs on the Redis task queue.
type QueueScheduler struct {
	Queue       Enqueuer
	MaxAttempts int
}

func (s QueueScheduler) Schedule(ctx context.Context, job string, payload any) error {
	if s.Queue == nil {
		return errors.New("jobs: queue not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobs: encode %s: %w", job, err)
	}
	return s.Queue.Enqueue(ctx, queue.Task{
		Kind:           job,
		Payload:        body,
		IdempotencyKey: dedupKey(body),
		MaxAttempts:    s.MaxAttempts,
	})
}

// AsynqScheduler schedules jobs through asynq.
type AsynqScheduler struct {
	Client   *asynq.Client
	Queue    string
	MaxRetry int
}

func (s AsynqScheduler) Schedule(ctx context.Context, job string, payload any) error {
	if s.Client == nil {
		return errors.New("jobs: asynq client not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobs: encode %s: %w", job, err)
	}
	opts := []asynq.Option{asynq.TaskID(job + ":" + dedupKey(body))}
	if s.Queue != "" {
		opts = append(opts, asynq.Queue(s.Queue))
	}
	if s.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(s.MaxRetry))
	}
	_, err = s.Client.EnqueueContext(ctx, asynq.NewTask(job, body), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// identical payloads collapse into one task
func dedupKey(body []byte) string {
	return common.Sha256Hex(string(body))[:32]
}
