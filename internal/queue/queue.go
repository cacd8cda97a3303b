package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payflow/internal/resilience"
)

const defaultMaxAttempts = 10

// Task is a unit of background work. Attempt is 1 on first delivery.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Attempt        int
	Delay          time.Duration
}

// Permanent marks err as not worth retrying. The task is dead-lettered at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

type permanentError struct{ error }

func (e permanentError) Unwrap() error { return e.error }

// Enqueuer publishes tasks to Redis sorted sets scored by due time.
type Enqueuer struct {
	R        *redis.Client
	Prefix   string
	DedupTTL time.Duration
	// MaxAttempts applies to tasks that do not set their own.
	MaxAttempts int
}

// Enqueue schedules the task. A task carrying an idempotency key is accepted
// once per dedup window; later copies are dropped without error.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid task kind %q", t.Kind)
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     max(t.Attempt, 0),
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = defaultMaxAttempts
	}

	k := keys{prefix: e.Prefix, kind: kind}
	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, k.dedup(msg.Key), "1", ttl).Result()
		if err != nil {
			return fmt.Errorf("queue: dedup %s: %w", kind, err)
		}
		if !ok {
			return nil
		}
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err()
}

// Release forgets the dedup marker of key so the task can be enqueued again.
func (e Enqueuer) Release(ctx context.Context, kind, key string) error {
	if key == "" {
		return nil
	}
	return e.R.Del(ctx, keys{prefix: e.Prefix, kind: sanitizeKind(kind)}.dedup(key)).Err()
}

// Depth reports ready and in-flight task counts for kind.
func (e Enqueuer) Depth(ctx context.Context, kind string) (ready, inflight int64, err error) {
	k := keys{prefix: e.Prefix, kind: sanitizeKind(kind)}
	if ready, err = e.R.ZCard(ctx, k.ready()).Result(); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	if inflight, err = e.R.ZCard(ctx, k.processing()).Result(); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	return ready, inflight, nil
}

// Worker consumes tasks of one kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline bounds a single handler call. Defaults to VisibilityTimeout.
	SoftDeadline time.Duration
	Handler      func(context.Context, Task) error
	RetryBase    time.Duration
	RetryJitter  float64
	// Store receives exhausted tasks. Without it they land in a Redis list.
	Store  Store
	Logger *zerolog.Logger
}

// Run processes tasks until ctx is cancelled. Claimed tasks sit in a
// processing set scored by their visibility deadline so a crashed worker's
// tasks are redelivered.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid worker kind %q", w.Kind)
	}
	k := keys{prefix: w.Prefix, kind: kind}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	soft := w.SoftDeadline
	if soft <= 0 || soft > visibility {
		soft = visibility
	}

	sem := make(chan struct{}, max(w.Concurrency, 1))
	var wg sync.WaitGroup
	defer wg.Wait()

	sweep := time.NewTicker(min(visibility/2, time.Second))
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			if err := w.requeueExpired(ctx, k); err != nil && ctx.Err() == nil {
				w.logger().Warn().Err(err).Str("kind", kind).Msg("requeue expired tasks")
			}
		default:
		}

		msg, raw, ok, err := w.claim(ctx, k, visibility)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			pause(ctx, 50*time.Millisecond)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, k, raw, msg, soft)
		}()
	}
}

// claim moves the next due task into the processing set.
func (w Worker) claim(ctx context.Context, k keys, visibility time.Duration) (taskMessage, string, bool, error) {
	now := time.Now().UnixNano()
	due, err := w.R.ZRangeByScore(ctx, k.ready(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprint(now), Count: 1}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return taskMessage{}, "", false, err
	}
	if len(due) == 0 {
		return taskMessage{}, "", false, nil
	}
	removed, err := w.R.ZRem(ctx, k.ready(), due[0]).Result()
	if err != nil {
		return taskMessage{}, "", false, err
	}
	if removed == 0 {
		// another worker took it
		return taskMessage{}, "", false, nil
	}
	msg, err := decodeMessage(due[0])
	if err != nil {
		w.logger().Error().Err(err).Str("kind", k.kind).Msg("drop undecodable task")
		return taskMessage{}, "", false, nil
	}
	msg.Attempt++
	encoded, err := json.Marshal(msg)
	if err != nil {
		return taskMessage{}, "", false, err
	}
	raw := string(encoded)
	deadline := time.Now().Add(visibility).UnixNano()
	if err := w.R.ZAdd(ctx, k.processing(), redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
		return taskMessage{}, "", false, err
	}
	return msg, raw, true, nil
}

func (w Worker) process(ctx context.Context, k keys, raw string, msg taskMessage, soft time.Duration) {
	jobCtx, cancel := context.WithTimeout(ctx, soft)
	defer cancel()
	err := w.Handler(jobCtx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        msg.Attempt,
	})
	// bookkeeping must survive a shutdown that cancelled the handler
	bg := context.WithoutCancel(ctx)
	if err == nil {
		w.ack(bg, k, raw, msg)
		QueueProcessedTotal.WithLabelValues(msg.Kind, "ok").Inc()
		return
	}
	w.fail(bg, k, raw, msg, err)
}

func (w Worker) ack(ctx context.Context, k keys, raw string, msg taskMessage) {
	_ = w.R.ZRem(ctx, k.processing(), raw).Err()
	if msg.Key != "" {
		_ = w.R.Del(ctx, k.dedup(msg.Key)).Err()
	}
}

func (w Worker) fail(ctx context.Context, k keys, raw string, msg taskMessage, cause error) {
	removed, err := w.R.ZRem(ctx, k.processing(), raw).Result()
	if err == nil && removed == 0 {
		// the visibility sweep already redelivered it
		return
	}
	log := w.logger().With().Str("kind", msg.Kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Logger()
	var permanent permanentError
	if errors.As(cause, &permanent) || (msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts) {
		QueueProcessedTotal.WithLabelValues(msg.Kind, "dead").Inc()
		if err := w.deadLetter(ctx, k, msg, cause); err != nil {
			log.Error().Err(err).AnErr("cause", cause).Msg("dead-letter task")
			return
		}
		log.Warn().Err(cause).Msg("task exhausted retries")
		if msg.Key != "" {
			_ = w.R.Del(ctx, k.dedup(msg.Key)).Err()
		}
		return
	}
	QueueProcessedTotal.WithLabelValues(msg.Kind, "retry").Inc()
	delay := resilience.Backoff(w.retryBase(), msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := w.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); err != nil {
		log.Error().Err(err).Msg("reschedule task")
		return
	}
	log.Info().Err(cause).Dur("delay", delay).Msg("task failed, retrying")
}

func (w Worker) deadLetter(ctx context.Context, k keys, msg taskMessage, cause error) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if w.Store == nil {
		return w.R.LPush(ctx, k.dlq(), encoded).Err()
	}
	lastErr := cause.Error()
	_, err = w.Store.InsertQueueDlq(ctx, DLQEntry{
		Kind:           msg.Kind,
		IdempotencyKey: msg.Key,
		Payload:        encoded,
		Attempts:       msg.Attempt,
		LastError:      &lastErr,
	})
	return err
}

func (w Worker) requeueExpired(ctx context.Context, k keys) error {
	now := time.Now().UnixNano()
	expired, err := w.R.ZRangeByScore(ctx, k.processing(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprint(now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range expired {
		removed, err := w.R.ZRem(ctx, k.processing(), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err()
		w.logger().Warn().Str("kind", msg.Kind).Int("attempt", msg.Attempt).Msg("visibility timeout elapsed, task redelivered")
	}
	return nil
}

func (w Worker) retryBase() time.Duration {
	if w.RetryBase <= 0 {
		return 200 * time.Millisecond
	}
	return w.RetryBase
}

func (w Worker) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type keys struct {
	prefix string
	kind   string
}

func (k keys) base() string {
	if k.prefix == "" {
		return "queue"
	}
	return k.prefix
}

func (k keys) ready() string         { return k.base() + ":queue:" + k.kind }
func (k keys) processing() string    { return k.base() + ":" + k.kind + ":processing" }
func (k keys) dlq() string           { return k.base() + ":" + k.kind + ":dlq" }
func (k keys) dedup(id string) string { return k.base() + ":dedup:" + k.kind + ":" + id }

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return ""
		}
	}
	return kind
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}
