package queue_test

import (
	"context"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payflow/internal/queue"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func quietLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// runWorker starts w in the background and returns a stop func that waits for
// it to drain.
func runWorker(t *testing.T, w queue.Worker) (context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return ctx, stop
}

// memoryStore keeps dead letters in insertion order.
type memoryStore struct {
	mu      sync.Mutex
	entries []queue.DLQEntry
}

func newMemoryStore() *memoryStore { return &memoryStore{} }

func (m *memoryStore) InsertQueueDlq(_ context.Context, entry queue.DLQEntry) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.entries = append(m.entries, entry)
	return entry.ID, nil
}

func (m *memoryStore) DeleteQueueDlq(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = slices.DeleteFunc(m.entries, func(e queue.DLQEntry) bool { return e.ID == id })
	return nil
}

func (m *memoryStore) GetQueueDlq(_ context.Context, id uuid.UUID) (queue.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return queue.DLQEntry{}, queue.ErrEntryNotFound
}

func (m *memoryStore) ListQueueDlq(_ context.Context, kind string, limit, offset int) ([]queue.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []queue.DLQEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if kind == "" || m.entries[i].Kind == kind {
			out = append(out, m.entries[i])
		}
	}
	if offset >= len(out) {
		return []queue.DLQEntry{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	entries, err := m.ListQueueDlq(ctx, kind, 0, 0)
	return int64(len(entries)), err
}

func (m *memoryStore) snapshot() []queue.DLQEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}
