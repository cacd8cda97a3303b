package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-payflow/internal/db"
)

var (
	// ErrStoreUnavailable indicates the DLQ store dependency is not configured.
	ErrStoreUnavailable = errors.New("queue: store unavailable")
	// ErrEntryNotFound is returned for unknown DLQ ids.
	ErrEntryNotFound = errors.New("queue: dlq entry not found")
)

// Store persists dead-lettered tasks.
type Store interface {
	InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteQueueDlq(ctx context.Context, id uuid.UUID) error
	GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountQueueDlq(ctx context.Context, kind string) (int64, error)
}

// DLQEntry is a task that exhausted its retries. Payload holds the encoded
// task message so it can be replayed as-is.
type DLQEntry struct {
	ID             uuid.UUID
	Kind           string
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
}

// NewStore returns a Store on the queue_dlq table.
func NewStore(q db.Querier) Store {
	return &pgStore{db: q}
}

type pgStore struct {
	db db.Querier
}

const dlqColumns = `id, kind, idem_key, payload, attempts, last_error, created_at`

func (s *pgStore) InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error) {
	if s == nil || s.db == nil {
		return uuid.Nil, ErrStoreUnavailable
	}
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		entry.Kind, entry.IdempotencyKey, entry.Payload, entry.Attempts, entry.LastError).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *pgStore) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	_, err := s.db.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	return err
}

func (s *pgStore) GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	if s == nil || s.db == nil {
		return DLQEntry{}, ErrStoreUnavailable
	}
	entry, err := scanEntry(s.db.QueryRow(ctx, `SELECT `+dlqColumns+` FROM queue_dlq WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return DLQEntry{}, ErrEntryNotFound
	}
	return entry, err
}

// ListQueueDlq returns entries newest first, optionally filtered by kind.
func (s *pgStore) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.db.Query(ctx, `SELECT `+dlqColumns+` FROM queue_dlq
		WHERE ($1 = '' OR kind = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		strings.TrimSpace(kind), min(max(limit, 1), 500), max(offset, 0))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DLQEntry, error) {
		return scanEntry(row)
	})
}

func (s *pgStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq WHERE ($1 = '' OR kind = $1)`, strings.TrimSpace(kind)).Scan(&total)
	return total, err
}

func scanEntry(row pgx.Row) (DLQEntry, error) {
	var e DLQEntry
	err := row.Scan(&e.ID, &e.Kind, &e.IdempotencyKey, &e.Payload, &e.Attempts, &e.LastError, &e.CreatedAt)
	return e, err
}
