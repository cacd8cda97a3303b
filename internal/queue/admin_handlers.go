package queue

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payflow/internal/common"
)

// AdminHandler exposes dead-letter inspection and replay for background jobs.
type AdminHandler struct {
	Store             Store
	Queue             Enqueuer
	PageSize          int
	Logger            zerolog.Logger
	VisibilityTimeout time.Duration
}

// Routes mounts the admin endpoints on r.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/dlq", h.ListDLQ)
	r.Post("/dlq/replay", h.ReplayDLQ)
	r.Get("/stats", h.Stats)
}

// ListDLQ returns dead-lettered tasks, newest first.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue store unavailable", nil)
		return
	}
	ctx := r.Context()
	kind := sanitizeKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	limit, offset := parsePagination(r, h.pageSize())

	entries, err := h.Store.ListQueueDlq(ctx, kind, limit, offset)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	total, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	items := make([]dlqItem, 0, len(entries))
	for _, entry := range entries {
		item := dlqItem{
			ID:             entry.ID,
			Kind:           entry.Kind,
			IdempotencyKey: entry.IdempotencyKey,
			Attempts:       entry.Attempts,
			LastError:      entry.LastError,
			CreatedAt:      entry.CreatedAt,
		}
		if msg, err := decodeMessage(string(entry.Payload)); err == nil {
			item.Payload = msg.Payload
		}
		items = append(items, item)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "total": total})
}

type replayRequest struct {
	IDs   []string `json:"ids" validate:"omitempty,dive,uuid"`
	Kind  string   `json:"kind" validate:"omitempty,max=64"`
	Limit int      `json:"limit" validate:"gte=0,lte=500"`
}

// ReplayDLQ re-enqueues entries by id, or the oldest batch of a kind.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue dependencies unavailable", nil)
		return
	}
	var req replayRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	kind := sanitizeKind(strings.TrimSpace(req.Kind))
	if len(req.IDs) == 0 && kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or kind required", nil)
		return
	}

	ctx := r.Context()
	var entries []DLQEntry
	failed := map[string]string{}
	if len(req.IDs) > 0 {
		seen := map[uuid.UUID]bool{}
		for _, raw := range req.IDs {
			id := uuid.MustParse(raw)
			if seen[id] {
				continue
			}
			seen[id] = true
			entry, err := h.Store.GetQueueDlq(ctx, id)
			if err != nil {
				failed[raw] = err.Error()
				continue
			}
			entries = append(entries, entry)
		}
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = h.pageSize()
		}
		var err error
		if entries, err = h.Store.ListQueueDlq(ctx, kind, limit, 0); err != nil {
			common.WriteError(w, err)
			return
		}
	}

	replayed := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := h.requeue(ctx, entry); err != nil {
			failed[entry.ID.String()] = err.Error()
			continue
		}
		replayed = append(replayed, entry.ID.String())
	}
	h.Logger.Info().Int("replayed", len(replayed)).Int("failed", len(failed)).Str("kind", kind).Msg("dlq replay")
	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

// Stats reports ready, in-flight and dead-lettered counts for a kind.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue.R == nil || h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue dependencies unavailable", nil)
		return
	}
	kind := sanitizeKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return
	}
	ctx := r.Context()
	ready, inflight, err := h.Queue.Depth(ctx, kind)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	dead, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var lag time.Duration
	k := keys{prefix: h.Queue.Prefix, kind: kind}
	if oldest, err := h.Queue.R.ZRangeWithScores(ctx, k.ready(), 0, 0).Result(); err == nil && len(oldest) > 0 {
		if due := time.Unix(0, int64(oldest[0].Score)); due.Before(time.Now()) {
			lag = time.Since(due)
		}
	}
	QueueDepth.WithLabelValues(kind).Set(float64(ready))
	QueueDLQSize.WithLabelValues(kind).Set(float64(dead))

	visibility := h.VisibilityTimeout
	if visibility <= 0 {
		visibility = 60 * time.Second
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"kind":               kind,
		"ready":              ready,
		"processing":         inflight,
		"dlq":                dead,
		"oldest_lag_ms":      lag.Milliseconds(),
		"visibility_timeout": visibility.Seconds(),
	})
}

// requeue gives a dead task a fresh set of attempts.
func (h *AdminHandler) requeue(ctx context.Context, entry DLQEntry) error {
	msg, err := decodeMessage(string(entry.Payload))
	if err != nil {
		return err
	}
	if err := h.Queue.Release(ctx, msg.Kind, msg.Key); err != nil {
		return err
	}
	if err := h.Queue.Enqueue(ctx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
	}); err != nil {
		return err
	}
	return h.Store.DeleteQueueDlq(ctx, entry.ID)
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

func parsePagination(r *http.Request, limit int) (int, int) {
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

type dlqItem struct {
	ID             uuid.UUID `json:"id"`
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"last_error,omitempty"`
	Payload        []byte    `json:"payload,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
