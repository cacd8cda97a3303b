package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type minimumEntry struct {
	Currency  string    `json:"currency"`
	Amount    int64     `json:"amount"`
	LearnedAt time.Time `json:"learned_at"`
}

// Minimums remembers processor minimum charge amounts per currency so later
// checkouts can fail before calling the processor.
type Minimums struct {
	store  *JSON
	logger zerolog.Logger
}

func NewMinimums(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Minimums {
	return &Minimums{store: NewJSON(client, "payflow:min_amount:", ttl), logger: logger}
}

func (m *Minimums) Get(ctx context.Context, currency string) (int64, bool) {
	var entry minimumEntry
	found, err := m.store.Get(ctx, strings.ToUpper(currency), &entry)
	if err != nil {
		m.logger.Warn().Err(err).Str("currency", currency).Msg("minimum amount lookup failed")
		return 0, false
	}
	if !found || entry.Amount <= 0 {
		return 0, false
	}
	return entry.Amount, true
}

func (m *Minimums) Set(ctx context.Context, currency string, amount int64) {
	code := strings.ToUpper(currency)
	entry := minimumEntry{Currency: code, Amount: amount, LearnedAt: time.Now().UTC()}
	if err := m.store.Set(ctx, code, entry); err != nil {
		m.logger.Warn().Err(err).Str("currency", code).Msg("minimum amount store failed")
	}
}
