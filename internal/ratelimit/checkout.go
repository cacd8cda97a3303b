package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// FailedAttempts counts failed checkout attempts per session or IP. Once the
// configured number of failures is reached inside the period, further
// submissions are refused until the period rolls over.
type FailedAttempts struct {
	limiter *limiter.Limiter
	logger  zerolog.Logger
}

// NewFailedAttempts builds the limiter from a ulule rate such as "5-M".
func NewFailedAttempts(rate string, store limiter.Store, logger zerolog.Logger) (*FailedAttempts, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse rate %q: %w", rate, err)
	}
	return &FailedAttempts{limiter: limiter.New(store, parsed), logger: logger}, nil
}

// NewRedisStore returns a ulule store on the shared Redis client.
func NewRedisStore(client *redis.Client, prefix string) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
}

// NewMemoryStore returns a process-local ulule store.
func NewMemoryStore() limiter.Store {
	return memory.NewStore()
}

// IsLimited reports whether key exhausted its attempts. Store errors count as
// limited.
func (f *FailedAttempts) IsLimited(ctx context.Context, key string) bool {
	if f == nil || key == "" {
		return false
	}
	lctx, err := f.limiter.Peek(ctx, key)
	if err != nil {
		f.logger.Error().Err(err).Str("key", key).Msg("checkout limiter peek failed")
		return true
	}
	return lctx.Reached || lctx.Remaining == 0
}

// Bump records one failed attempt for key.
func (f *FailedAttempts) Bump(ctx context.Context, key string) {
	if f == nil || key == "" {
		return
	}
	if _, err := f.limiter.Get(ctx, key); err != nil {
		f.logger.Error().Err(err).Str("key", key).Msg("checkout limiter bump failed")
	}
}
