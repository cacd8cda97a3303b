package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps per-session markers in a Redis hash that expires with the session.
type Store struct {
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

func (s Store) key(sessionID string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "payflow:session"
	}
	return prefix + ":" + sessionID
}

// Get returns "" when the session or key is absent.
func (s Store) Get(ctx context.Context, sessionID, key string) (string, error) {
	if s.R == nil || sessionID == "" {
		return "", nil
	}
	value, err := s.R.HGet(ctx, s.key(sessionID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (s Store) Set(ctx context.Context, sessionID, key, value string) error {
	if s.R == nil {
		return errors.New("session: redis client not configured")
	}
	if sessionID == "" {
		return errors.New("session: id required")
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	k := s.key(sessionID)
	pipe := s.R.TxPipeline()
	pipe.HSet(ctx, k, key, value)
	pipe.Expire(ctx, k, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s Store) Delete(ctx context.Context, sessionID string, keys ...string) error {
	if s.R == nil || sessionID == "" || len(keys) == 0 {
		return nil
	}
	return s.R.HDel(ctx, s.key(sessionID), keys...).Err()
}
