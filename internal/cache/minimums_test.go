package cache_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payflow/internal/cache"
)

func TestMinimumsExpire(t *testing.T) {
	t.Parallel()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	minimums := cache.NewMinimums(client, time.Hour, zerolog.Nop())

	_, ok := minimums.Get(ctx, "usd")
	require.False(t, ok)

	minimums.Set(ctx, "usd", 50)
	amount, ok := minimums.Get(ctx, "USD")
	require.True(t, ok)
	require.EqualValues(t, 50, amount)
	require.True(t, mr.Exists("payflow:min_amount:USD"))

	mr.FastForward(2 * time.Hour)
	_, ok = minimums.Get(ctx, "USD")
	require.False(t, ok)
}

func TestJSONWithoutClient(t *testing.T) {
	t.Parallel()
	c := cache.NewJSON(nil, "x:", time.Minute)
	var v map[string]string
	found, err := c.Get(context.Background(), "k", &v)
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, c.Set(context.Background(), "k", map[string]string{"a": "b"}))
}
