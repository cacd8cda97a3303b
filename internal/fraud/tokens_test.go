package fraud_test

import (
	"context"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payflow/internal/fraud"
)

func TestTokensBoundToSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := fraud.New(true, "s3cret", 10*time.Minute, zerolog.Nop())
	tokens.Now = func() time.Time { return now }

	tok, err := tokens.Issue(ctx, "sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	require.True(t, tokens.Verify(ctx, "sess-1", tok))
	require.False(t, tokens.Verify(ctx, "sess-2", tok))
	require.False(t, tokens.Verify(ctx, "sess-1", ""))
	require.False(t, tokens.Verify(ctx, "sess-1", tok+"x"))

	now = now.Add(11 * time.Minute)
	require.False(t, tokens.Verify(ctx, "sess-1", tok))
}

func TestTokensRejectForeignKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tokens := fraud.New(true, "s3cret", time.Minute, zerolog.Nop())

	built, err := jwt.NewBuilder().
		Issuer("toko-payflow").
		Audience([]string{"checkout"}).
		Subject("sess-1").
		Expiration(time.Now().Add(time.Minute)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(built, jwt.WithKey(jwa.HS256, []byte("other")))
	require.NoError(t, err)

	require.False(t, tokens.Verify(ctx, "sess-1", string(signed)))
}

func TestTokensDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tokens := fraud.New(false, "s3cret", time.Minute, zerolog.Nop())

	require.False(t, tokens.Enabled())
	tok, err := tokens.Issue(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, tok)
	require.True(t, tokens.Verify(ctx, "sess-1", "anything"))

	require.False(t, fraud.New(true, "", time.Minute, zerolog.Nop()).Enabled())
}
