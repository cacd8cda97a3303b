package methods_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payflow/internal/db"
	"github.com/noah-isme/toko-payflow/internal/methods"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

func TestAddRejectsIncompleteToken(t *testing.T) {
	t.Parallel()
	s := &methods.Store{}
	_, err := s.Add(context.Background(), "", payflow.SavedToken{GatewayID: "pm_1"})
	require.ErrorIs(t, err, methods.ErrInvalidToken)
	_, err = s.Add(context.Background(), "u1", payflow.SavedToken{})
	require.ErrorIs(t, err, methods.ErrInvalidToken)
}

func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	require.NoError(t, db.Migrate(dsn))
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(ctx, `DELETE FROM saved_methods WHERE user_id = 'methods-test'`)
	require.NoError(t, err)

	s := &methods.Store{DB: pool}
	first, err := s.Add(ctx, "methods-test", payflow.SavedToken{GatewayID: "pm_a", Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030})
	require.NoError(t, err)
	require.True(t, first.IsDefault)
	require.NotEmpty(t, first.ID)

	second, err := s.Add(ctx, "methods-test", payflow.SavedToken{GatewayID: "pm_b", Type: "sepa_debit", Last4: "3000"})
	require.NoError(t, err)
	require.False(t, second.IsDefault)

	again, err := s.Add(ctx, "methods-test", payflow.SavedToken{GatewayID: "pm_a", ExpYear: 2031})
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, 2031, again.ExpYear)
	require.Equal(t, "4242", again.Last4)

	list, err := s.List(ctx, "methods-test")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "pm_a", list[0].GatewayID)

	_, err = s.Get(ctx, "someone-else", first.ID)
	require.ErrorIs(t, err, methods.ErrTokenNotFound)

	err = s.AttachToOrder(ctx, "00000000-0000-0000-0000-000000000000", first)
	require.ErrorIs(t, err, payflow.ErrOrderNotFound)
}
