package order_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payflow/internal/db"
	"github.com/noah-isme/toko-payflow/internal/order"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

func TestCartHashIgnoresLineOrder(t *testing.T) {
	t.Parallel()
	a := []payflow.OrderItem{{ProductID: "p1", Quantity: 1, UnitAmount: 500}, {ProductID: "p2", Quantity: 2, UnitAmount: 250}}
	b := []payflow.OrderItem{a[1], a[0]}
	require.Equal(t, order.CartHash(a), order.CartHash(b))
	require.NotEqual(t, order.CartHash(a), order.CartHash(a[:1]))
	require.Empty(t, order.CartHash(nil))
}

func TestReceiptURL(t *testing.T) {
	t.Parallel()
	o := payflow.Order{ID: "8d4c", Key: "order_abc"}
	require.Equal(t, "https://shop.test/orders/8d4c/received?key=order_abc", order.ReceiptURL("https://shop.test/", o))
}

func TestStoreGetRejectsMalformedID(t *testing.T) {
	t.Parallel()
	s := &order.Store{}
	_, err := s.Get(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, payflow.ErrOrderNotFound)
}

func TestStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	require.NoError(t, db.Migrate(dsn))
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `INSERT INTO products (id, sku, name, price, stock) VALUES ('prod-lifecycle', 'SKU-L', 'Mug', 1200, 10)
		ON CONFLICT (id) DO UPDATE SET stock = 10`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO carts (id) VALUES ('cart-lifecycle') ON CONFLICT DO NOTHING`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ('cart-lifecycle', 'prod-lifecycle', 2)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = 2`)
	require.NoError(t, err)

	store := &order.Store{DB: pool, BaseURL: "https://shop.test"}
	o, err := store.Create(ctx, order.NewOrder{
		CartID:   "cart-lifecycle",
		Currency: "usd",
		Billing:  payflow.BillingDetails{FirstName: "Ana", Email: "ana@example.com"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2400, o.Total)
	require.Equal(t, "USD", o.Currency)
	require.Equal(t, payflow.OrderPending, o.Status)
	require.Len(t, o.Items, 1)
	require.NotEmpty(t, o.CartHash)

	require.NoError(t, store.RecordIntent(ctx, o.ID, payflow.IntentAttachment{IntentID: "pi_1", Status: payflow.StatusSucceeded, ChargeID: "ch_1"}))
	require.NoError(t, store.MarkPaid(ctx, o.ID, payflow.PaidDetails{Status: payflow.OrderProcessing, MethodTitle: "Visa ending in 4242", TransactionID: "ch_1"}))

	reduced, err := store.ReduceStock(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, reduced)
	reduced, err = store.ReduceStock(ctx, o.ID)
	require.NoError(t, err)
	require.False(t, reduced)

	var stock int
	require.NoError(t, pool.QueryRow(ctx, `SELECT stock FROM products WHERE id = 'prod-lifecycle'`).Scan(&stock))
	require.Equal(t, 8, stock)

	got, err := store.FindByIntent(ctx, "pi_1")
	require.NoError(t, err)
	require.Equal(t, o.ID, got.ID)
	require.True(t, got.IsPaid())
	require.Equal(t, "ch_1", got.ChargeID)

	notes, err := store.Notes(ctx, o.ID)
	require.NoError(t, err)
	require.NotEmpty(t, notes)

	require.ErrorIs(t, store.Delete(ctx, o.ID), order.ErrNotPending)
	require.NoError(t, store.Empty(ctx, "cart-lifecycle"))
}
