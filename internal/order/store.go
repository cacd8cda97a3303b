package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/toko-payflow/internal/db"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

var (
	// ErrEmptyCart is returned when an order is created from a cart without items.
	ErrEmptyCart = errors.New("order: cart is empty")
	// ErrNotPending is returned when deleting an order that already moved on.
	ErrNotPending = errors.New("order: only pending orders can be deleted")
)

// Store persists orders and carts in Postgres.
type Store struct {
	DB      db.Querier
	BaseURL string
	Now     func() time.Time
}

// NewOrder describes an order placed from a cart.
type NewOrder struct {
	CartID          string
	UserID          string
	Currency        string
	Billing         payflow.BillingDetails
	ShippingTotal   int64
	IsRenewal       bool
	SubscriptionIDs []string
}

const orderColumns = `id::text, number, order_key, COALESCE(user_id, ''), COALESCE(cart_id, ''), COALESCE(cart_hash, ''),
	status, total, shipping_total, currency, billing, COALESCE(intent_id, ''), COALESCE(intent_status, ''),
	COALESCE(charge_id, ''), COALESCE(payment_method_id, ''), COALESCE(method_title, ''),
	is_renewal, stock_reduced, created_at`

func (s *Store) Get(ctx context.Context, id string) (payflow.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return payflow.Order{}, payflow.ErrOrderNotFound
	}
	row := s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payflow.Order{}, payflow.ErrOrderNotFound
		}
		return payflow.Order{}, fmt.Errorf("load order %s: %w", id, err)
	}
	if o.Items, err = s.items(ctx, id); err != nil {
		return payflow.Order{}, err
	}
	if o.SubscriptionIDs, err = s.subscriptions(ctx, id); err != nil {
		return payflow.Order{}, err
	}
	return o, nil
}

// FindByIntent returns the order an intent was recorded on.
func (s *Store) FindByIntent(ctx context.Context, intentID string) (payflow.Order, error) {
	var id string
	err := s.DB.QueryRow(ctx, `SELECT id::text FROM orders WHERE intent_id = $1 ORDER BY created_at DESC LIMIT 1`, intentID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payflow.Order{}, payflow.ErrOrderNotFound
		}
		return payflow.Order{}, err
	}
	return s.Get(ctx, id)
}

func (s *Store) RecordIntent(ctx context.Context, orderID string, att payflow.IntentAttachment) error {
	tag, err := s.DB.Exec(ctx, `UPDATE orders SET
		intent_id = $2,
		intent_status = $3,
		charge_id = COALESCE(NULLIF($4, ''), charge_id),
		customer_ref = COALESCE(NULLIF($5, ''), customer_ref),
		payment_method_id = COALESCE(NULLIF($6, ''), payment_method_id),
		saved_method_id = COALESCE(NULLIF($7, ''), saved_method_id),
		updated_at = $8
	WHERE id = $1`,
		orderID, att.IntentID, string(att.Status), att.ChargeID, att.CustomerRef, att.PaymentMethodID, att.LocalMethodID, s.now())
	if err != nil {
		return fmt.Errorf("record intent on order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return payflow.ErrOrderNotFound
	}
	return nil
}

func (s *Store) MarkPaid(ctx context.Context, orderID string, details payflow.PaidDetails) error {
	status := details.Status
	if status == "" {
		status = payflow.OrderProcessing
	}
	return db.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE orders SET status = $2, method_title = $3, transaction_id = NULLIF($4, ''),
			paid_at = COALESCE(paid_at, $5), updated_at = $5 WHERE id = $1`,
			orderID, string(status), details.MethodTitle, details.TransactionID, s.now())
		if err != nil {
			return fmt.Errorf("mark order %s paid: %w", orderID, err)
		}
		if tag.RowsAffected() == 0 {
			return payflow.ErrOrderNotFound
		}
		note := "Payment complete via " + details.MethodTitle
		if details.TransactionID != "" {
			note += " (" + details.TransactionID + ")"
		}
		return insertNote(ctx, tx, orderID, note, s.now())
	})
}

func (s *Store) UpdateStatus(ctx context.Context, orderID string, status payflow.OrderStatus, note string) error {
	return db.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, orderID, string(status), s.now())
		if err != nil {
			return fmt.Errorf("update order %s status: %w", orderID, err)
		}
		if tag.RowsAffected() == 0 {
			return payflow.ErrOrderNotFound
		}
		if strings.TrimSpace(note) == "" {
			return nil
		}
		return insertNote(ctx, tx, orderID, note, s.now())
	})
}

func (s *Store) AddNote(ctx context.Context, orderID, note string) error {
	return insertNote(ctx, s.DB, orderID, note, s.now())
}

// Notes returns the order notes oldest first.
func (s *Store) Notes(ctx context.Context, orderID string) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT note FROM order_notes WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Delete removes a pending order and everything hanging off it.
func (s *Store) Delete(ctx context.Context, orderID string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM orders WHERE id = $1 AND status IN ('pending', 'failed')`, orderID)
	if err != nil {
		return fmt.Errorf("delete order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

// ReduceStock decrements product stock once per order. Products without
// tracked stock are skipped.
func (s *Store) ReduceStock(ctx context.Context, orderID string) (bool, error) {
	reduced := false
	err := db.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE orders SET stock_reduced = TRUE, updated_at = $2 WHERE id = $1 AND NOT stock_reduced`, orderID, s.now())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE products p SET stock = p.stock - i.quantity, updated_at = $2
			FROM order_items i
			WHERE i.order_id = $1 AND i.product_id = p.id AND p.stock IS NOT NULL`, orderID, s.now()); err != nil {
			return err
		}
		reduced = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reduce stock for order %s: %w", orderID, err)
	}
	return reduced, nil
}

func (s *Store) ReceiptURL(o payflow.Order) string {
	return ReceiptURL(s.BaseURL, o)
}

// ReceiptURL builds the order-received page address.
func ReceiptURL(baseURL string, o payflow.Order) string {
	q := url.Values{}
	q.Set("key", o.Key)
	return strings.TrimRight(baseURL, "/") + "/orders/" + url.PathEscape(o.ID) + "/received?" + q.Encode()
}

// Create places a pending order for the contents of a cart.
func (s *Store) Create(ctx context.Context, in NewOrder) (payflow.Order, error) {
	lines, err := s.cartLines(ctx, in.CartID)
	if err != nil {
		return payflow.Order{}, err
	}
	if len(lines) == 0 {
		return payflow.Order{}, ErrEmptyCart
	}
	billing, err := json.Marshal(in.Billing)
	if err != nil {
		return payflow.Order{}, err
	}
	total := in.ShippingTotal
	items := make([]payflow.OrderItem, 0, len(lines))
	for _, l := range lines {
		total += l.UnitAmount * int64(l.Quantity)
		items = append(items, l)
	}
	key := "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))

	var id string
	err = db.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO orders (order_key, user_id, cart_id, cart_hash, total, shipping_total, currency, billing, is_renewal, created_at, updated_at)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $10) RETURNING id::text`,
			key, in.UserID, in.CartID, CartHash(items), total, in.ShippingTotal, currency, billing, in.IsRenewal, s.now()).Scan(&id)
		if err != nil {
			return err
		}
		for i, it := range items {
			if _, err := tx.Exec(ctx, `INSERT INTO order_items (order_id, position, product_id, sku, name, quantity, unit_amount)
				VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)`, id, i, it.ProductID, it.SKU, it.Name, it.Quantity, it.UnitAmount); err != nil {
				return err
			}
		}
		for _, sub := range in.SubscriptionIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO order_subscriptions (order_id, subscription_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, sub); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return payflow.Order{}, fmt.Errorf("create order: %w", err)
	}
	return s.Get(ctx, id)
}

// Empty removes every item from the cart.
func (s *Store) Empty(ctx context.Context, cartID string) error {
	if cartID == "" {
		return nil
	}
	_, err := s.DB.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	return err
}

func (s *Store) cartLines(ctx context.Context, cartID string) ([]payflow.OrderItem, error) {
	rows, err := s.DB.Query(ctx, `SELECT p.id, COALESCE(p.sku, ''), p.name, ci.quantity, p.price
		FROM cart_items ci JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1 ORDER BY p.id`, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart %s: %w", cartID, err)
	}
	defer rows.Close()
	var lines []payflow.OrderItem
	for rows.Next() {
		var it payflow.OrderItem
		if err := rows.Scan(&it.ProductID, &it.SKU, &it.Name, &it.Quantity, &it.UnitAmount); err != nil {
			return nil, err
		}
		lines = append(lines, it)
	}
	return lines, rows.Err()
}

func (s *Store) items(ctx context.Context, orderID string) ([]payflow.OrderItem, error) {
	rows, err := s.DB.Query(ctx, `SELECT product_id, COALESCE(sku, ''), name, quantity, unit_amount, tax_amount, discount_amount
		FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()
	var items []payflow.OrderItem
	for rows.Next() {
		var it payflow.OrderItem
		if err := rows.Scan(&it.ProductID, &it.SKU, &it.Name, &it.Quantity, &it.UnitAmount, &it.TaxAmount, &it.DiscountAmount); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) subscriptions(ctx context.Context, orderID string) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT subscription_id::text FROM order_subscriptions WHERE order_id = $1 ORDER BY subscription_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order subscriptions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertNote(ctx context.Context, ex execer, orderID, note string, at time.Time) error {
	if _, err := ex.Exec(ctx, `INSERT INTO order_notes (order_id, note, created_at) VALUES ($1, $2, $3)`, orderID, note, at); err != nil {
		return fmt.Errorf("add note to order %s: %w", orderID, err)
	}
	return nil
}

func scanOrder(row pgx.Row) (payflow.Order, error) {
	var (
		o       payflow.Order
		number  int64
		status  string
		intent  string
		billing []byte
	)
	err := row.Scan(&o.ID, &number, &o.Key, &o.UserID, &o.CartID, &o.CartHash,
		&status, &o.Total, &o.ShippingTotal, &o.Currency, &billing, &o.IntentID, &intent,
		&o.ChargeID, &o.PaymentMethodID, &o.MethodTitle, &o.IsRenewal, &o.StockReduced, &o.CreatedAt)
	if err != nil {
		return payflow.Order{}, err
	}
	o.Number = fmt.Sprintf("%d", number)
	o.Status = payflow.OrderStatus(status)
	o.IntentStatus = payflow.IntentStatus(intent)
	o.Currency = strings.TrimSpace(o.Currency)
	if len(billing) > 0 {
		if err := json.Unmarshal(billing, &o.Billing); err != nil {
			return payflow.Order{}, fmt.Errorf("decode billing: %w", err)
		}
	}
	return o, nil
}
