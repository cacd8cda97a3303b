package methods

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-payflow/internal/db"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

var (
	// ErrTokenNotFound is returned when a saved credential does not exist.
	ErrTokenNotFound = errors.New("methods: saved method not found")
	// ErrInvalidToken is returned for credentials without owner or processor id.
	ErrInvalidToken = errors.New("methods: saved method requires user and gateway id")
)

// Store keeps shoppers' saved payment credentials in Postgres.
type Store struct {
	DB  db.Querier
	Now func() time.Time
}

const tokenColumns = `id::text, user_id, gateway_id, type, COALESCE(brand, ''), COALESCE(last4, ''),
	COALESCE(exp_month, 0), COALESCE(exp_year, 0), is_default`

// Add stores token for userID. Saving the same processor credential twice
// refreshes its details. The first credential a user saves becomes the default.
func (s *Store) Add(ctx context.Context, userID string, token payflow.SavedToken) (payflow.SavedToken, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(token.GatewayID) == "" {
		return payflow.SavedToken{}, ErrInvalidToken
	}
	if token.Type == "" {
		token.Type = "card"
	}
	row := s.DB.QueryRow(ctx, `INSERT INTO saved_methods (user_id, gateway_id, type, brand, last4, exp_month, exp_year, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, 0), NULLIF($7, 0),
			NOT EXISTS (SELECT 1 FROM saved_methods WHERE user_id = $1), $8, $8)
		ON CONFLICT (user_id, gateway_id) DO UPDATE SET
			type = EXCLUDED.type,
			brand = COALESCE(EXCLUDED.brand, saved_methods.brand),
			last4 = COALESCE(EXCLUDED.last4, saved_methods.last4),
			exp_month = COALESCE(EXCLUDED.exp_month, saved_methods.exp_month),
			exp_year = COALESCE(EXCLUDED.exp_year, saved_methods.exp_year),
			updated_at = EXCLUDED.updated_at
		RETURNING `+tokenColumns,
		userID, token.GatewayID, token.Type, token.Brand, token.Last4, token.ExpMonth, token.ExpYear, s.now())
	saved, err := scanToken(row)
	if err != nil {
		return payflow.SavedToken{}, fmt.Errorf("save method for %s: %w", userID, err)
	}
	return saved, nil
}

// List returns the credentials of userID, default first.
func (s *Store) List(ctx context.Context, userID string) ([]payflow.SavedToken, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+tokenColumns+` FROM saved_methods WHERE user_id = $1 ORDER BY is_default DESC, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list methods for %s: %w", userID, err)
	}
	defer rows.Close()
	var out []payflow.SavedToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get loads one credential owned by userID.
func (s *Store) Get(ctx context.Context, userID, id string) (payflow.SavedToken, error) {
	t, err := scanToken(s.DB.QueryRow(ctx, `SELECT `+tokenColumns+` FROM saved_methods WHERE user_id = $1 AND id::text = $2`, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payflow.SavedToken{}, ErrTokenNotFound
		}
		return payflow.SavedToken{}, err
	}
	return t, nil
}

// FindByGatewayID loads the credential userID saved for a processor method.
func (s *Store) FindByGatewayID(ctx context.Context, userID, gatewayID string) (payflow.SavedToken, error) {
	t, err := scanToken(s.DB.QueryRow(ctx, `SELECT `+tokenColumns+` FROM saved_methods WHERE user_id = $1 AND gateway_id = $2`, userID, gatewayID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payflow.SavedToken{}, ErrTokenNotFound
		}
		return payflow.SavedToken{}, err
	}
	return t, nil
}

// AttachToOrder records token as the credential the order was paid with.
func (s *Store) AttachToOrder(ctx context.Context, orderID string, token payflow.SavedToken) error {
	tag, err := s.DB.Exec(ctx, `UPDATE orders SET saved_method_id = NULLIF($2, ''), payment_method_id = $3, updated_at = $4 WHERE id::text = $1`,
		orderID, token.ID, token.GatewayID, s.now())
	if err != nil {
		return fmt.Errorf("attach method to order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return payflow.ErrOrderNotFound
	}
	return nil
}

// AttachToSubscriptions switches every subscription linked to the order to token.
func (s *Store) AttachToSubscriptions(ctx context.Context, orderID string, token payflow.SavedToken) error {
	_, err := s.DB.Exec(ctx, `UPDATE subscriptions sub SET saved_method_id = NULLIF($2, ''), payment_method_id = $3, updated_at = $4
		FROM order_subscriptions os
		WHERE os.order_id::text = $1 AND os.subscription_id = sub.id`,
		orderID, token.ID, token.GatewayID, s.now())
	if err != nil {
		return fmt.Errorf("attach method to subscriptions of order %s: %w", orderID, err)
	}
	return nil
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func scanToken(row pgx.Row) (payflow.SavedToken, error) {
	var t payflow.SavedToken
	err := row.Scan(&t.ID, &t.UserID, &t.GatewayID, &t.Type, &t.Brand, &t.Last4, &t.ExpMonth, &t.ExpYear, &t.IsDefault)
	return t, err
}
