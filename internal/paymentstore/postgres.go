package paymentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-payflow/internal/db"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

// ErrMissingID is returned when saving a record without an identifier.
var ErrMissingID = errors.New("paymentstore: record id required")

// Postgres stores payment snapshots as JSONB rows.
type Postgres struct {
	DB db.Querier
}

func (p *Postgres) Save(ctx context.Context, rec payflow.Record) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode payment %s: %w", rec.ID, err)
	}
	_, err = p.DB.Exec(ctx, `INSERT INTO payflow_payments (id, order_id, state, record, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			order_id = EXCLUDED.order_id,
			state = EXCLUDED.state,
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.OrderID, string(rec.State), body, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save payment %s: %w", rec.ID, err)
	}
	return nil
}

func (p *Postgres) FindByID(ctx context.Context, id string) (payflow.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return payflow.Record{}, payflow.ErrRecordNotFound
	}
	return p.one(ctx, `SELECT record FROM payflow_payments WHERE id = $1`, id)
}

func (p *Postgres) FindByOrder(ctx context.Context, orderID string) (payflow.Record, error) {
	if orderID == "" {
		return payflow.Record{}, payflow.ErrRecordNotFound
	}
	return p.one(ctx, `SELECT record FROM payflow_payments WHERE order_id = $1 ORDER BY updated_at DESC LIMIT 1`, orderID)
}

func (p *Postgres) one(ctx context.Context, query string, arg string) (payflow.Record, error) {
	var body []byte
	if err := p.DB.QueryRow(ctx, query, arg).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payflow.Record{}, payflow.ErrRecordNotFound
		}
		return payflow.Record{}, fmt.Errorf("load payment: %w", err)
	}
	var rec payflow.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return payflow.Record{}, fmt.Errorf("decode payment: %w", err)
	}
	return rec, nil
}
