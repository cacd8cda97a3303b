package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payflow/internal/db"
	"github.com/noah-isme/toko-payflow/internal/gateway"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

// Remote is the processor surface for customer records.
type Remote interface {
	CreateCustomer(ctx context.Context, params gateway.CustomerParams) (gateway.Customer, error)
	UpdateCustomer(ctx context.Context, id string, params gateway.CustomerParams) (gateway.Customer, error)
}

// Service maps local users to processor customers.
type Service struct {
	DB     db.Querier
	Remote Remote
	Logger zerolog.Logger
	Now    func() time.Time
}

// Find returns the processor customer of userID, or "" when none is linked.
func (s *Service) Find(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || s.DB == nil {
		return "", nil
	}
	var ref string
	err := s.DB.QueryRow(ctx, `SELECT customer_ref FROM customers WHERE user_id = $1`, userID).Scan(&ref)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("find customer for %s: %w", userID, err)
	}
	return ref, nil
}

// Upsert creates the processor customer on first use and refreshes its
// contact details afterwards. Guests get a customer that is not linked locally.
func (s *Service) Upsert(ctx context.Context, in payflow.CustomerInput) (string, error) {
	if s.Remote == nil {
		return "", errors.New("customer: processor not configured")
	}
	params := paramsFor(in)
	ref := strings.TrimSpace(in.CustomerRef)
	if ref == "" && in.UserID != "" {
		found, err := s.Find(ctx, in.UserID)
		if err != nil {
			return "", err
		}
		ref = found
	}

	if ref != "" {
		if _, err := s.Remote.UpdateCustomer(ctx, ref, params); err != nil {
			if !gateway.IsNotFound(err) {
				return "", fmt.Errorf("update customer %s: %w", ref, err)
			}
			// deleted on the processor side; recreate below
			s.Logger.Warn().Str("customer_ref", ref).Str("user_id", in.UserID).Msg("processor customer missing, recreating")
			ref = ""
		} else {
			return ref, nil
		}
	}

	created, err := s.Remote.CreateCustomer(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	if in.UserID != "" && s.DB != nil {
		if err := s.link(ctx, in.UserID, created.ID); err != nil {
			return "", err
		}
	}
	return created.ID, nil
}

func (s *Service) link(ctx context.Context, userID, ref string) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO customers (user_id, customer_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO UPDATE SET customer_ref = EXCLUDED.customer_ref, updated_at = EXCLUDED.updated_at`,
		userID, ref, s.now())
	if err != nil {
		return fmt.Errorf("link customer %s to %s: %w", ref, userID, err)
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func paramsFor(in payflow.CustomerInput) gateway.CustomerParams {
	meta := map[string]string{}
	if in.UserID != "" {
		meta["user_id"] = in.UserID
	}
	if in.OrderID != "" {
		meta["order_id"] = in.OrderID
	}
	return gateway.CustomerParams{
		Name:     in.Billing.FullName(),
		Email:    in.Billing.Email,
		Phone:    in.Billing.Phone,
		Address:  in.Billing,
		Metadata: meta,
	}
}
