package order

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-payflow/internal/common"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

// Orders is the store surface the handlers need.
type Orders interface {
	Get(ctx context.Context, id string) (payflow.Order, error)
	Create(ctx context.Context, in NewOrder) (payflow.Order, error)
	ReceiptURL(o payflow.Order) string
}

type Handler struct {
	Orders Orders
}

type billingInput struct {
	FirstName  string `json:"first_name" validate:"required,max=100"`
	LastName   string `json:"last_name" validate:"max=100"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"max=40"`
	Line1      string `json:"line1" validate:"max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Country    string `json:"country" validate:"omitempty,len=2"`
}

type createRequest struct {
	CartID          string       `json:"cart_id" validate:"required"`
	UserID          string       `json:"user_id" validate:"max=64"`
	Currency        string       `json:"currency" validate:"required,len=3"`
	ShippingTotal   int64        `json:"shipping_total" validate:"gte=0"`
	SubscriptionIDs []string     `json:"subscription_ids" validate:"dive,uuid"`
	Billing         billingInput `json:"billing"`
}

// Create places a pending order from a cart.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	var req createRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	o, err := h.Orders.Create(r.Context(), NewOrder{
		CartID:          req.CartID,
		UserID:          req.UserID,
		Currency:        req.Currency,
		ShippingTotal:   req.ShippingTotal,
		SubscriptionIDs: req.SubscriptionIDs,
		Billing: payflow.BillingDetails{
			FirstName:  req.Billing.FirstName,
			LastName:   req.Billing.LastName,
			Email:      req.Billing.Email,
			Phone:      req.Billing.Phone,
			Line1:      req.Billing.Line1,
			Line2:      req.Billing.Line2,
			City:       req.Billing.City,
			State:      req.Billing.State,
			PostalCode: req.Billing.PostalCode,
			Country:    req.Billing.Country,
		},
	})
	if err != nil {
		if errors.Is(err, ErrEmptyCart) {
			common.JSONError(w, http.StatusUnprocessableEntity, "EMPTY_CART", "cart has no items", nil)
			return
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": h.view(o)})
}

// Get returns an order to whoever holds its key.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		if errors.Is(err, payflow.ErrOrderNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.WriteError(w, err)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(o.Key)) != 1 {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.view(o)})
}

func (h *Handler) view(o payflow.Order) map[string]any {
	return map[string]any{
		"id":             o.ID,
		"number":         o.Number,
		"key":            o.Key,
		"status":         o.Status,
		"total":          o.Total,
		"shipping_total": o.ShippingTotal,
		"currency":       o.Currency,
		"items":          o.Items,
		"payment_method": o.MethodTitle,
		"transaction_id": o.ChargeID,
		"receipt_url":    h.Orders.ReceiptURL(o),
		"created_at":     o.CreatedAt,
	}
}
