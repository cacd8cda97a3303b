package payflow

import (
	"strings"
	"time"
)

// OrderStatus mirrors the store's order lifecycle.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderOnHold     OrderStatus = "on-hold"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
	OrderCancelled  OrderStatus = "cancelled"
)

// BillingDetails is the billing contact captured at checkout.
type BillingDetails struct {
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Company    string `json:"company,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// FullName joins first and last name.
func (b BillingDetails) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(b.FirstName) + " " + strings.TrimSpace(b.LastName))
}

type OrderItem struct {
	ProductID      string `json:"product_id"`
	SKU            string `json:"sku,omitempty"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitAmount     int64  `json:"unit_amount"`
	TaxAmount      int64  `json:"tax_amount,omitempty"`
	DiscountAmount int64  `json:"discount_amount,omitempty"`
}

// Order is the store order a payment settles. Amounts are in minor units.
type Order struct {
	ID              string         `json:"id"`
	Number          string         `json:"number"`
	Key             string         `json:"key"`
	UserID          string         `json:"user_id,omitempty"`
	CartID          string         `json:"cart_id,omitempty"`
	CartHash        string         `json:"cart_hash,omitempty"`
	Status          OrderStatus    `json:"status"`
	Total           int64          `json:"total"`
	ShippingTotal   int64          `json:"shipping_total,omitempty"`
	Currency        string         `json:"currency"`
	Billing         BillingDetails `json:"billing"`
	Items           []OrderItem    `json:"items,omitempty"`
	IntentID        string         `json:"intent_id,omitempty"`
	IntentStatus    IntentStatus   `json:"intent_status,omitempty"`
	ChargeID        string         `json:"charge_id,omitempty"`
	PaymentMethodID string         `json:"payment_method_id,omitempty"`
	MethodTitle     string         `json:"method_title,omitempty"`
	SubscriptionIDs []string       `json:"subscription_ids,omitempty"`
	IsRenewal       bool           `json:"is_renewal,omitempty"`
	StockReduced    bool           `json:"stock_reduced,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// IsPaid reports whether the order reached a paid status.
func (o Order) IsPaid() bool {
	return o.Status == OrderProcessing || o.Status == OrderCompleted
}

// IntentAttachment is the intent information recorded on an order.
type IntentAttachment struct {
	IntentID        string
	Status          IntentStatus
	ChargeID        string
	Currency        string
	CustomerRef     string
	PaymentMethodID string
	LocalMethodID   string
}

// PaidDetails describes how an order was paid.
type PaidDetails struct {
	Status        OrderStatus
	MethodTitle   string
	TransactionID string
}
