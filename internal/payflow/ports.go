package payflow

import (
	"context"
	"time"
)

// Orders is the store's order repository.
type Orders interface {
	// Get returns ErrOrderNotFound for unknown ids.
	Get(ctx context.Context, id string) (Order, error)
	RecordIntent(ctx context.Context, orderID string, att IntentAttachment) error
	MarkPaid(ctx context.Context, orderID string, details PaidDetails) error
	UpdateStatus(ctx context.Context, orderID string, status OrderStatus, note string) error
	AddNote(ctx context.Context, orderID, note string) error
	Delete(ctx context.Context, orderID string) error
	// ReduceStock decrements inventory for the order's items once. It reports
	// false when stock was already reduced.
	ReduceStock(ctx context.Context, orderID string) (bool, error)
	ReceiptURL(order Order) string
}

// Carts empties the shopper's cart after a successful payment.
type Carts interface {
	Empty(ctx context.Context, cartID string) error
}

// CustomerInput describes the processor customer to create or update.
type CustomerInput struct {
	UserID      string
	CustomerRef string
	OrderID     string
	Billing     BillingDetails
}

// Customers maps local users to processor customer references.
type Customers interface {
	// Find returns "" when the user has no processor customer yet.
	Find(ctx context.Context, userID string) (string, error)
	Upsert(ctx context.Context, in CustomerInput) (string, error)
}

// FraudTokens issues and verifies the anti-fraud token bound to a session.
type FraudTokens interface {
	Enabled() bool
	Issue(ctx context.Context, sessionID string) (string, error)
	Verify(ctx context.Context, sessionID, token string) bool
}

// RateLimiter tracks failed checkout attempts per session.
type RateLimiter interface {
	IsLimited(ctx context.Context, key string) bool
	Bump(ctx context.Context, key string)
}

// SessionStore holds per-session markers. Get returns "" for absent keys.
type SessionStore interface {
	Get(ctx context.Context, sessionID, key string) (string, error)
	Set(ctx context.Context, sessionID, key, value string) error
	Delete(ctx context.Context, sessionID string, keys ...string) error
}

// SavedMethods stores credentials and links them to orders and subscriptions.
type SavedMethods interface {
	Add(ctx context.Context, userID string, token SavedToken) (SavedToken, error)
	List(ctx context.Context, userID string) ([]SavedToken, error)
	AttachToOrder(ctx context.Context, orderID string, token SavedToken) error
	AttachToSubscriptions(ctx context.Context, orderID string, token SavedToken) error
}

// Background job names.
const (
	JobSavePaymentMethod    = "save-payment-method"
	JobRefreshPaymentMethod = "refresh-payment-method"
	JobSubscriptionRenewal  = "subscription-renewal"
)

// SaveMethodJob stores a credential used for a successful payment.
type SaveMethodJob struct {
	OrderID         string `json:"order_id"`
	UserID          string `json:"user_id"`
	CustomerRef     string `json:"customer_ref,omitempty"`
	PaymentMethodID string `json:"payment_method_id"`
	SaveToPlatform  bool   `json:"save_to_platform,omitempty"`
}

// RefreshMethodJob re-reads card details of a saved credential.
type RefreshMethodJob struct {
	UserID          string `json:"user_id"`
	TokenID         string `json:"token_id,omitempty"`
	PaymentMethodID string `json:"payment_method_id"`
}

// RenewalJob charges a subscription renewal order off-session.
type RenewalJob struct {
	OrderID string `json:"order_id"`
	TokenID string `json:"token_id,omitempty"`
	Mandate string `json:"mandate,omitempty"`
}

// JobScheduler enqueues background work. Scheduling never blocks the payment.
type JobScheduler interface {
	Schedule(ctx context.Context, job string, payload any) error
}

// MinimumAmounts caches processor minimums per currency.
type MinimumAmounts interface {
	Get(ctx context.Context, currency string) (int64, bool)
	Set(ctx context.Context, currency string, amount int64)
}

// Repository persists payment snapshots between requests.
type Repository interface {
	Save(ctx context.Context, rec Record) error
	// FindByID and FindByOrder return ErrRecordNotFound when nothing matches.
	FindByID(ctx context.Context, id string) (Record, error)
	FindByOrder(ctx context.Context, orderID string) (Record, error)
}

// Clock returns the current time.
type Clock func() time.Time
