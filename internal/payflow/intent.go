package payflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// IntentStatus is the processor-reported status of a payment or setup intent.
type IntentStatus string

const (
	StatusSucceeded             IntentStatus = "succeeded"
	StatusProcessing            IntentStatus = "processing"
	StatusRequiresCapture       IntentStatus = "requires_capture"
	StatusRequiresAction        IntentStatus = "requires_action"
	StatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	StatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	StatusCanceled              IntentStatus = "canceled"
)

// Successful reports whether funds are committed or will be once capture happens.
func (s IntentStatus) Successful() bool {
	switch s {
	case StatusSucceeded, StatusProcessing, StatusRequiresCapture:
		return true
	default:
		return false
	}
}

// AwaitingClient reports whether the intent still needs the browser to confirm it.
func (s IntentStatus) AwaitingClient() bool {
	return s == StatusRequiresPaymentMethod || s == StatusRequiresConfirmation
}

// IntentObject tells payment intents and setup intents apart.
type IntentObject string

const (
	ObjectPaymentIntent IntentObject = "payment_intent"
	ObjectSetupIntent   IntentObject = "setup_intent"
)

// Capture methods accepted by the processor.
const (
	CaptureAutomatic = "automatic"
	CaptureManual    = "manual"
)

// NextAction describes what the shopper must do before the intent can proceed.
type NextAction struct {
	Type        string `json:"type"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// MethodDetails summarizes the credential used to confirm an intent.
type MethodDetails struct {
	Type    string `json:"type,omitempty"`
	Brand   string `json:"brand,omitempty"`
	Last4   string `json:"last4,omitempty"`
	Wallet  string `json:"wallet,omitempty"`
	Country string `json:"country,omitempty"`
}

// Intent is the processor-side record of a charge or a credential setup.
type Intent struct {
	ID              string            `json:"id"`
	Object          IntentObject      `json:"object"`
	Status          IntentStatus      `json:"status"`
	ClientSecret    string            `json:"client_secret,omitempty"`
	PaymentMethodID string            `json:"payment_method_id,omitempty"`
	CustomerID      string            `json:"customer_id,omitempty"`
	ChargeID        string            `json:"charge_id,omitempty"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	CaptureMethod   string            `json:"capture_method,omitempty"`
	LastError       *RemoteError      `json:"last_error,omitempty"`
	NextAction      *NextAction       `json:"next_action,omitempty"`
	Method          MethodDetails     `json:"method"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// IsSetup reports whether the intent only stores a credential.
func (i Intent) IsSetup() bool {
	return i.Object == ObjectSetupIntent || strings.HasPrefix(i.ID, "seti_")
}

// FailureMessage returns the shopper-facing reason the intent did not succeed.
func (i Intent) FailureMessage() string {
	if i.LastError != nil && strings.TrimSpace(i.LastError.Message) != "" {
		return i.LastError.Message
	}
	return MessagePaymentNotCompleted
}

// CodeAmountTooSmall is the remote error code for amounts under the processor minimum.
const CodeAmountTooSmall = "amount_too_small"

// RemoteError is an error reported by the payment processor.
type RemoteError struct {
	Code          string       `json:"code,omitempty"`
	DeclineCode   string       `json:"decline_code,omitempty"`
	Message       string       `json:"message,omitempty"`
	HTTPStatus    int          `json:"http_status,omitempty"`
	Currency      string       `json:"currency,omitempty"`
	MinimumAmount int64        `json:"minimum_amount,omitempty"`
	IntentID      string       `json:"intent_id,omitempty"`
	IntentStatus  IntentStatus `json:"intent_status,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.DeclineCode != "" {
		return fmt.Sprintf("processor error %s (%s): %s", e.Code, e.DeclineCode, e.Message)
	}
	return fmt.Sprintf("processor error %s: %s", e.Code, e.Message)
}

// AsAmountTooSmall extracts an amount_too_small remote error from err.
func AsAmountTooSmall(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) && re.Code == CodeAmountTooSmall {
		return re, true
	}
	return nil, false
}

// Level3 carries line-item data some card networks accept for lower interchange.
type Level3 struct {
	MerchantReference string       `json:"merchant_reference"`
	ShippingAmount    int64        `json:"shipping_amount,omitempty"`
	LineItems         []Level3Item `json:"line_items"`
}

type Level3Item struct {
	ProductCode    string `json:"product_code"`
	Description    string `json:"product_description"`
	Quantity       int    `json:"quantity"`
	UnitCost       int64  `json:"unit_cost"`
	TaxAmount      int64  `json:"tax_amount,omitempty"`
	DiscountAmount int64  `json:"discount_amount,omitempty"`
}

// IntentRequest is the input for creating a payment intent.
type IntentRequest struct {
	Amount             int64
	Currency           string
	PaymentMethodID    string
	CustomerID         string
	CaptureMethod      string
	PaymentMethodTypes []string
	Metadata           map[string]string
	Level3             *Level3
	OffSession         bool
	SetupFutureUsage   string
	CVCConfirmation    string
	Fingerprint        string
	ReturnURL          string
	Mandate            string
}

// SetupIntentRequest is the input for storing a credential without charging it.
type SetupIntentRequest struct {
	PaymentMethodID    string
	CustomerID         string
	PaymentMethodTypes []string
	Metadata           map[string]string
	ReturnURL          string
	Usage              string
}

// IntentUpdate changes an intent created before the order existed.
type IntentUpdate struct {
	Amount           int64
	Currency         string
	CustomerID       string
	MethodType       string
	Country          string
	SetupFutureUsage string
	Metadata         map[string]string
	Level3           *Level3
}

// IntentClient is the processor API used by the payment flow.
type IntentClient interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CreateAndConfirmIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CreateAndConfirmSetupIntent(ctx context.Context, req SetupIntentRequest) (Intent, error)
	GetIntent(ctx context.Context, id string) (Intent, error)
	GetSetupIntent(ctx context.Context, id string) (Intent, error)
	UpdateIntent(ctx context.Context, id string, upd IntentUpdate) (Intent, error)
}

// FetchIntent reads a payment or setup intent depending on its identifier.
func FetchIntent(ctx context.Context, client IntentClient, id string) (Intent, error) {
	if client == nil {
		return Intent{}, errors.New("payflow: intent client not configured")
	}
	if strings.HasPrefix(id, "seti_") {
		return client.GetSetupIntent(ctx, id)
	}
	return client.GetIntent(ctx, id)
}
