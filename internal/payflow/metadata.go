package payflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Payment types reported to the processor.
const (
	PaymentTypeSingle    = "single"
	PaymentTypeRecurring = "recurring"
)

// Notice is an informational marker appended to the receipt URL.
type Notice string

const (
	NoticeNone                    Notice = ""
	NoticePreviousOrderPaid       Notice = "previous-order-paid"
	NoticeIntentAlreadySuccessful Notice = "intent-already-successful"
)

// Outcome is the coarse result reported to the checkout client.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Response is returned by Service.Run once the payment reaches a stopping state.
type Response struct {
	Outcome      Outcome `json:"result"`
	RedirectURL  string  `json:"redirect,omitempty"`
	Message      string  `json:"message,omitempty"`
	Notice       Notice  `json:"notice,omitempty"`
	PaymentID    string  `json:"payment_id,omitempty"`
	IntentID     string  `json:"intent_id,omitempty"`
	ClientSecret string  `json:"client_secret,omitempty"`
}

// OrderMetadata is attached to intents so the processor dashboard can trace them back.
type OrderMetadata struct {
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	SiteURL       string `json:"site_url,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	OrderNumber   string `json:"order_number,omitempty"`
	OrderKey      string `json:"order_key,omitempty"`
	PaymentType   string `json:"payment_type,omitempty"`
}

// Map flattens the metadata for the processor API.
func (m OrderMetadata) Map() map[string]string {
	out := map[string]string{}
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("customer_name", m.CustomerName)
	put("customer_email", m.CustomerEmail)
	put("site_url", m.SiteURL)
	put("order_id", m.OrderID)
	put("order_number", m.OrderNumber)
	put("order_key", m.OrderKey)
	put("payment_type", m.PaymentType)
	return out
}

// Metadata is the typed key/value data a payment carries between steps.
type Metadata struct {
	Fingerprint     string        `json:"fingerprint,omitempty"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency,omitempty"`
	MethodType      string        `json:"method_type,omitempty"`
	Country         string        `json:"country,omitempty"`
	FraudToken      string        `json:"fraud_token,omitempty"`
	CVCConfirmation string        `json:"cvc_confirmation,omitempty"`
	Mandate         string        `json:"mandate,omitempty"`
	CustomerMissing bool          `json:"customer_missing,omitempty"`
	Order           OrderMetadata `json:"order"`
	Notice          Notice        `json:"notice,omitempty"`
	Response        *Response     `json:"response,omitempty"`
}

func buildOrderMetadata(order Order, siteURL string, flags Flags) OrderMetadata {
	paymentType := PaymentTypeSingle
	if flags.Has(FlagRecurring) || order.IsRenewal || len(order.SubscriptionIDs) > 0 {
		paymentType = PaymentTypeRecurring
	}
	return OrderMetadata{
		CustomerName:  order.Billing.FullName(),
		CustomerEmail: order.Billing.Email,
		SiteURL:       siteURL,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		OrderKey:      order.Key,
		PaymentType:   paymentType,
	}
}

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// FormatAmount renders a minor-unit amount in major units, e.g. 50 USD -> "0.50 USD".
func FormatAmount(amount int64, currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if zeroDecimalCurrencies[code] {
		return strconv.FormatInt(amount, 10) + " " + code
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, code)
}

// MinimumAmountMessage is shown when an order total is under the processor minimum.
func MinimumAmountMessage(minimum int64, currency string) string {
	return fmt.Sprintf("Sorry, the minimum allowed order total is %s to use this payment method.", FormatAmount(minimum, currency))
}
