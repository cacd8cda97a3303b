package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/toko-payflow/internal/payflow"
)

// SignatureHeader carries the webhook signature in the form t=<unix>,v1=<hex>.
const SignatureHeader = "X-Signature"

var (
	ErrInvalidSignature = errors.New("gateway: invalid webhook signature")
	ErrInvalidEvent     = errors.New("gateway: invalid webhook event")
)

// Event types that move a payment forward.
const (
	EventIntentSucceeded        = "payment_intent.succeeded"
	EventIntentCapturable       = "payment_intent.amount_capturable_updated"
	EventIntentProcessing       = "payment_intent.processing"
	EventIntentFailed           = "payment_intent.payment_failed"
	EventSetupIntentSucceeded   = "setup_intent.succeeded"
	EventSetupIntentSetupFailed = "setup_intent.setup_failed"
)

// Event is a processor notification about an intent.
type Event struct {
	ID     string
	Type   string
	Intent payflow.Intent
}

// IsIntentEvent reports whether the event carries an intent the payment flow
// can resume from.
func (e Event) IsIntentEvent() bool {
	switch e.Type {
	case EventIntentSucceeded, EventIntentCapturable, EventIntentProcessing, EventIntentFailed,
		EventSetupIntentSucceeded, EventSetupIntentSetupFailed:
		return true
	}
	return false
}

// OrderID returns the order id the intent was created for, if the processor echoed it.
func (e Event) OrderID() string {
	return strings.TrimSpace(e.Intent.Metadata["order_id"])
}

type wireEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object wireIntent `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return Event{}, errors.Join(ErrInvalidEvent, err)
	}
	if strings.TrimSpace(w.ID) == "" || strings.TrimSpace(w.Type) == "" {
		return Event{}, ErrInvalidEvent
	}
	return Event{ID: w.ID, Type: w.Type, Intent: w.Data.Object.intent()}, nil
}

// Sign produces a signature header value for body at ts.
func Sign(secret string, body []byte, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + signature(secret, unix, body)
}

// VerifySignature checks header against body. Signatures older than tolerance
// are rejected; a zero tolerance disables the age check.
func VerifySignature(secret string, body []byte, header string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return ErrInvalidSignature
	}
	var unix string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			unix = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	ts, err := strconv.ParseInt(unix, 10, 64)
	if err != nil || len(candidates) == 0 {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrInvalidSignature
		}
	}
	expected := signature(secret, unix, body)
	for _, c := range candidates {
		if hmac.Equal([]byte(c), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func signature(secret, unix string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
