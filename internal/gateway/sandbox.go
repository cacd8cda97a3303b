package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-payflow/internal/payflow"
)

// Sandbox method identifiers with fixed outcomes.
const (
	SandboxCardSucceeds   = "pm_card_visa"
	SandboxCard3DS        = "pm_card_3ds"
	SandboxCardDeclined   = "pm_card_declined"
	SandboxCardApplePay   = "pm_card_applepay"
	SandboxSEPADebit      = "pm_sepa_debit"
	SandboxIDEAL          = "pm_ideal"
	sandboxProvider       = "sandbox"
	sandboxAuthenticateAt = "https://sandbox.payflow.test/authenticate"
)

// DefaultMinimums are the sandbox per-currency minimums in minor units.
var DefaultMinimums = map[string]int64{
	"USD": 50,
	"EUR": 50,
	"GBP": 30,
	"JPY": 50,
	"IDR": 1000000,
}

// Sandbox is a deterministic in-process processor. The payment method id
// decides the outcome of a confirmation.
type Sandbox struct {
	Minimums map[string]int64

	mu        sync.Mutex
	intents   map[string]payflow.Intent
	customers map[string]Customer
	methods   map[string]PaymentMethod
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		Minimums:  DefaultMinimums,
		intents:   map[string]payflow.Intent{},
		customers: map[string]Customer{},
		methods:   map[string]PaymentMethod{},
	}
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func (s *Sandbox) CreateIntent(_ context.Context, req payflow.IntentRequest) (payflow.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMinimum(req.Amount, req.Currency); err != nil {
		recordCall(sandboxProvider, "create_intent", err)
		return payflow.Intent{}, err
	}
	in := s.newIntentLocked(req)
	s.intents[in.ID] = in
	recordCall(sandboxProvider, "create_intent", nil)
	return in, nil
}

func (s *Sandbox) CreateAndConfirmIntent(_ context.Context, req payflow.IntentRequest) (payflow.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMinimum(req.Amount, req.Currency); err != nil {
		recordCall(sandboxProvider, "confirm_intent", err)
		return payflow.Intent{}, err
	}
	in := s.newIntentLocked(req)
	in, err := s.confirmLocked(in, req.PaymentMethodID, req.ReturnURL, req.OffSession)
	s.intents[in.ID] = in
	recordCall(sandboxProvider, "confirm_intent", err)
	return in, err
}

func (s *Sandbox) CreateAndConfirmSetupIntent(_ context.Context, req payflow.SetupIntentRequest) (payflow.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := newID("seti")
	in := payflow.Intent{
		ID:           id,
		Object:       payflow.ObjectSetupIntent,
		Status:       payflow.StatusRequiresPaymentMethod,
		ClientSecret: id + "_secret_" + newID("cs")[3:11],
		CustomerID:   req.CustomerID,
		Metadata:     copyMetadata(req.Metadata),
	}
	in, err := s.confirmLocked(in, req.PaymentMethodID, req.ReturnURL, false)
	s.intents[in.ID] = in
	recordCall(sandboxProvider, "confirm_setup_intent", err)
	return in, err
}

func (s *Sandbox) GetIntent(_ context.Context, id string) (payflow.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return payflow.Intent{}, missing("payment_intent", id)
	}
	return in, nil
}

func (s *Sandbox) GetSetupIntent(ctx context.Context, id string) (payflow.Intent, error) {
	return s.GetIntent(ctx, id)
}

func (s *Sandbox) UpdateIntent(_ context.Context, id string, upd payflow.IntentUpdate) (payflow.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return payflow.Intent{}, missing("payment_intent", id)
	}
	if in.Status.Successful() || in.Status == payflow.StatusCanceled {
		return payflow.Intent{}, &payflow.RemoteError{
			Code:         "payment_intent_unexpected_state",
			Message:      fmt.Sprintf("This PaymentIntent's status is %s and it cannot be updated.", in.Status),
			HTTPStatus:   400,
			IntentID:     in.ID,
			IntentStatus: in.Status,
		}
	}
	if err := s.checkMinimum(upd.Amount, upd.Currency); err != nil {
		return payflow.Intent{}, err
	}
	in.Amount = upd.Amount
	in.Currency = strings.ToUpper(upd.Currency)
	if upd.CustomerID != "" {
		in.CustomerID = upd.CustomerID
	}
	if upd.MethodType != "" {
		in.Method.Type = upd.MethodType
	}
	for k, v := range upd.Metadata {
		if in.Metadata == nil {
			in.Metadata = map[string]string{}
		}
		in.Metadata[k] = v
	}
	s.intents[id] = in
	recordCall(sandboxProvider, "update_intent", nil)
	return in, nil
}

// Confirm confirms an existing intent the way a browser would.
func (s *Sandbox) Confirm(_ context.Context, id, methodID string) (payflow.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return payflow.Intent{}, missing("payment_intent", id)
	}
	in, err := s.confirmLocked(in, methodID, "", false)
	s.intents[id] = in
	return in, err
}

// Authenticate resolves a pending challenge. A rejected challenge leaves the
// intent waiting for a new payment method.
func (s *Sandbox) Authenticate(id string, approve bool) (payflow.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return payflow.Intent{}, missing("payment_intent", id)
	}
	if in.Status != payflow.StatusRequiresAction {
		return in, nil
	}
	in.NextAction = nil
	if approve {
		in.Status = settledStatus(in)
		if !in.IsSetup() {
			in.ChargeID = newID("ch")
		}
	} else {
		in.Status = payflow.StatusRequiresPaymentMethod
		in.LastError = &payflow.RemoteError{
			Code:    "payment_intent_authentication_failure",
			Message: payflow.MessageAuthenticationFail,
		}
	}
	s.intents[id] = in
	return in, nil
}

func (s *Sandbox) CreateCustomer(_ context.Context, params CustomerParams) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Customer{ID: newID("cus"), Name: params.Name, Email: params.Email}
	s.customers[c.ID] = c
	return c, nil
}

func (s *Sandbox) UpdateCustomer(_ context.Context, id string, params CustomerParams) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return Customer{}, missing("customer", id)
	}
	c.Name = params.Name
	c.Email = params.Email
	s.customers[id] = c
	return c, nil
}

func (s *Sandbox) AttachMethod(_ context.Context, methodID, customerID string) (PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if methodID == SandboxCardDeclined {
		return PaymentMethod{}, &payflow.RemoteError{Code: "card_declined", Message: "Your card was declined.", HTTPStatus: 402}
	}
	m := sandboxMethod(methodID)
	m.CustomerID = customerID
	s.methods[methodID] = m
	return m, nil
}

func (s *Sandbox) GetMethod(_ context.Context, methodID string) (PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.methods[methodID]; ok {
		return m, nil
	}
	if !strings.HasPrefix(methodID, "pm_") {
		return PaymentMethod{}, missing("payment_method", methodID)
	}
	return sandboxMethod(methodID), nil
}

func (s *Sandbox) newIntentLocked(req payflow.IntentRequest) payflow.Intent {
	id := newID("pi")
	metadata := copyMetadata(req.Metadata)
	methodType := "card"
	if len(req.PaymentMethodTypes) > 0 {
		methodType = req.PaymentMethodTypes[0]
	}
	return payflow.Intent{
		ID:            id,
		Object:        payflow.ObjectPaymentIntent,
		Status:        payflow.StatusRequiresPaymentMethod,
		ClientSecret:  id + "_secret_" + newID("cs")[3:11],
		CustomerID:    req.CustomerID,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
		CaptureMethod: req.CaptureMethod,
		Method:        payflow.MethodDetails{Type: methodType},
		Metadata:      metadata,
	}
}

func (s *Sandbox) confirmLocked(in payflow.Intent, methodID, returnURL string, offSession bool) (payflow.Intent, error) {
	if methodID == "" {
		return in, &payflow.RemoteError{Code: "parameter_missing", Message: "A payment method is required to confirm.", HTTPStatus: 400}
	}
	method := sandboxMethod(methodID)
	in.PaymentMethodID = methodID
	in.Method = payflow.MethodDetails{Type: method.Type, Brand: method.Brand, Last4: method.Last4}
	if methodID == SandboxCardApplePay {
		in.Method.Wallet = "apple_pay"
	}
	switch methodID {
	case SandboxCardDeclined:
		in.Status = payflow.StatusRequiresPaymentMethod
		in.LastError = &payflow.RemoteError{Code: "card_declined", DeclineCode: "generic_decline", Message: "Your card was declined."}
		return in, &payflow.RemoteError{
			Code:         "card_declined",
			DeclineCode:  "generic_decline",
			Message:      "Your card was declined.",
			HTTPStatus:   402,
			IntentID:     in.ID,
			IntentStatus: in.Status,
		}
	case SandboxCard3DS:
		if offSession {
			in.Status = payflow.StatusRequiresAction
			in.LastError = &payflow.RemoteError{Code: "authentication_required", Message: "Your card requires authentication."}
			return in, nil
		}
		in.Status = payflow.StatusRequiresAction
		redirect := sandboxAuthenticateAt + "/" + in.ID
		if returnURL != "" {
			redirect += "?return_url=" + url.QueryEscape(returnURL)
		}
		in.NextAction = &payflow.NextAction{Type: "redirect_to_url", RedirectURL: redirect}
		return in, nil
	}
	in.Status = settledStatus(in)
	in.LastError = nil
	if !in.IsSetup() {
		in.ChargeID = newID("ch")
	}
	return in, nil
}

func settledStatus(in payflow.Intent) payflow.IntentStatus {
	switch {
	case in.IsSetup():
		return payflow.StatusSucceeded
	case in.CaptureMethod == payflow.CaptureManual:
		return payflow.StatusRequiresCapture
	case in.Method.Type == "sepa_debit":
		return payflow.StatusProcessing
	default:
		return payflow.StatusSucceeded
	}
}

func (s *Sandbox) checkMinimum(amount int64, currency string) error {
	code := strings.ToUpper(currency)
	minimum, ok := s.Minimums[code]
	if !ok || amount <= 0 || amount >= minimum {
		return nil
	}
	return &payflow.RemoteError{
		Code:          payflow.CodeAmountTooSmall,
		Message:       "Amount must be at least " + payflow.FormatAmount(minimum, code),
		HTTPStatus:    400,
		Currency:      code,
		MinimumAmount: minimum,
	}
}

func sandboxMethod(id string) PaymentMethod {
	switch {
	case strings.HasPrefix(id, SandboxSEPADebit):
		return PaymentMethod{ID: id, Type: "sepa_debit", Last4: "3000"}
	case strings.HasPrefix(id, SandboxIDEAL):
		return PaymentMethod{ID: id, Type: "ideal"}
	case id == SandboxCard3DS:
		return PaymentMethod{ID: id, Type: "card", Brand: "visa", Last4: "3184", ExpMonth: 12, ExpYear: 2034}
	case id == SandboxCardDeclined:
		return PaymentMethod{ID: id, Type: "card", Brand: "visa", Last4: "0002", ExpMonth: 12, ExpYear: 2034}
	default:
		return PaymentMethod{ID: id, Type: "card", Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2034}
	}
}

func missing(kind, id string) error {
	return &payflow.RemoteError{
		Code:       "resource_missing",
		Message:    fmt.Sprintf("No such %s: '%s'", kind, id),
		HTTPStatus: 404,
	}
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
