package payflow

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payflow/internal/obs"
)

// Session identifies the shopper session a payment runs in.
type Session struct {
	ID string `json:"id,omitempty"`
	IP string `json:"ip,omitempty"`
}

// LimiterKeys are the keys failed attempts are counted under. An attempt is
// refused when any of them is limited.
func (s Session) LimiterKeys() []string {
	keys := make([]string, 0, 2)
	if s.ID != "" {
		keys = append(keys, "session:"+s.ID)
	}
	if s.IP != "" {
		keys = append(keys, "ip:"+s.IP)
	}
	return keys
}

// Submission is the checkout input consumed by verification.
type Submission struct {
	Method     Method
	FraudToken string
}

// Payment is one attempt to pay an order. It is not safe for concurrent use.
type Payment struct {
	svc *Service

	id          string
	orderID     string
	state       State
	flags       Flags
	method      Method
	userID      string
	customerRef string
	intentID    string
	intent      *Intent
	meta        Metadata
	session     Session
	submission  Submission
	verified    bool
	preCheckout bool
	createdAt   time.Time
	attended    bool // a shopper waits on this run's response; not persisted
}

func (p *Payment) ID() string           { return p.id }
func (p *Payment) OrderID() string      { return p.orderID }
func (p *Payment) State() State         { return p.state }
func (p *Payment) Flags() Flags         { return p.flags }
func (p *Payment) Method() Method       { return p.method }
func (p *Payment) UserID() string       { return p.userID }
func (p *Payment) CustomerRef() string  { return p.customerRef }
func (p *Payment) IntentID() string     { return p.intentID }
func (p *Payment) Session() Session     { return p.session }
func (p *Payment) Verified() bool       { return p.verified }
func (p *Payment) CreatedAt() time.Time { return p.createdAt }

// Intent returns the last intent read from the processor, if any.
func (p *Payment) Intent() (Intent, bool) {
	if p.intent == nil {
		return Intent{}, false
	}
	return *p.intent, true
}

// Metadata returns a copy of the payment metadata.
func (p *Payment) Metadata() Metadata {
	meta := p.meta
	if meta.Response != nil {
		resp := *meta.Response
		meta.Response = &resp
	}
	return meta
}

// SetFlags adds flags. It fails once the payment has been verified.
func (p *Payment) SetFlags(f Flags) error {
	if p.verified {
		return ErrFlagsLocked
	}
	p.flags |= f
	return nil
}

// UnsetFlags removes flags. It fails once the payment has been verified.
func (p *Payment) UnsetFlags(f Flags) error {
	if p.verified {
		return ErrFlagsLocked
	}
	p.flags &^= f
	return nil
}

// MarkMethodNotReusable drops the save flags when the credential cannot be stored.
func (p *Payment) MarkMethodNotReusable() {
	p.flags &^= FlagSaveToStore | FlagSaveToPlatform
}

// SetSession binds the shopper session. A non-empty session id marks the
// payment as attended: the shopper sees the response of the current run.
func (p *Payment) SetSession(s Session) {
	p.session = s
	p.attended = s.ID != ""
}

func (p *Payment) SetFingerprint(v string)     { p.meta.Fingerprint = v }
func (p *Payment) SetMethodType(v string)      { p.meta.MethodType = strings.ToLower(strings.TrimSpace(v)) }
func (p *Payment) SetCountry(v string)         { p.meta.Country = strings.ToUpper(strings.TrimSpace(v)) }
func (p *Payment) SetCVCConfirmation(v string) { p.meta.CVCConfirmation = v }
func (p *Payment) SetMandate(v string)         { p.meta.Mandate = v }
func (p *Payment) Submit(method Method, fraudToken string) {
	p.submission = Submission{Method: method, FraudToken: fraudToken}
}

// AttachOrder binds an order to a payment created before checkout.
func (p *Payment) AttachOrder(orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ErrOrderRequired
	}
	if p.orderID != "" && p.orderID != orderID {
		return ErrOrderAttached
	}
	p.orderID = orderID
	return nil
}

// Prepare loads order context and checks the anti-fraud token.
func (p *Payment) Prepare(ctx context.Context) error {
	return p.transition(opPrepare, func(s State) (State, error) { return s.prepare(ctx, p) })
}

// Verify runs the pre-charge gates in order.
func (p *Payment) Verify(ctx context.Context, method Method, fraudToken string) error {
	return p.transition(opVerify, func(s State) (State, error) { return s.verify(ctx, p, method, fraudToken) })
}

// Process charges the payment with strategy.
func (p *Payment) Process(ctx context.Context, strategy Strategy) error {
	return p.transition(opProcess, func(s State) (State, error) { return s.process(ctx, p, strategy) })
}

// LoadIntentAfterAuthentication resumes a payment after the shopper completed a challenge.
func (p *Payment) LoadIntentAfterAuthentication(ctx context.Context, intentID string) error {
	return p.transition(opLoadIntentAfterAuth, func(s State) (State, error) {
		return s.loadIntentAfterAuthentication(ctx, p, intentID)
	})
}

// LoadIntentAfterConfirmation adopts an intent the browser confirmed directly.
func (p *Payment) LoadIntentAfterConfirmation(ctx context.Context, intentID string) error {
	return p.transition(opLoadIntentAfterConfirmation, func(s State) (State, error) {
		return s.loadIntentAfterConfirmation(ctx, p, intentID)
	})
}

// Complete commits a successful charge to the order.
func (p *Payment) Complete(ctx context.Context) error {
	return p.transition(opComplete, func(s State) (State, error) { return s.complete(ctx, p) })
}

// CreateIntentWithoutOrder creates an intent before the order exists.
func (p *Payment) CreateIntentWithoutOrder(ctx context.Context, amount int64, currency string) error {
	return p.transition(opCreateIntentWithoutOrder, func(s State) (State, error) {
		return s.createIntentWithoutOrder(ctx, p, amount, currency)
	})
}

func (p *Payment) transition(op string, fn func(State) (State, error)) error {
	from := p.state
	next, err := fn(from)
	if err != nil {
		return err
	}
	fromName := nameOf(from)
	if next == nil || nameOf(next) == fromName {
		return &StalledStateError{State: fromName, Operation: op}
	}
	nextName := nameOf(next)
	if canonical, ok := stateByName(nextName); ok {
		next = canonical
	}
	p.state = next
	p.logger().Info().
		Str("event", "payment_transition").
		Str("operation", op).
		Str("from", string(fromName)).
		Str("to", string(nextName)).
		Msg("payment state changed")
	obs.IncCounter(obs.PaymentTransitionTotal, string(fromName), string(nextName))
	return nil
}

func (p *Payment) logger() *zerolog.Logger {
	var base zerolog.Logger
	if p.svc != nil {
		base = p.svc.Logger
	} else {
		base = zerolog.Nop()
	}
	l := base.With().
		Str("payment_id", p.id).
		Str("order_id", p.orderID).
		Str("state", string(p.state.Name())).
		Logger()
	return &l
}

func (p *Payment) order(ctx context.Context) (Order, error) {
	if p.orderID == "" {
		return Order{}, ErrOrderRequired
	}
	return p.svc.Orders.Get(ctx, p.orderID)
}

func (p *Payment) setResponse(resp Response) {
	resp.PaymentID = p.id
	if resp.IntentID == "" {
		resp.IntentID = p.intentID
	}
	p.meta.Response = &resp
}

func (p *Payment) adoptIntent(intent Intent) {
	p.intent = &intent
	p.intentID = intent.ID
	if intent.CustomerID != "" && p.customerRef == "" {
		p.customerRef = intent.CustomerID
	}
}

func (p *Payment) attachment(intent Intent) IntentAttachment {
	att := IntentAttachment{
		IntentID:        intent.ID,
		Status:          intent.Status,
		ChargeID:        intent.ChargeID,
		Currency:        strings.ToUpper(intent.Currency),
		CustomerRef:     p.customerRef,
		PaymentMethodID: intent.PaymentMethodID,
	}
	if att.PaymentMethodID == "" && p.method != nil {
		att.PaymentMethodID = p.method.ID()
	}
	if saved, ok := p.method.(SavedMethod); ok {
		att.LocalMethodID = saved.Token.ID
	}
	return att
}

// recordIntent writes intent identifiers to the order as soon as they exist so
// a later attempt can find a charge that already went through.
func (p *Payment) recordIntent(ctx context.Context, intent Intent) error {
	if p.orderID == "" {
		return nil
	}
	if err := p.svc.Orders.RecordIntent(ctx, p.orderID, p.attachment(intent)); err != nil {
		p.logger().Error().Err(err).Str("intent_id", intent.ID).Msg("record intent on order")
		return err
	}
	return nil
}

func (p *Payment) bumpLimiter(ctx context.Context) {
	if p.svc.Limiter == nil || p.flags.Has(FlagMerchantInitiated) {
		return
	}
	for _, key := range p.session.LimiterKeys() {
		p.svc.Limiter.Bump(ctx, key)
	}
}

func (p *Payment) rateLimited(ctx context.Context) (string, bool) {
	if p.svc.Limiter == nil {
		return "", false
	}
	for _, key := range p.session.LimiterKeys() {
		if p.svc.Limiter.IsLimited(ctx, key) {
			return key, true
		}
	}
	return "", false
}

func (p *Payment) fraudCheckPasses(ctx context.Context) bool {
	token := p.meta.FraudToken
	if token == "" || p.svc.Fraud == nil || !p.svc.Fraud.Enabled() {
		return true
	}
	return p.svc.Fraud.Verify(ctx, p.session.ID, token)
}

func (p *Payment) failPreparation(message string) State {
	p.setResponse(Response{Outcome: OutcomeError, Message: message})
	return newFailedPreparationState()
}

func (p *Payment) failProcessing(ctx context.Context, message string) State {
	p.bumpLimiter(ctx)
	return p.markFailed(ctx, message)
}

// markFailed fails the order without counting the attempt against the shopper.
func (p *Payment) markFailed(ctx context.Context, message string) State {
	if p.intent != nil {
		_ = p.recordIntent(ctx, *p.intent)
	}
	if p.orderID != "" {
		note := "Payment failed: " + message
		if p.intentID != "" {
			note = fmt.Sprintf("%s (intent %s)", note, p.intentID)
		}
		if err := p.svc.Orders.UpdateStatus(ctx, p.orderID, OrderFailed, note); err != nil {
			p.logger().Error().Err(err).Msg("mark order failed")
		}
	}
	p.setResponse(Response{Outcome: OutcomeError, Message: message})
	return newProcessingFailedState()
}

func (p *Payment) enterAuthentication(ctx context.Context, intent Intent) State {
	if p.svc.Sessions != nil && p.session.ID != "" {
		if err := p.svc.Sessions.Set(ctx, p.session.ID, sessionKeyPendingIntent, intent.ID); err != nil {
			p.logger().Warn().Err(err).Msg("remember pending intent")
		}
	}
	p.setResponse(Response{Outcome: OutcomeSuccess, RedirectURL: authenticationRedirect(p.orderID, intent)})
	return newAuthenticationRequiredState()
}

func (p *Payment) finishCompleted(order Order, notice Notice) State {
	p.setResponse(Response{
		Outcome:     OutcomeSuccess,
		RedirectURL: withNotice(p.svc.Orders.ReceiptURL(order), notice),
		Notice:      notice,
	})
	return newCompletedState()
}

func (p *Payment) clearPendingIntent(ctx context.Context) {
	if p.svc.Sessions == nil || p.session.ID == "" {
		return
	}
	if err := p.svc.Sessions.Delete(ctx, p.session.ID, sessionKeyPendingIntent); err != nil {
		p.logger().Warn().Err(err).Msg("clear pending intent")
	}
}

func (p *Payment) reduceStock(ctx context.Context) {
	reduced, err := p.svc.Orders.ReduceStock(ctx, p.orderID)
	if err != nil {
		p.logger().Error().Err(err).Msg("reduce stock")
		return
	}
	if !reduced {
		p.logger().Debug().Msg("stock already reduced")
	}
}

func (p *Payment) emptyCart(ctx context.Context, order Order) {
	if p.flags.Has(FlagMerchantInitiated) || order.CartID == "" || p.svc.Carts == nil {
		return
	}
	if err := p.svc.Carts.Empty(ctx, order.CartID); err != nil {
		p.logger().Warn().Err(err).Str("cart_id", order.CartID).Msg("empty cart")
	}
}

func (p *Payment) schedule(ctx context.Context, job string, payload any) {
	if p.svc.Jobs == nil {
		return
	}
	if err := p.svc.Jobs.Schedule(ctx, job, payload); err != nil {
		p.logger().Error().Err(err).Str("job", job).Msg("schedule job")
	}
}

func authenticationRedirect(orderID string, intent Intent) string {
	if intent.NextAction != nil && intent.NextAction.RedirectURL != "" {
		return intent.NextAction.RedirectURL
	}
	prefix := "#confirm-pi"
	if intent.IsSetup() {
		prefix = "#confirm-si"
	}
	return fmt.Sprintf("%s:%s:%s", prefix, orderID, intent.ClientSecret)
}

func withNotice(raw string, notice Notice) string {
	if notice == NoticeNone || raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("notice", string(notice))
	u.RawQuery = q.Encode()
	return u.String()
}
