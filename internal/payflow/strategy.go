package payflow

import (
	"context"
	"errors"
	"strings"
)

// Strategy performs the remote charge for a verified payment.
type Strategy interface {
	Name() string
	Process(ctx context.Context, p *Payment) (State, error)
}

// DefaultStrategy picks the strategy checkout uses when the caller did not choose one.
func DefaultStrategy(p *Payment) Strategy {
	if _, saved := p.method.(SavedMethod); saved && p.flags.Has(FlagMerchantInitiated) {
		return SubscriptionRenewalStrategy{}
	}
	if p.preCheckout && p.intentID != "" {
		return UPEUpdateIntentStrategy{}
	}
	if p.meta.Amount == 0 {
		return SetupStrategy{}
	}
	return StandardStrategy{}
}

// StandardStrategy creates and confirms a payment intent in one call.
type StandardStrategy struct{}

func (StandardStrategy) Name() string { return "standard" }

func (StandardStrategy) Process(ctx context.Context, p *Payment) (State, error) {
	if p.method == nil {
		return p.failProcessing(ctx, MessageMethodRequired), nil
	}
	order, err := p.order(ctx)
	if err != nil {
		return nil, err
	}
	intent, err := p.svc.Intents.CreateAndConfirmIntent(ctx, buildIntentRequest(p, order))
	if err != nil {
		return intentFailure(ctx, p, err), nil
	}
	return settleIntent(ctx, p, intent, false), nil
}

// SetupStrategy stores a credential for zero-total orders.
type SetupStrategy struct{}

func (SetupStrategy) Name() string { return "setup" }

func (SetupStrategy) Process(ctx context.Context, p *Payment) (State, error) {
	if p.method == nil {
		return p.failProcessing(ctx, MessageMethodRequired), nil
	}
	order, err := p.order(ctx)
	if err != nil {
		return nil, err
	}
	req := SetupIntentRequest{
		PaymentMethodID:    p.method.ID(),
		CustomerID:         p.customerRef,
		PaymentMethodTypes: methodTypes(p),
		Metadata:           p.meta.Order.Map(),
		Usage:              "off_session",
	}
	if p.svc.ReturnURL != nil {
		req.ReturnURL = p.svc.ReturnURL(order)
	}
	intent, err := p.svc.Intents.CreateAndConfirmSetupIntent(ctx, req)
	if err != nil {
		return intentFailure(ctx, p, err), nil
	}
	return settleIntent(ctx, p, intent, false), nil
}

// SubscriptionRenewalStrategy charges a saved credential without the shopper present.
type SubscriptionRenewalStrategy struct{}

func (SubscriptionRenewalStrategy) Name() string { return "subscription_renewal" }

func (SubscriptionRenewalStrategy) Process(ctx context.Context, p *Payment) (State, error) {
	if _, ok := p.method.(SavedMethod); !ok {
		return p.failProcessing(ctx, MessageMethodRequired), nil
	}
	order, err := p.order(ctx)
	if err != nil {
		return nil, err
	}
	req := buildIntentRequest(p, order)
	req.OffSession = true
	req.ReturnURL = ""
	req.CVCConfirmation = ""
	req.Mandate = p.meta.Mandate
	intent, err := p.svc.Intents.CreateAndConfirmIntent(ctx, req)
	if err != nil {
		return intentFailure(ctx, p, err), nil
	}
	return settleIntent(ctx, p, intent, false), nil
}

// UPEUpdateIntentStrategy updates an intent created before checkout with the
// order's final amount; the browser confirms it afterwards.
type UPEUpdateIntentStrategy struct{}

func (UPEUpdateIntentStrategy) Name() string { return "upe_update_intent" }

func (UPEUpdateIntentStrategy) Process(ctx context.Context, p *Payment) (State, error) {
	if p.intentID == "" {
		return nil, ErrIntentRequired
	}
	order, err := p.order(ctx)
	if err != nil {
		return nil, err
	}
	upd := IntentUpdate{
		Amount:     order.Total,
		Currency:   strings.ToUpper(order.Currency),
		CustomerID: p.customerRef,
		MethodType: p.meta.MethodType,
		Country:    p.meta.Country,
		Metadata:   p.meta.Order.Map(),
		Level3:     level3(order),
	}
	if p.flags.wantsSave() {
		upd.SetupFutureUsage = "off_session"
	}
	intent, err := p.svc.Intents.UpdateIntent(ctx, p.intentID, upd)
	if err != nil {
		return intentFailure(ctx, p, err), nil
	}
	return settleIntent(ctx, p, intent, true), nil
}

// LoadExternalWalletIntentStrategy adopts an intent confirmed by an external wallet.
type LoadExternalWalletIntentStrategy struct {
	IntentID string
}

func (LoadExternalWalletIntentStrategy) Name() string { return "external_wallet" }

func (s LoadExternalWalletIntentStrategy) Process(ctx context.Context, p *Payment) (State, error) {
	id := strings.TrimSpace(s.IntentID)
	if id == "" {
		id = p.intentID
	}
	if id == "" {
		return nil, ErrIntentRequired
	}
	order, err := p.order(ctx)
	if err != nil {
		return nil, err
	}
	intent, err := p.svc.Intents.GetIntent(ctx, id)
	if err != nil {
		return intentFailure(ctx, p, err), nil
	}
	if intent.Amount != order.Total || !strings.EqualFold(intent.Currency, order.Currency) {
		p.logger().Error().
			Str("intent_id", intent.ID).
			Int64("intent_amount", intent.Amount).
			Int64("order_total", order.Total).
			Msg("wallet intent amount mismatch")
		return p.failProcessing(ctx, MessageAmountMismatch), nil
	}
	return settleIntent(ctx, p, intent, false), nil
}

// settleIntent maps a processor intent onto the next state. awaitClient treats
// unconfirmed intents as waiting for the browser rather than failed.
func settleIntent(ctx context.Context, p *Payment, intent Intent, awaitClient bool) State {
	p.adoptIntent(intent)
	_ = p.recordIntent(ctx, intent)
	switch {
	case intent.Status.Successful():
		return newProcessedState()
	case intent.Status == StatusRequiresAction:
		return p.enterAuthentication(ctx, intent)
	case awaitClient && intent.Status.AwaitingClient():
		return p.enterAuthentication(ctx, intent)
	default:
		return p.failProcessing(ctx, intent.FailureMessage())
	}
}

func intentFailure(ctx context.Context, p *Payment, err error) State {
	if re, ok := AsAmountTooSmall(err); ok {
		currency := re.Currency
		if currency == "" {
			currency = p.meta.Currency
		}
		if p.svc.Minimums != nil && re.MinimumAmount > 0 {
			p.svc.Minimums.Set(ctx, currency, re.MinimumAmount)
		}
		return p.markFailed(ctx, MinimumAmountMessage(re.MinimumAmount, currency))
	}
	var re *RemoteError
	if errors.As(err, &re) {
		if re.IntentID != "" {
			p.intentID = re.IntentID
		}
		p.logger().Warn().Err(err).Str("code", re.Code).Str("decline_code", re.DeclineCode).Msg("processor rejected payment")
		return p.failProcessing(ctx, remoteMessage(err))
	}
	p.logger().Error().Err(err).Msg("processor call failed")
	return p.failProcessing(ctx, MessageProcessorError)
}

func buildIntentRequest(p *Payment, order Order) IntentRequest {
	req := IntentRequest{
		Amount:             order.Total,
		Currency:           strings.ToUpper(order.Currency),
		CustomerID:         p.customerRef,
		CaptureMethod:      captureMethod(p.flags),
		PaymentMethodTypes: methodTypes(p),
		Metadata:           p.meta.Order.Map(),
		Level3:             level3(order),
		OffSession:         p.flags.Has(FlagMerchantInitiated),
		Fingerprint:        p.meta.Fingerprint,
	}
	if p.method != nil {
		req.PaymentMethodID = p.method.ID()
	}
	if _, saved := p.method.(SavedMethod); saved {
		req.CVCConfirmation = p.meta.CVCConfirmation
	}
	if p.flags.wantsSave() || p.flags.Has(FlagRecurring) {
		req.SetupFutureUsage = "off_session"
	}
	if !req.OffSession && p.svc.ReturnURL != nil {
		req.ReturnURL = p.svc.ReturnURL(order)
	}
	if req.OffSession {
		req.Mandate = p.meta.Mandate
	}
	return req
}

func captureMethod(f Flags) string {
	if f.Has(FlagManualCapture) {
		return CaptureManual
	}
	return CaptureAutomatic
}

func methodTypes(p *Payment) []string {
	if saved, ok := p.method.(SavedMethod); ok && saved.Token.Type != "" {
		return []string{saved.Token.Type}
	}
	if p.meta.MethodType != "" {
		return []string{p.meta.MethodType}
	}
	return []string{"card"}
}

const (
	level3ProductCodeMax = 12
	level3DescriptionMax = 26
)

func level3(order Order) *Level3 {
	if len(order.Items) == 0 {
		return nil
	}
	out := &Level3{MerchantReference: order.ID, ShippingAmount: order.ShippingTotal}
	for _, item := range order.Items {
		code := item.SKU
		if code == "" {
			code = item.ProductID
		}
		out.LineItems = append(out.LineItems, Level3Item{
			ProductCode:    truncate(code, level3ProductCodeMax),
			Description:    truncate(item.Name, level3DescriptionMax),
			Quantity:       item.Quantity,
			UnitCost:       item.UnitAmount,
			TaxAmount:      item.TaxAmount,
			DiscountAmount: item.DiscountAmount,
		})
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
