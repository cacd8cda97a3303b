package payflow

import (
	"context"
	"errors"
	"strings"
)

// InitialState is where every payment starts.
type InitialState struct{ baseState }

func newInitialState() *InitialState {
	return &InitialState{baseState{name: StateInitial}}
}

func (s *InitialState) prepare(ctx context.Context, p *Payment) (State, error) {
	return prepareOrder(ctx, p)
}

func (s *InitialState) createIntentWithoutOrder(ctx context.Context, p *Payment, amount int64, currency string) (State, error) {
	if p.orderID != "" {
		return nil, ErrOrderAttached
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	p.meta.Amount = amount
	p.meta.Currency = currency
	p.preCheckout = true

	req := IntentRequest{
		Amount:             amount,
		Currency:           currency,
		CustomerID:         p.customerRef,
		CaptureMethod:      captureMethod(p.flags),
		PaymentMethodTypes: methodTypes(p),
		Fingerprint:        p.meta.Fingerprint,
		Metadata:           map[string]string{"payment_id": p.id, "site_url": p.svc.SiteURL},
	}
	if p.flags.wantsSave() {
		req.SetupFutureUsage = "off_session"
	}
	intent, err := p.svc.Intents.CreateIntent(ctx, req)
	if err != nil {
		p.logger().Warn().Err(err).Msg("create intent without order")
		return p.failPreparation(remoteMessage(err)), nil
	}
	p.adoptIntent(intent)
	p.setResponse(Response{Outcome: OutcomeSuccess, ClientSecret: intent.ClientSecret})
	return newIntentWithoutOrderState(), nil
}

// A browser-confirmed intent can be adopted straight from Initial.
func (s *InitialState) loadIntentAfterConfirmation(ctx context.Context, p *Payment, intentID string) (State, error) {
	order, err := p.order(ctx)
	if err != nil {
		return nil, err
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		intentID = order.IntentID
	}
	if intentID == "" {
		return nil, ErrIntentMismatch
	}
	intent, err := FetchIntent(ctx, p.svc.Intents, intentID)
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) {
			return p.failProcessing(ctx, remoteMessage(err)), nil
		}
		return nil, err
	}
	if !intentBelongsTo(intent, order) {
		p.logger().Error().Str("intent_id", intent.ID).Msg("intent does not belong to order")
		return nil, ErrIntentMismatch
	}
	p.userID = order.UserID
	p.meta.Amount = order.Total
	p.meta.Currency = order.Currency
	p.meta.Order = buildOrderMetadata(order, p.svc.SiteURL, p.flags)
	p.adoptIntent(intent)
	p.verified = true
	return settleIntent(ctx, p, intent, false), nil
}

// IntentWithoutOrderState holds an intent created before checkout; it waits for an order.
type IntentWithoutOrderState struct{ baseState }

func newIntentWithoutOrderState() *IntentWithoutOrderState {
	return &IntentWithoutOrderState{baseState{name: StateIntentWithoutOrder}}
}

func (s *IntentWithoutOrderState) prepare(ctx context.Context, p *Payment) (State, error) {
	return prepareOrder(ctx, p)
}

// PreparedState has order context loaded and waits for verification.
type PreparedState struct{ baseState }

func newPreparedState() *PreparedState {
	return &PreparedState{baseState{name: StatePrepared}}
}

func (s *PreparedState) verify(ctx context.Context, p *Payment, method Method, fraudToken string) (State, error) {
	if method != nil {
		p.method = method
	}
	if fraudToken != "" {
		p.meta.FraudToken = fraudToken
	}
	shopper := !p.flags.Has(FlagMerchantInitiated)

	if shopper {
		if key, limited := p.rateLimited(ctx); limited {
			p.logger().Warn().Str("limiter_key", key).Msg("checkout rate limited")
			return p.failPreparation(MessageGenericFailure), nil
		}
	}
	if shopper && !p.fraudCheckPasses(ctx) {
		p.logger().Warn().Msg("fraud token rejected")
		return p.failPreparation(MessageGenericFailure), nil
	}

	order, err := p.order(ctx)
	if err != nil {
		p.logger().Error().Err(err).Msg("load order for verification")
		return p.failPreparation(MessageGenericFailure), nil
	}

	guard := p.svc.duplicates()
	if shopper {
		if previous, ok := guard.PaidSessionDuplicate(ctx, p.session, order); ok {
			guard.DiscardDuplicate(ctx, p.session, order)
			p.logger().Info().Str("previous_order_id", previous.ID).Msg("order already paid in this session")
			return p.finishCompleted(previous, NoticePreviousOrderPaid), nil
		}
		guard.RememberProcessing(ctx, p.session, order.ID)
	}
	intent, ok, err := guard.SucceededIntent(ctx, order)
	if err != nil {
		p.logger().Error().Err(err).Msg("read attached intent")
		return p.failPreparation(MessageGenericFailure), nil
	}
	if ok {
		p.adoptIntent(intent)
		p.meta.Notice = NoticeIntentAlreadySuccessful
		p.verified = true
		return newProcessedState(), nil
	}

	if order.Total == 0 && !p.flags.wantsSave() {
		p.verified = true
		return completeWithoutPayment(ctx, p, order), nil
	}

	if order.Total > 0 && p.svc.Minimums != nil {
		if minimum, ok := p.svc.Minimums.Get(ctx, order.Currency); ok && order.Total < minimum {
			return p.failPreparation(MinimumAmountMessage(minimum, order.Currency)), nil
		}
	}
	p.verified = true
	return newVerifiedState(), nil
}

// FailedPreparationState is terminal; the order is left untouched.
type FailedPreparationState struct{ baseState }

func newFailedPreparationState() *FailedPreparationState {
	return &FailedPreparationState{baseState{name: StateFailedPreparation}}
}

func (s *FailedPreparationState) Response(p *Payment) Response { return storedResponse(p) }

func prepareOrder(ctx context.Context, p *Payment) (State, error) {
	if p.orderID == "" {
		return nil, ErrOrderRequired
	}
	order, err := p.order(ctx)
	if err != nil {
		p.logger().Error().Err(err).Msg("load order for preparation")
		return p.failPreparation(MessageGenericFailure), nil
	}
	p.userID = order.UserID
	p.meta.Amount = order.Total
	p.meta.Currency = strings.ToUpper(order.Currency)
	if p.meta.Country == "" {
		p.meta.Country = strings.ToUpper(order.Billing.Country)
	}
	if order.IsRenewal {
		p.flags |= FlagRecurring
	}
	p.meta.Order = buildOrderMetadata(order, p.svc.SiteURL, p.flags)

	if p.customerRef == "" && p.userID != "" && p.svc.Customers != nil {
		ref, err := p.svc.Customers.Find(ctx, p.userID)
		if err != nil {
			p.logger().Warn().Err(err).Msg("look up customer")
		}
		p.customerRef = ref
	}
	p.meta.CustomerMissing = p.customerRef == ""

	if p.submission.FraudToken != "" && p.meta.FraudToken == "" {
		p.meta.FraudToken = p.submission.FraudToken
	}
	if !p.fraudCheckPasses(ctx) {
		p.logger().Warn().Msg("fraud token rejected during preparation")
		return p.failPreparation(MessageGenericFailure), nil
	}
	return newPreparedState(), nil
}

func completeWithoutPayment(ctx context.Context, p *Payment, order Order) State {
	if err := p.svc.Orders.MarkPaid(ctx, order.ID, PaidDetails{Status: OrderProcessing, MethodTitle: defaultMethodTitle}); err != nil {
		p.logger().Error().Err(err).Msg("mark free order paid")
		return p.failPreparation(MessageGenericFailure)
	}
	if saved, ok := p.method.(SavedMethod); ok && p.svc.Methods != nil {
		if err := p.svc.Methods.AttachToOrder(ctx, order.ID, saved.Token); err != nil {
			p.logger().Warn().Err(err).Msg("attach saved method to order")
		}
		if err := p.svc.Methods.AttachToSubscriptions(ctx, order.ID, saved.Token); err != nil {
			p.logger().Warn().Err(err).Msg("attach saved method to subscriptions")
		}
	}
	p.reduceStock(ctx)
	p.emptyCart(ctx, order)
	p.clearPendingIntent(ctx)
	p.setResponse(Response{Outcome: OutcomeSuccess, RedirectURL: p.svc.Orders.ReceiptURL(order)})
	return newCompletedWithoutPaymentState()
}

func intentBelongsTo(intent Intent, order Order) bool {
	if order.IntentID != "" && order.IntentID == intent.ID {
		return true
	}
	return intent.Metadata["order_id"] != "" && intent.Metadata["order_id"] == order.ID
}

func remoteMessage(err error) string {
	var re *RemoteError
	if errors.As(err, &re) && strings.TrimSpace(re.Message) != "" {
		return re.Message
	}
	return MessageProcessorError
}
