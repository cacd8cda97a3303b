package payflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// VerifiedState has passed every gate and waits for a strategy to charge it.
type VerifiedState struct{ baseState }

func newVerifiedState() *VerifiedState {
	return &VerifiedState{baseState{name: StateVerified}}
}

func (s *VerifiedState) process(ctx context.Context, p *Payment, strategy Strategy) (State, error) {
	if strategy == nil {
		return nil, ErrStrategyRequired
	}
	order, err := p.order(ctx)
	if err != nil {
		p.logger().Error().Err(err).Msg("load order for processing")
		return p.failProcessing(ctx, MessageProcessorError), nil
	}
	if p.svc.Customers != nil {
		ref, err := p.svc.Customers.Upsert(ctx, CustomerInput{
			UserID:      p.userID,
			CustomerRef: p.customerRef,
			OrderID:     order.ID,
			Billing:     order.Billing,
		})
		if err != nil {
			p.logger().Warn().Err(err).Msg("upsert customer")
			return p.failProcessing(ctx, remoteMessage(err)), nil
		}
		p.customerRef = ref
		p.meta.CustomerMissing = ref == ""
	}
	p.logger().Debug().Str("strategy", strategy.Name()).Msg("processing payment")
	return strategy.Process(ctx, p)
}

// AuthenticationRequiredState waits for the shopper to finish a challenge.
type AuthenticationRequiredState struct{ baseState }

func newAuthenticationRequiredState() *AuthenticationRequiredState {
	return &AuthenticationRequiredState{baseState{name: StateAuthenticationRequired}}
}

func (s *AuthenticationRequiredState) Response(p *Payment) Response { return storedResponse(p) }

func (s *AuthenticationRequiredState) loadIntentAfterAuthentication(ctx context.Context, p *Payment, intentID string) (State, error) {
	order, err := p.order(ctx)
	if err != nil {
		return nil, err
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" || order.IntentID == "" || intentID != order.IntentID {
		p.logger().Error().
			Str("intent_id", intentID).
			Str("order_intent_id", order.IntentID).
			Msg("authenticated intent does not match order")
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
	p.adoptIntent(intent)
	if intent.Status.Successful() {
		return newProcessedState(), nil
	}
	message := MessageAuthenticationFail
	if intent.LastError != nil && intent.LastError.Message != "" {
		message = intent.LastError.Message
	}
	return p.failProcessing(ctx, message), nil
}

// ProcessedState holds a successful charge that is not committed to the order yet.
type ProcessedState struct{ baseState }

func newProcessedState() *ProcessedState {
	return &ProcessedState{baseState{name: StateProcessed}}
}

func (s *ProcessedState) complete(ctx context.Context, p *Payment) (State, error) {
	order, err := p.order(ctx)
	if err != nil {
		return nil, fmt.Errorf("payflow: load order for completion: %w", err)
	}
	if p.intent == nil {
		if p.intentID == "" {
			return nil, ErrIntentRequired
		}
		intent, err := FetchIntent(ctx, p.svc.Intents, p.intentID)
		if err != nil {
			return nil, fmt.Errorf("payflow: reload intent %s: %w", p.intentID, err)
		}
		p.adoptIntent(intent)
	}
	intent := *p.intent

	// the charged method wins over whatever the shopper submitted this time
	if intent.PaymentMethodID != "" && (p.method == nil || p.method.ID() != intent.PaymentMethodID) {
		p.method = NewMethod{PaymentMethodID: intent.PaymentMethodID}
	}
	if !reusableMethod(intent.Method) && p.flags.wantsSave() {
		p.MarkMethodNotReusable()
		p.addNote(ctx, fmt.Sprintf("The %s payment method cannot be saved for future purchases.", intent.Method.Type))
	}

	switch m := p.method.(type) {
	case NewMethod:
		if p.flags.wantsSave() && p.userID != "" {
			p.schedule(ctx, JobSavePaymentMethod, SaveMethodJob{
				OrderID:         order.ID,
				UserID:          p.userID,
				CustomerRef:     p.customerRef,
				PaymentMethodID: m.PaymentMethodID,
				SaveToPlatform:  p.flags.Has(FlagSaveToPlatform),
			})
			p.method = SavedMethod{Token: SavedToken{
				UserID:    p.userID,
				GatewayID: m.PaymentMethodID,
				Type:      intent.Method.Type,
				Brand:     intent.Method.Brand,
				Last4:     intent.Method.Last4,
			}}
		}
	case SavedMethod:
		p.schedule(ctx, JobRefreshPaymentMethod, RefreshMethodJob{
			UserID:          p.userID,
			TokenID:         m.Token.ID,
			PaymentMethodID: m.Token.GatewayID,
		})
	}
	if saved, ok := p.method.(SavedMethod); ok && p.svc.Methods != nil {
		if err := p.svc.Methods.AttachToOrder(ctx, order.ID, saved.Token); err != nil {
			p.logger().Warn().Err(err).Msg("attach saved method to order")
		}
		if err := p.svc.Methods.AttachToSubscriptions(ctx, order.ID, saved.Token); err != nil {
			p.logger().Warn().Err(err).Msg("attach saved method to subscriptions")
		}
	}

	if err := p.svc.Orders.RecordIntent(ctx, order.ID, p.attachment(intent)); err != nil {
		return nil, fmt.Errorf("payflow: record intent %s: %w", intent.ID, err)
	}
	status := OrderProcessing
	if intent.Status == StatusRequiresCapture {
		status = OrderOnHold
	}
	transactionID := intent.ChargeID
	if transactionID == "" {
		transactionID = intent.ID
	}
	if err := p.svc.Orders.MarkPaid(ctx, order.ID, PaidDetails{
		Status:        status,
		MethodTitle:   MethodTitle(intent.Method),
		TransactionID: transactionID,
	}); err != nil {
		return nil, fmt.Errorf("payflow: mark order %s paid: %w", order.ID, err)
	}
	p.reduceStock(ctx)
	p.emptyCart(ctx, order)
	p.clearPendingIntent(ctx)
	return p.finishCompleted(order, p.meta.Notice), nil
}

// ProcessingFailedState is terminal; the order has been marked failed.
type ProcessingFailedState struct{ baseState }

func newProcessingFailedState() *ProcessingFailedState {
	return &ProcessingFailedState{baseState{name: StateProcessingFailed}}
}

func (s *ProcessingFailedState) Response(p *Payment) Response { return storedResponse(p) }

// CompletedState is terminal; the order is paid.
type CompletedState struct{ baseState }

func newCompletedState() *CompletedState {
	return &CompletedState{baseState{name: StateCompleted}}
}

func (s *CompletedState) Response(p *Payment) Response { return storedResponse(p) }

// CompletedWithoutPaymentState is terminal; the order needed no charge.
type CompletedWithoutPaymentState struct{ baseState }

func newCompletedWithoutPaymentState() *CompletedWithoutPaymentState {
	return &CompletedWithoutPaymentState{baseState{name: StateCompletedWithoutPayment}}
}

func (s *CompletedWithoutPaymentState) Response(p *Payment) Response { return storedResponse(p) }

func (p *Payment) addNote(ctx context.Context, note string) {
	if p.orderID == "" {
		return
	}
	if err := p.svc.Orders.AddNote(ctx, p.orderID, note); err != nil {
		p.logger().Warn().Err(err).Msg("add order note")
	}
}
