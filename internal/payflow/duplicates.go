package payflow

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payflow/internal/obs"
)

// Session keys used by the payment flow.
const (
	sessionKeyProcessingOrder = "processing_order_id"
	sessionKeyPendingIntent   = "pending_intent_id"
)

// DuplicateGuard detects repeated submissions before anything is charged.
// Without a session store both session checks report no duplicate.
type DuplicateGuard struct {
	Orders   Orders
	Sessions SessionStore
	Intents  IntentClient
	Logger   zerolog.Logger
}

// PaidSessionDuplicate returns the order the session was already processing when
// that order is paid and has the same cart contents as current.
func (g DuplicateGuard) PaidSessionDuplicate(ctx context.Context, session Session, current Order) (Order, bool) {
	if g.Sessions == nil || session.ID == "" {
		return Order{}, false
	}
	previousID, err := g.Sessions.Get(ctx, session.ID, sessionKeyProcessingOrder)
	if err != nil {
		g.Logger.Warn().Err(err).Msg("read processing order from session")
		return Order{}, false
	}
	if previousID == "" || previousID == current.ID {
		return Order{}, false
	}
	previous, err := g.Orders.Get(ctx, previousID)
	if err != nil {
		g.Logger.Debug().Err(err).Str("previous_order_id", previousID).Msg("load previous session order")
		return Order{}, false
	}
	if previous.CartHash == "" || previous.CartHash != current.CartHash || !previous.IsPaid() {
		return Order{}, false
	}
	obs.IncCounter(obs.PaymentDuplicateTotal, "session_order")
	return previous, true
}

// DiscardDuplicate deletes the duplicate order and forgets the session pointer.
func (g DuplicateGuard) DiscardDuplicate(ctx context.Context, session Session, duplicate Order) {
	if err := g.Orders.Delete(ctx, duplicate.ID); err != nil {
		g.Logger.Error().Err(err).Str("order_id", duplicate.ID).Msg("delete duplicate order")
	}
	g.ForgetProcessing(ctx, session)
}

// RememberProcessing points the session at the order being paid.
func (g DuplicateGuard) RememberProcessing(ctx context.Context, session Session, orderID string) {
	if g.Sessions == nil || session.ID == "" || orderID == "" {
		return
	}
	if err := g.Sessions.Set(ctx, session.ID, sessionKeyProcessingOrder, orderID); err != nil {
		g.Logger.Warn().Err(err).Msg("remember processing order")
	}
}

// ForgetProcessing drops the session's processing pointer once the shopper
// has been shown a receipt.
func (g DuplicateGuard) ForgetProcessing(ctx context.Context, session Session) {
	if g.Sessions == nil || session.ID == "" {
		return
	}
	if err := g.Sessions.Delete(ctx, session.ID, sessionKeyProcessingOrder); err != nil {
		g.Logger.Warn().Err(err).Str("session_id", session.ID).Msg("forget processing order")
	}
}

// SucceededIntent re-reads the intent attached to the order and reports whether
// it already took the money.
func (g DuplicateGuard) SucceededIntent(ctx context.Context, order Order) (Intent, bool, error) {
	if order.IntentID == "" || g.Intents == nil {
		return Intent{}, false, nil
	}
	intent, err := FetchIntent(ctx, g.Intents, order.IntentID)
	if err != nil {
		return Intent{}, false, err
	}
	if !intent.Status.Successful() {
		return Intent{}, false, nil
	}
	obs.IncCounter(obs.PaymentDuplicateTotal, "succeeded_intent")
	return intent, true, nil
}
