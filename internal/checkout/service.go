package checkout

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payflow/internal/common"
	"github.com/noah-isme/toko-payflow/internal/gateway"
	"github.com/noah-isme/toko-payflow/internal/lock"
	"github.com/noah-isme/toko-payflow/internal/obs"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

const webhookProvider = "processor"

var (
	ErrFraudTokenRequired = common.NewAppError("FRAUD_TOKEN_REQUIRED", "fraud prevention token is required", http.StatusBadRequest, nil)
	ErrOrderForbidden     = common.NewAppError("NOT_FOUND", "order not found", http.StatusNotFound, nil)
	ErrPaymentMissing     = common.NewAppError("NOT_FOUND", "payment not found", http.StatusNotFound, nil)
	ErrSavedMethodMissing = common.NewAppError("SAVED_METHOD_NOT_FOUND", "saved payment method not found", http.StatusUnprocessableEntity, nil)
	ErrPaymentConflict    = common.NewAppError("PAYMENT_CONFLICT", "payment belongs to another order", http.StatusConflict, nil)
	ErrIntentMismatch     = common.NewAppError("INTENT_MISMATCH", payflow.MessageGenericFailure, http.StatusBadRequest, nil)
	ErrPaymentLocked      = common.NewAppError("PAYMENT_STATE", "payment can no longer be changed", http.StatusConflict, nil)
	ErrPaymentState       = common.NewAppError("PAYMENT_STATE", "payment is not in a state that allows this action", http.StatusConflict, nil)
	ErrDuplicateEvent     = errors.New("checkout: webhook event already processed")
)

// Orders is the subset of the order store checkout reads.
type Orders interface {
	Get(ctx context.Context, id string) (payflow.Order, error)
	FindByIntent(ctx context.Context, intentID string) (payflow.Order, error)
}

// SavedMethods looks up a shopper's stored credential.
type SavedMethods interface {
	Get(ctx context.Context, userID, id string) (payflow.SavedToken, error)
}

// Locker serialises flows touching the same order.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service exposes the payment flow to shoppers and processor webhooks.
type Service struct {
	Payments *payflow.Service
	Orders   Orders
	Methods  SavedMethods
	Fraud    payflow.FraudTokens
	Locker   Locker
	LockTTL  time.Duration

	// ManualCapture authorizes card payments and leaves capture to the merchant.
	ManualCapture bool

	// Replay remembers delivered webhook event ids.
	Replay    *redis.Client
	ReplayTTL time.Duration

	Logger zerolog.Logger
}

// IntentInput starts a payment before the order exists.
type IntentInput struct {
	Amount      int64  `json:"amount" validate:"gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	SaveMethod  bool   `json:"save_method"`
	Fingerprint string `json:"fingerprint" validate:"max=128"`
}

// PayInput submits a payment for an existing order.
type PayInput struct {
	OrderKey        string `json:"order_key" validate:"required"`
	PaymentMethodID string `json:"payment_method_id" validate:"required_without=SavedMethodID,max=255"`
	SavedMethodID   string `json:"saved_method_id" validate:"omitempty,uuid"`
	FraudToken      string `json:"fraud_token"`
	SaveMethod      bool   `json:"save_method"`
	SaveToPlatform  bool   `json:"save_to_platform"`
	Fingerprint     string `json:"fingerprint" validate:"max=128"`
	MethodType      string `json:"payment_method_type" validate:"omitempty,max=32"`
	Country         string `json:"country" validate:"omitempty,len=2"`
	CVCConfirmation string `json:"cvc_confirmation" validate:"max=32"`
	PaymentID       string `json:"payment_id" validate:"omitempty,uuid"`
	WalletIntentID  string `json:"wallet_intent_id" validate:"max=255"`
}

// CreateIntent creates a processor intent for a cart that has no order yet.
func (s *Service) CreateIntent(ctx context.Context, session payflow.Session, in IntentInput) (payflow.Response, error) {
	p, err := s.Payments.CreatePayment(ctx, "")
	if err != nil {
		return payflow.Response{}, err
	}
	p.SetSession(session)
	p.SetFingerprint(in.Fingerprint)
	if in.SaveMethod {
		if err := p.SetFlags(payflow.FlagSaveToStore); err != nil {
			return payflow.Response{}, err
		}
	}
	if err := p.CreateIntentWithoutOrder(ctx, in.Amount, strings.ToUpper(in.Currency)); err != nil {
		return payflow.Response{}, translate(err)
	}
	resp, err := s.Payments.Run(ctx, p, nil)
	return resp, translate(err)
}

// Pay runs the payment for orderID.
func (s *Service) Pay(ctx context.Context, session payflow.Session, orderID string, in PayInput) (payflow.Response, error) {
	order, err := s.authorizedOrder(ctx, orderID, in.OrderKey)
	if err != nil {
		return payflow.Response{}, err
	}
	if s.Fraud != nil && s.Fraud.Enabled() && strings.TrimSpace(in.FraudToken) == "" {
		return payflow.Response{}, ErrFraudTokenRequired
	}

	method, err := s.method(ctx, order, in)
	if err != nil {
		return payflow.Response{}, err
	}

	p, err := s.payment(ctx, order.ID, in.PaymentID)
	if err != nil {
		return payflow.Response{}, err
	}
	p.SetSession(session)
	p.SetFingerprint(in.Fingerprint)
	p.SetMethodType(in.MethodType)
	p.SetCountry(in.Country)
	p.SetCVCConfirmation(in.CVCConfirmation)

	var flags payflow.Flags
	if s.ManualCapture {
		flags |= payflow.FlagManualCapture
	}
	if in.SaveMethod {
		flags |= payflow.FlagSaveToStore
	}
	if in.SaveToPlatform {
		flags |= payflow.FlagSaveToPlatform
	}
	if flags != 0 {
		if err := p.SetFlags(flags); err != nil {
			return payflow.Response{}, translate(err)
		}
	}

	var strategy payflow.Strategy
	if id := strings.TrimSpace(in.WalletIntentID); id != "" {
		strategy = payflow.LoadExternalWalletIntentStrategy{IntentID: id}
	}
	p.Submit(method, in.FraudToken)
	var resp payflow.Response
	err = s.withOrderLock(ctx, order.ID, func(ctx context.Context) error {
		var runErr error
		resp, runErr = s.Payments.Run(ctx, p, strategy)
		return runErr
	})
	return resp, translate(err)
}

// Return resumes the payment after the shopper comes back from an
// authentication or redirect-based method.
func (s *Service) Return(ctx context.Context, session payflow.Session, orderID, orderKey, intentID string) (payflow.Response, error) {
	if _, err := s.authorizedOrder(ctx, orderID, orderKey); err != nil {
		return payflow.Response{}, err
	}
	resp, err := s.resume(ctx, orderID, strings.TrimSpace(intentID), session)
	return resp, translate(err)
}

// HandleEvent applies a verified webhook event. Events are processed at most
// once; an event id is released again when handling fails so the processor
// retry can succeed.
func (s *Service) HandleEvent(ctx context.Context, ev gateway.Event) (err error) {
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, ErrDuplicateEvent):
			result = "duplicate"
		case err != nil:
			result = "error"
		}
		obs.IncCounter(obs.PaymentWebhookTotal, webhookProvider, result)
	}()

	if !ev.IsIntentEvent() {
		s.Logger.Debug().Str("event_id", ev.ID).Str("type", ev.Type).Msg("webhook ignored")
		return nil
	}
	first, err := s.claimEvent(ctx, ev.ID)
	if err != nil {
		return err
	}
	if !first {
		return ErrDuplicateEvent
	}
	if err := s.applyEvent(ctx, ev); err != nil {
		s.releaseEvent(ctx, ev.ID)
		return err
	}
	return nil
}

func (s *Service) applyEvent(ctx context.Context, ev gateway.Event) error {
	orderID := ev.OrderID()
	if orderID == "" {
		order, err := s.Orders.FindByIntent(ctx, ev.Intent.ID)
		if err != nil {
			if errors.Is(err, payflow.ErrOrderNotFound) {
				s.Logger.Warn().Str("event_id", ev.ID).Str("intent_id", ev.Intent.ID).Msg("webhook for unknown intent")
				return nil
			}
			return err
		}
		orderID = order.ID
	}
	resp, err := s.resume(ctx, orderID, ev.Intent.ID, payflow.Session{})
	switch {
	case errors.Is(err, payflow.ErrOrderNotFound), errors.Is(err, payflow.ErrIntentMismatch):
		s.Logger.Warn().Err(err).Str("event_id", ev.ID).Str("order_id", orderID).Msg("webhook skipped")
		return nil
	case err != nil:
		return err
	}
	s.Logger.Info().
		Str("event_id", ev.ID).
		Str("type", ev.Type).
		Str("order_id", orderID).
		Str("result", string(resp.Outcome)).
		Msg("webhook applied")
	return nil
}

func (s *Service) resume(ctx context.Context, orderID, intentID string, session payflow.Session) (payflow.Response, error) {
	var resp payflow.Response
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		var err error
		resp, err = s.Payments.Resume(ctx, orderID, intentID, session)
		return err
	})
	return resp, err
}

func (s *Service) withOrderLock(ctx context.Context, orderID string, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	return s.Locker.WithLock(ctx, lock.OrderKey(orderID), s.LockTTL, fn)
}

func (s *Service) claimEvent(ctx context.Context, id string) (bool, error) {
	if s.Replay == nil {
		return true, nil
	}
	ttl := s.ReplayTTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	ok, err := s.Replay.SetNX(ctx, replayKey(id), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	return ok, nil
}

func (s *Service) releaseEvent(ctx context.Context, id string) {
	if s.Replay == nil {
		return
	}
	if err := s.Replay.Del(context.WithoutCancel(ctx), replayKey(id)).Err(); err != nil {
		s.Logger.Warn().Err(err).Str("event_id", id).Msg("release webhook event")
	}
}

func replayKey(id string) string {
	return "payflow:webhook:" + common.Sha256Hex(id)
}

func (s *Service) authorizedOrder(ctx context.Context, orderID, key string) (payflow.Order, error) {
	order, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, payflow.ErrOrderNotFound) {
			return payflow.Order{}, ErrOrderForbidden
		}
		return payflow.Order{}, err
	}
	if key == "" || subtle.ConstantTimeCompare([]byte(order.Key), []byte(key)) != 1 {
		return payflow.Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *Service) method(ctx context.Context, order payflow.Order, in PayInput) (payflow.Method, error) {
	if in.SavedMethodID == "" {
		return payflow.NewMethod{PaymentMethodID: strings.TrimSpace(in.PaymentMethodID)}, nil
	}
	if s.Methods == nil || order.UserID == "" {
		return nil, ErrSavedMethodMissing
	}
	token, err := s.Methods.Get(ctx, order.UserID, in.SavedMethodID)
	if err != nil {
		s.Logger.Debug().Err(err).Str("order_id", order.ID).Msg("saved method lookup failed")
		return nil, ErrSavedMethodMissing
	}
	return payflow.SavedMethod{Token: token}, nil
}

// payment picks the payment to run: the pre-checkout payment when the client
// created one, otherwise a fresh attempt.
func (s *Service) payment(ctx context.Context, orderID, paymentID string) (*payflow.Payment, error) {
	if paymentID == "" {
		return s.Payments.CreatePayment(ctx, orderID)
	}
	p, err := s.Payments.LoadPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPaymentMissing
	}
	if err := p.AttachOrder(orderID); err != nil {
		if errors.Is(err, payflow.ErrOrderAttached) {
			return nil, ErrPaymentConflict
		}
		return nil, err
	}
	return p, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payflow.ErrIntentMismatch):
		return ErrIntentMismatch.Wrap(err)
	case errors.Is(err, payflow.ErrOrderNotFound):
		return ErrOrderForbidden.Wrap(err)
	case errors.Is(err, payflow.ErrFlagsLocked):
		return ErrPaymentLocked.Wrap(err)
	}
	var transition *payflow.InvalidTransitionError
	if errors.As(err, &transition) {
		return ErrPaymentState.Wrap(err)
	}
	return err
}
