package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payflow/internal/gateway"
	"github.com/noah-isme/toko-payflow/internal/lock"
	"github.com/noah-isme/toko-payflow/internal/obs"
	"github.com/noah-isme/toko-payflow/internal/payflow"
	"github.com/noah-isme/toko-payflow/internal/queue"
)

// ErrUnknownJob is returned for task kinds no handler is registered for.
var ErrUnknownJob = errors.New("jobs: unknown job")

// Locker serialises work on one key across workers.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Methods is the saved-credential store used by the jobs.
type Methods interface {
	payflow.SavedMethods
	Get(ctx context.Context, userID, id string) (payflow.SavedToken, error)
	FindByGatewayID(ctx context.Context, userID, gatewayID string) (payflow.SavedToken, error)
}

// Remote is the processor surface for payment methods.
type Remote interface {
	AttachMethod(ctx context.Context, methodID, customerID string) (gateway.PaymentMethod, error)
	GetMethod(ctx context.Context, methodID string) (gateway.PaymentMethod, error)
}

// Handlers runs the payment background jobs.
type Handlers struct {
	Remote    Remote
	Methods   Methods
	Customers payflow.Customers
	Orders    payflow.Orders
	Payments  *payflow.Service
	Locker    Locker
	LockTTL   time.Duration
	Logger    zerolog.Logger
}

// Handle dispatches a job by kind.
func (h *Handlers) Handle(ctx context.Context, kind string, payload []byte) error {
	var err error
	switch kind {
	case payflow.JobSavePaymentMethod:
		var job payflow.SaveMethodJob
		if err = decode(payload, &job); err == nil {
			err = h.withLock(ctx, lock.MethodKey(job.PaymentMethodID), func(ctx context.Context) error { return h.SaveMethod(ctx, job) })
		}
	case payflow.JobRefreshPaymentMethod:
		var job payflow.RefreshMethodJob
		if err = decode(payload, &job); err == nil {
			err = h.withLock(ctx, lock.MethodKey(job.PaymentMethodID), func(ctx context.Context) error { return h.RefreshMethod(ctx, job) })
		}
	case payflow.JobSubscriptionRenewal:
		var job payflow.RenewalJob
		if err = decode(payload, &job); err == nil {
			err = h.withLock(ctx, lock.OrderKey(job.OrderID), func(ctx context.Context) error { return h.Renew(ctx, job) })
		}
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownJob, kind)
	}
	result := "ok"
	if err != nil {
		result = "error"
		h.Logger.Error().Err(err).Str("job", kind).Msg("job failed")
	}
	obs.IncCounter(obs.PaymentJobTotal, kind, result)
	return err
}

// QueueHandler adapts Handle to the Redis queue worker.
func (h *Handlers) QueueHandler() func(context.Context, queue.Task) error {
	return func(ctx context.Context, t queue.Task) error {
		err := h.Handle(ctx, t.Kind, t.Payload)
		if errors.Is(err, asynq.SkipRetry) || errors.Is(err, ErrUnknownJob) {
			return queue.Permanent(err)
		}
		return err
	}
}

// Mux registers every job on an asynq ServeMux.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for _, kind := range Kinds() {
		mux.HandleFunc(kind, func(ctx context.Context, t *asynq.Task) error {
			err := h.Handle(ctx, t.Type(), t.Payload())
			if errors.Is(err, ErrUnknownJob) {
				return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
			}
			return err
		})
	}
	return mux
}

// Kinds lists the job names the handlers serve.
func Kinds() []string {
	return []string{payflow.JobSavePaymentMethod, payflow.JobRefreshPaymentMethod, payflow.JobSubscriptionRenewal}
}

// SaveMethod attaches a freshly used credential to the shopper's processor
// customer and stores it for future purchases.
func (h *Handlers) SaveMethod(ctx context.Context, job payflow.SaveMethodJob) error {
	if job.UserID == "" || job.PaymentMethodID == "" {
		return fmt.Errorf("%w: save job needs user and payment method", asynq.SkipRetry)
	}
	ref := job.CustomerRef
	if ref == "" && h.Customers != nil {
		found, err := h.Customers.Find(ctx, job.UserID)
		if err != nil {
			return err
		}
		ref = found
		if ref == "" {
			in := payflow.CustomerInput{UserID: job.UserID, OrderID: job.OrderID}
			if h.Orders != nil {
				if order, err := h.Orders.Get(ctx, job.OrderID); err == nil {
					in.Billing = order.Billing
				}
			}
			if ref, err = h.Customers.Upsert(ctx, in); err != nil {
				return err
			}
		}
	}
	pm, err := h.Remote.AttachMethod(ctx, job.PaymentMethodID, ref)
	if err != nil {
		var remote *payflow.RemoteError
		if errors.As(err, &remote) && remote.HTTPStatus >= 400 && remote.HTTPStatus < 500 {
			h.Logger.Warn().Err(err).Str("order_id", job.OrderID).Msg("processor refused to attach method")
			h.note(ctx, job.OrderID, "The payment method could not be saved for future purchases.")
			return nil
		}
		return err
	}
	token, err := h.Methods.Add(ctx, job.UserID, pm.Token(job.UserID))
	if err != nil {
		return err
	}
	if job.OrderID == "" {
		return nil
	}
	if err := h.Methods.AttachToOrder(ctx, job.OrderID, token); err != nil && !errors.Is(err, payflow.ErrOrderNotFound) {
		return err
	}
	return h.Methods.AttachToSubscriptions(ctx, job.OrderID, token)
}

// RefreshMethod re-reads card details of a saved credential, such as a new
// expiry after the issuer reissued the card.
func (h *Handlers) RefreshMethod(ctx context.Context, job payflow.RefreshMethodJob) error {
	if job.UserID == "" || job.PaymentMethodID == "" {
		return nil
	}
	pm, err := h.Remote.GetMethod(ctx, job.PaymentMethodID)
	if err != nil {
		if gateway.IsNotFound(err) {
			h.Logger.Warn().Str("payment_method_id", job.PaymentMethodID).Msg("saved method no longer exists on processor")
			return nil
		}
		return err
	}
	_, err = h.Methods.Add(ctx, job.UserID, pm.Token(job.UserID))
	return err
}

// Renew charges a subscription renewal order with its saved credential.
// A declined renewal is an outcome, not a job failure.
func (h *Handlers) Renew(ctx context.Context, job payflow.RenewalJob) error {
	if h.Payments == nil {
		return errors.New("jobs: payment service not configured")
	}
	order, err := h.Orders.Get(ctx, job.OrderID)
	if err != nil {
		if errors.Is(err, payflow.ErrOrderNotFound) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if order.IsPaid() {
		return nil
	}
	token, err := h.renewalToken(ctx, order, job.TokenID)
	if err != nil {
		return err
	}

	p, err := h.Payments.CreatePayment(ctx, order.ID)
	if err != nil {
		return err
	}
	if err := p.SetFlags(payflow.FlagMerchantInitiated | payflow.FlagRecurring); err != nil {
		return err
	}
	if job.Mandate != "" {
		p.SetMandate(job.Mandate)
	}
	p.Submit(payflow.SavedMethod{Token: token}, "")
	resp, err := h.Payments.Run(ctx, p, payflow.SubscriptionRenewalStrategy{})
	if err != nil {
		return err
	}
	log := h.Logger.With().Str("order_id", order.ID).Str("payment_id", p.ID()).Logger()
	if resp.Outcome != payflow.OutcomeSuccess {
		log.Warn().Str("state", string(p.State().Name())).Str("message", resp.Message).Msg("renewal not charged")
		return nil
	}
	log.Info().Str("intent_id", resp.IntentID).Msg("renewal charged")
	return nil
}

func (h *Handlers) renewalToken(ctx context.Context, order payflow.Order, tokenID string) (payflow.SavedToken, error) {
	if tokenID != "" {
		return h.Methods.Get(ctx, order.UserID, tokenID)
	}
	if order.PaymentMethodID == "" {
		return payflow.SavedToken{}, fmt.Errorf("%w: renewal order %s has no saved method", asynq.SkipRetry, order.ID)
	}
	return h.Methods.FindByGatewayID(ctx, order.UserID, order.PaymentMethodID)
}

func (h *Handlers) note(ctx context.Context, orderID, note string) {
	if h.Orders == nil || orderID == "" {
		return
	}
	if err := h.Orders.AddNote(ctx, orderID, note); err != nil {
		h.Logger.Warn().Err(err).Str("order_id", orderID).Msg("add order note")
	}
}

func (h *Handlers) withLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if h.Locker == nil {
		return fn(ctx)
	}
	return h.Locker.WithLock(ctx, key, h.LockTTL, fn)
}

func decode(payload []byte, dst any) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: decode payload: %w", asynq.SkipRetry, err)
	}
	return nil
}
