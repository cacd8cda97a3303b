package payflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-payflow/internal/obs"
)

const defaultMaxSteps = 8

// Service creates, loads and runs payments.
type Service struct {
	Orders    Orders
	Carts     Carts
	Customers Customers
	Intents   IntentClient
	Fraud     FraudTokens
	Limiter   RateLimiter
	Sessions  SessionStore
	Methods   SavedMethods
	Jobs      JobScheduler
	Minimums  MinimumAmounts
	Repo      Repository

	Logger zerolog.Logger
	// SiteURL is reported to the processor in intent metadata.
	SiteURL string
	// ReturnURL is where redirect-based methods send the shopper back to.
	ReturnURL func(Order) string
	Now       Clock
	MaxSteps  int
}

func (s *Service) validate() error {
	switch {
	case s == nil:
		return errors.New("payflow: service not configured")
	case s.Orders == nil:
		return errors.New("payflow: orders not configured")
	case s.Intents == nil:
		return errors.New("payflow: intent client not configured")
	case s.Repo == nil:
		return errors.New("payflow: repository not configured")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) duplicates() DuplicateGuard {
	return DuplicateGuard{Orders: s.Orders, Sessions: s.Sessions, Intents: s.Intents, Logger: s.Logger}
}

// CreatePayment starts a payment in the initial state. An empty orderID creates
// a payment for flows that run before the order exists.
func (s *Service) CreatePayment(ctx context.Context, orderID string) (*Payment, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID != "" {
		if _, err := s.Orders.Get(ctx, orderID); err != nil {
			return nil, fmt.Errorf("payflow: load order %s: %w", orderID, err)
		}
	}
	return &Payment{
		svc:         s,
		id:          uuid.NewString(),
		orderID:     orderID,
		state:       newInitialState(),
		preCheckout: orderID == "",
		createdAt:   s.now(),
	}, nil
}

// LoadPayment restores the latest payment for an order.
func (s *Service) LoadPayment(ctx context.Context, orderID string) (*Payment, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	rec, err := s.Repo.FindByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return s.restore(rec)
}

// LoadOrCreatePayment restores the order's payment or starts a new one.
func (s *Service) LoadOrCreatePayment(ctx context.Context, orderID string) (*Payment, error) {
	p, err := s.LoadPayment(ctx, orderID)
	if errors.Is(err, ErrPaymentNotFound) {
		return s.CreatePayment(ctx, orderID)
	}
	return p, err
}

// LoadPaymentByID restores a payment by its identifier. It returns nil, nil when absent.
func (s *Service) LoadPaymentByID(ctx context.Context, id string) (*Payment, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	rec, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.restore(rec)
}

// Save persists the payment snapshot.
func (s *Service) Save(ctx context.Context, p *Payment) error {
	rec := p.Record()
	rec.UpdatedAt = s.now()
	return s.Repo.Save(ctx, rec)
}

// Run drives the payment through its entry points until it reaches a state
// that produces a response. A nil strategy selects DefaultStrategy.
func (s *Service) Run(ctx context.Context, p *Payment, strategy Strategy) (Response, error) {
	if err := s.validate(); err != nil {
		return Response{}, err
	}
	ctx, span := otel.Tracer("payflow.Service").Start(ctx, "PaymentFlow.Run")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", p.id), attribute.String("order.id", p.orderID))

	strategyName := ""
	maxSteps := s.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	for step := 0; step <= maxSteps; step++ {
		if resp, done := stopResponse(p); done {
			s.receiptShown(ctx, p)
			s.persist(ctx, p)
			if strategyName == "" {
				strategyName = "none"
			}
			obs.IncCounter(obs.PaymentFlowTotal, strategyName, string(p.state.Name()))
			span.SetAttributes(attribute.String("payment.state", string(p.state.Name())))
			return resp, nil
		}
		var err error
		switch p.state.(type) {
		case *InitialState, *IntentWithoutOrderState:
			err = p.Prepare(ctx)
		case *PreparedState:
			err = p.Verify(ctx, p.submission.Method, p.submission.FraudToken)
		case *VerifiedState:
			st := strategy
			if st == nil {
				st = DefaultStrategy(p)
			}
			strategyName = st.Name()
			err = p.Process(ctx, st)
		case *ProcessedState:
			err = p.Complete(ctx)
		default:
			err = fmt.Errorf("%w: no entry point for %s", ErrRunawayFlow, p.state.Name())
		}
		if err != nil {
			s.persist(ctx, p)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Response{}, err
		}
	}
	span.SetStatus(codes.Error, ErrRunawayFlow.Error())
	return Response{}, ErrRunawayFlow
}

// Resume continues a payment after the shopper returns from authentication or
// the processor reports on an intent.
func (s *Service) Resume(ctx context.Context, orderID, intentID string, session Session) (Response, error) {
	p, err := s.LoadOrCreatePayment(ctx, orderID)
	if err != nil {
		return Response{}, err
	}
	if p.session.ID == "" {
		p.SetSession(session)
	}
	attended := session.ID != ""
	switch p.state.(type) {
	case *AuthenticationRequiredState:
		err = p.LoadIntentAfterAuthentication(ctx, intentID)
	case *CompletedState, *CompletedWithoutPaymentState:
	case *InitialState:
		err = p.LoadIntentAfterConfirmation(ctx, intentID)
	default:
		// a failed or abandoned attempt is replaced by a fresh one adopting the intent
		fresh, cerr := s.CreatePayment(ctx, orderID)
		if cerr != nil {
			return Response{}, cerr
		}
		fresh.SetSession(p.session)
		fresh.flags = p.flags
		fresh.method = p.method
		fresh.customerRef = p.customerRef
		p = fresh
		err = p.LoadIntentAfterConfirmation(ctx, intentID)
	}
	if err != nil {
		return Response{}, err
	}
	// webhooks resume without a session; only a returning shopper sees the receipt
	p.attended = attended
	return s.Run(ctx, p, nil)
}

// receiptShown forgets the session's processing pointer once an attended run
// ends on a receipt. Unattended completions keep it so a resubmission of the
// same cart is still caught as a duplicate.
func (s *Service) receiptShown(ctx context.Context, p *Payment) {
	if !p.attended || p.flags.Has(FlagMerchantInitiated) {
		return
	}
	switch p.state.(type) {
	case *CompletedState, *CompletedWithoutPaymentState:
		s.duplicates().ForgetProcessing(ctx, p.session)
	}
}

func (s *Service) persist(ctx context.Context, p *Payment) {
	if err := s.Save(ctx, p); err != nil {
		p.logger().Error().Err(err).Msg("persist payment")
	}
}

func stopResponse(p *Payment) (Response, bool) {
	if _, ok := p.state.(*IntentWithoutOrderState); ok && p.orderID == "" {
		return storedResponse(p), true
	}
	if r, ok := p.state.(Responder); ok {
		return r.Response(p), true
	}
	return Response{}, false
}
