package payflow

import "context"

// StateName identifies a payment state.
type StateName string

const (
	StateInitial                 StateName = "initial"
	StatePrepared                StateName = "prepared"
	StateFailedPreparation       StateName = "failed_preparation"
	StateIntentWithoutOrder      StateName = "intent_without_order"
	StateVerified                StateName = "verified"
	StateProcessed               StateName = "processed"
	StateAuthenticationRequired  StateName = "authentication_required"
	StateProcessingFailed        StateName = "processing_failed"
	StateCompleted               StateName = "completed"
	StateCompletedWithoutPayment StateName = "completed_without_payment"
)

// Entry point names used in errors and logs.
const (
	opPrepare                     = "prepare"
	opVerify                      = "verify"
	opProcess                     = "process"
	opLoadIntentAfterAuth         = "load_intent_after_authentication"
	opLoadIntentAfterConfirmation = "load_intent_after_confirmation"
	opComplete                    = "complete"
	opCreateIntentWithoutOrder    = "create_intent_without_order"
)

// State is one step of the payment lifecycle. Every entry point is rejected
// with an InvalidTransitionError unless the state overrides it.
type State interface {
	Name() StateName

	prepare(ctx context.Context, p *Payment) (State, error)
	verify(ctx context.Context, p *Payment, method Method, fraudToken string) (State, error)
	process(ctx context.Context, p *Payment, strategy Strategy) (State, error)
	loadIntentAfterAuthentication(ctx context.Context, p *Payment, intentID string) (State, error)
	loadIntentAfterConfirmation(ctx context.Context, p *Payment, intentID string) (State, error)
	complete(ctx context.Context, p *Payment) (State, error)
	createIntentWithoutOrder(ctx context.Context, p *Payment, amount int64, currency string) (State, error)
}

// Responder is implemented by states at which the run loop stops.
type Responder interface {
	State
	Response(p *Payment) Response
}

type baseState struct {
	name StateName
}

func (s baseState) Name() StateName { return s.name }

func (s baseState) reject(op string) error {
	return &InvalidTransitionError{State: s.name, Operation: op}
}

func (s baseState) prepare(context.Context, *Payment) (State, error) {
	return nil, s.reject(opPrepare)
}

func (s baseState) verify(context.Context, *Payment, Method, string) (State, error) {
	return nil, s.reject(opVerify)
}

func (s baseState) process(context.Context, *Payment, Strategy) (State, error) {
	return nil, s.reject(opProcess)
}

func (s baseState) loadIntentAfterAuthentication(context.Context, *Payment, string) (State, error) {
	return nil, s.reject(opLoadIntentAfterAuth)
}

func (s baseState) loadIntentAfterConfirmation(context.Context, *Payment, string) (State, error) {
	return nil, s.reject(opLoadIntentAfterConfirmation)
}

func (s baseState) complete(context.Context, *Payment) (State, error) {
	return nil, s.reject(opComplete)
}

func (s baseState) createIntentWithoutOrder(context.Context, *Payment, int64, string) (State, error) {
	return nil, s.reject(opCreateIntentWithoutOrder)
}

// storedResponse returns the response computed when the state was entered.
func storedResponse(p *Payment) Response {
	if p.meta.Response != nil {
		return *p.meta.Response
	}
	return Response{Outcome: OutcomeError, Message: MessageGenericFailure, PaymentID: p.id}
}

// nameOf derives the state name from the concrete type so zero-value states
// are still identified correctly.
func nameOf(s State) StateName {
	switch s.(type) {
	case *InitialState:
		return StateInitial
	case *PreparedState:
		return StatePrepared
	case *FailedPreparationState:
		return StateFailedPreparation
	case *IntentWithoutOrderState:
		return StateIntentWithoutOrder
	case *VerifiedState:
		return StateVerified
	case *ProcessedState:
		return StateProcessed
	case *AuthenticationRequiredState:
		return StateAuthenticationRequired
	case *ProcessingFailedState:
		return StateProcessingFailed
	case *CompletedState:
		return StateCompleted
	case *CompletedWithoutPaymentState:
		return StateCompletedWithoutPayment
	default:
		return s.Name()
	}
}

func stateByName(name StateName) (State, bool) {
	switch name {
	case StateInitial:
		return newInitialState(), true
	case StatePrepared:
		return newPreparedState(), true
	case StateFailedPreparation:
		return newFailedPreparationState(), true
	case StateIntentWithoutOrder:
		return newIntentWithoutOrderState(), true
	case StateVerified:
		return newVerifiedState(), true
	case StateProcessed:
		return newProcessedState(), true
	case StateAuthenticationRequired:
		return newAuthenticationRequiredState(), true
	case StateProcessingFailed:
		return newProcessingFailedState(), true
	case StateCompleted:
		return newCompletedState(), true
	case StateCompletedWithoutPayment:
		return newCompletedWithoutPaymentState(), true
	default:
		return nil, false
	}
}
