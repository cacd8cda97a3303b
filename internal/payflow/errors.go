package payflow

import (
	"errors"
	"fmt"
)

var (
	// ErrIntentMismatch indicates the intent does not belong to the order being completed.
	ErrIntentMismatch = errors.New("payflow: intent does not belong to order")
	// ErrPaymentNotFound is returned when no payment exists for an order.
	ErrPaymentNotFound = errors.New("payflow: payment not found")
	// ErrRecordNotFound is returned by repositories for absent snapshots.
	ErrRecordNotFound = errors.New("payflow: payment record not found")
	// ErrOrderNotFound is returned by Orders.Get for unknown orders.
	ErrOrderNotFound = errors.New("payflow: order not found")
	// ErrOrderRequired indicates an operation that needs an order on a payment without one.
	ErrOrderRequired = errors.New("payflow: payment has no order")
	// ErrOrderAttached is returned when attaching an order to a payment that already has one.
	ErrOrderAttached = errors.New("payflow: payment already has an order")
	// ErrFlagsLocked is returned when flags change after verification.
	ErrFlagsLocked = errors.New("payflow: flags are locked after verification")
	// ErrStrategyRequired is returned when processing without a strategy.
	ErrStrategyRequired = errors.New("payflow: processing strategy required")
	// ErrIntentRequired is returned when a strategy needs an intent the payment does not carry.
	ErrIntentRequired = errors.New("payflow: payment has no intent")
	// ErrRunawayFlow is returned when the run loop does not reach a stopping state.
	ErrRunawayFlow = errors.New("payflow: flow did not reach a stopping state")
)

// InvalidTransitionError is returned when an entry point is not legal in the current state.
type InvalidTransitionError struct {
	State     StateName
	Operation string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("payflow: %s is not allowed in state %s", e.Operation, e.State)
}

// StalledStateError is returned when an entry point leaves the payment in the same state.
type StalledStateError struct {
	State     StateName
	Operation string
}

func (e *StalledStateError) Error() string {
	return fmt.Sprintf("payflow: %s did not leave state %s", e.Operation, e.State)
}

// Shopper-facing messages.
const (
	MessageGenericFailure      = "We're not able to process this request. Please refresh the page and try again."
	MessagePaymentNotCompleted = "The payment was not completed. Please try another payment method."
	MessageProcessorError      = "There was an error while processing the payment. Please try again."
	MessageMethodRequired      = "Please select a payment method."
	MessageAuthenticationFail  = "We were unable to authenticate your payment method. Please choose a different payment method and try again."
	MessageAmountMismatch      = "The payment amount does not match the order total."
)
