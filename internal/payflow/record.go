package payflow

import (
	"fmt"
	"time"
)

// Record is the persisted snapshot of a payment.
type Record struct {
	ID          string        `json:"id"`
	OrderID     string        `json:"order_id,omitempty"`
	State       StateName     `json:"state"`
	Flags       []string      `json:"flags,omitempty"`
	Method      *MethodRecord `json:"method,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
	CustomerRef string        `json:"customer_ref,omitempty"`
	IntentID    string        `json:"intent_id,omitempty"`
	Intent      *Intent       `json:"intent,omitempty"`
	Metadata    Metadata      `json:"metadata"`
	Session     Session       `json:"session"`
	Verified    bool          `json:"verified,omitempty"`
	PreCheckout bool          `json:"pre_checkout,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Record snapshots the payment for storage.
func (p *Payment) Record() Record {
	rec := Record{
		ID:          p.id,
		OrderID:     p.orderID,
		State:       p.state.Name(),
		Flags:       p.flags.Names(),
		Method:      recordMethod(p.method),
		UserID:      p.userID,
		CustomerRef: p.customerRef,
		IntentID:    p.intentID,
		Metadata:    p.Metadata(),
		Session:     p.session,
		Verified:    p.verified,
		PreCheckout: p.preCheckout,
		CreatedAt:   p.createdAt,
	}
	if p.intent != nil {
		intent := *p.intent
		rec.Intent = &intent
	}
	return rec
}

func (s *Service) restore(rec Record) (*Payment, error) {
	state, ok := stateByName(rec.State)
	if !ok {
		return nil, fmt.Errorf("payflow: unknown state %q in record %s", rec.State, rec.ID)
	}
	p := &Payment{
		svc:         s,
		id:          rec.ID,
		orderID:     rec.OrderID,
		state:       state,
		flags:       ParseFlags(rec.Flags),
		method:      restoreMethod(rec.Method),
		userID:      rec.UserID,
		customerRef: rec.CustomerRef,
		intentID:    rec.IntentID,
		meta:        rec.Metadata,
		session:     rec.Session,
		verified:    rec.Verified,
		preCheckout: rec.PreCheckout,
		createdAt:   rec.CreatedAt,
	}
	if rec.Intent != nil {
		intent := *rec.Intent
		p.intent = &intent
	}
	return p, nil
}
