package gateway

import (
	"context"

	"github.com/noah-isme/toko-payflow/internal/obs"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

// Processor is the processor surface used by checkout, customers and jobs.
type Processor interface {
	payflow.IntentClient
	CreateCustomer(ctx context.Context, params CustomerParams) (Customer, error)
	UpdateCustomer(ctx context.Context, id string, params CustomerParams) (Customer, error)
	AttachMethod(ctx context.Context, methodID, customerID string) (PaymentMethod, error)
	GetMethod(ctx context.Context, methodID string) (PaymentMethod, error)
}

// CustomerParams describes a processor customer.
type CustomerParams struct {
	Name     string                 `json:"name,omitempty"`
	Email    string                 `json:"email,omitempty"`
	Phone    string                 `json:"phone,omitempty"`
	Address  payflow.BillingDetails `json:"address"`
	Metadata map[string]string      `json:"metadata,omitempty"`
}

type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// PaymentMethod is a processor-side credential.
type PaymentMethod struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Brand      string `json:"brand,omitempty"`
	Last4      string `json:"last4,omitempty"`
	ExpMonth   int    `json:"exp_month,omitempty"`
	ExpYear    int    `json:"exp_year,omitempty"`
	CustomerID string `json:"customer,omitempty"`
}

// Token converts the method into a saved credential for userID.
func (m PaymentMethod) Token(userID string) payflow.SavedToken {
	return payflow.SavedToken{
		UserID:    userID,
		GatewayID: m.ID,
		Type:      m.Type,
		Brand:     m.Brand,
		Last4:     m.Last4,
		ExpMonth:  m.ExpMonth,
		ExpYear:   m.ExpYear,
	}
}

func recordCall(provider, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	obs.IncCounter(obs.PaymentIntentTotal, provider, operation, result)
}
