package payflow

import "strings"

// MethodKind distinguishes freshly collected credentials from stored ones.
type MethodKind string

const (
	MethodKindNew   MethodKind = "new"
	MethodKindSaved MethodKind = "saved"
)

// Method is the credential selected for a payment: either a NewMethod or a SavedMethod.
type Method interface {
	// ID returns the processor-side payment method identifier.
	ID() string
	Kind() MethodKind
	isMethod()
}

// NewMethod is a credential collected during this checkout.
type NewMethod struct {
	PaymentMethodID string
}

func (m NewMethod) ID() string       { return m.PaymentMethodID }
func (m NewMethod) Kind() MethodKind { return MethodKindNew }
func (NewMethod) isMethod()          {}

// SavedMethod is a credential previously stored for the shopper.
type SavedMethod struct {
	Token SavedToken
}

func (m SavedMethod) ID() string       { return m.Token.GatewayID }
func (m SavedMethod) Kind() MethodKind { return MethodKindSaved }
func (SavedMethod) isMethod()          {}

// SavedToken is the local record of a stored credential.
type SavedToken struct {
	ID        string `json:"id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	GatewayID string `json:"gateway_id"`
	Type      string `json:"type,omitempty"`
	Brand     string `json:"brand,omitempty"`
	Last4     string `json:"last4,omitempty"`
	ExpMonth  int    `json:"exp_month,omitempty"`
	ExpYear   int    `json:"exp_year,omitempty"`
	IsDefault bool   `json:"is_default,omitempty"`
}

// MethodRecord is the persisted form of a Method.
type MethodRecord struct {
	Kind  MethodKind  `json:"kind"`
	ID    string      `json:"id,omitempty"`
	Token *SavedToken `json:"token,omitempty"`
}

func recordMethod(m Method) *MethodRecord {
	switch v := m.(type) {
	case NewMethod:
		return &MethodRecord{Kind: MethodKindNew, ID: v.PaymentMethodID}
	case SavedMethod:
		token := v.Token
		return &MethodRecord{Kind: MethodKindSaved, ID: token.GatewayID, Token: &token}
	default:
		return nil
	}
}

func restoreMethod(rec *MethodRecord) Method {
	if rec == nil {
		return nil
	}
	switch rec.Kind {
	case MethodKindSaved:
		if rec.Token != nil {
			return SavedMethod{Token: *rec.Token}
		}
		return SavedMethod{Token: SavedToken{GatewayID: rec.ID}}
	case MethodKindNew:
		if strings.TrimSpace(rec.ID) == "" {
			return nil
		}
		return NewMethod{PaymentMethodID: rec.ID}
	default:
		return nil
	}
}
