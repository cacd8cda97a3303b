package fraud

import (
	"errors"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Validator checks the claims of a parsed fraud token.
type Validator struct {
	Issuer    string
	Audience  string
	Subject   string
	ClockSkew time.Duration
}

func (v Validator) Validate(tok jwt.Token, now time.Time) error {
	if tok == nil {
		return errors.New("fraud: token is nil")
	}
	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}
	if v.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}
	if v.Subject != "" {
		options = append(options, jwt.WithSubject(v.Subject))
	}
	return jwt.Validate(tok, options...)
}
