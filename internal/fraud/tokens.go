package fraud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
)

const (
	issuer   = "toko-payflow"
	audience = "checkout"
)

// Tokens issues short-lived HS256 tokens bound to a shopper session. A
// checkout submission must echo the token of its own session.
type Tokens struct {
	On        bool
	Secret    []byte
	TTL       time.Duration
	ClockSkew time.Duration
	Now       func() time.Time
	Logger    zerolog.Logger
}

// New returns a token service; it stays disabled when secret is empty.
func New(enabled bool, secret string, ttl time.Duration, logger zerolog.Logger) *Tokens {
	return &Tokens{
		On:        enabled && secret != "",
		Secret:    []byte(secret),
		TTL:       ttl,
		ClockSkew: 5 * time.Second,
		Logger:    logger,
	}
}

func (t *Tokens) Enabled() bool { return t != nil && t.On }

func (t *Tokens) Issue(_ context.Context, sessionID string) (string, error) {
	if !t.Enabled() {
		return "", nil
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("fraud: session id required")
	}
	now := t.now()
	ttl := t.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	tok, err := jwt.NewBuilder().
		Issuer(issuer).
		Audience([]string{audience}).
		Subject(sessionID).
		JwtID(uuid.NewString()).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("fraud: build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, t.Secret))
	if err != nil {
		return "", fmt.Errorf("fraud: sign token: %w", err)
	}
	return string(signed), nil
}

// Verify reports whether token was issued for sessionID and is still valid.
func (t *Tokens) Verify(_ context.Context, sessionID, token string) bool {
	if !t.Enabled() {
		return true
	}
	token = strings.TrimSpace(token)
	if token == "" || sessionID == "" {
		return false
	}
	parsed, err := jwt.ParseString(token, jwt.WithKey(jwa.HS256, t.Secret), jwt.WithValidate(false))
	if err != nil {
		t.Logger.Debug().Err(err).Msg("fraud token rejected")
		return false
	}
	v := Validator{Issuer: issuer, Audience: audience, Subject: sessionID, ClockSkew: t.ClockSkew}
	if err := v.Validate(parsed, t.now()); err != nil {
		t.Logger.Debug().Err(err).Str("session_id", sessionID).Msg("fraud token rejected")
		return false
	}
	return true
}

func (t *Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
