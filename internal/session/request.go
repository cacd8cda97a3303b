package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-payflow/internal/common"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

const (
	HeaderName = "X-Session-ID"
	CookieName = "toko_session"
)

// FromRequest identifies the shopper session. ok is false when the request
// carries no session id.
func FromRequest(r *http.Request) (payflow.Session, bool) {
	s := payflow.Session{IP: common.ClientIP(r)}
	if id := strings.TrimSpace(r.Header.Get(HeaderName)); id != "" {
		s.ID = id
		return s, true
	}
	if c, err := r.Cookie(CookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		s.ID = strings.TrimSpace(c.Value)
		return s, true
	}
	return s, false
}

// Ensure returns the request session, issuing a new cookie when absent.
func Ensure(w http.ResponseWriter, r *http.Request, ttl time.Duration, secure bool) payflow.Session {
	s, ok := FromRequest(r)
	if ok {
		return s
	}
	s.ID = uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}
