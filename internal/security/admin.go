package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-payflow/internal/common"
)

// AdminToken guards operator endpoints with a static bearer token. An empty
// token disables the endpoints.
type AdminToken struct {
	Token string
}

func (a AdminToken) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.Token == "" {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
			return
		}
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(a.Token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "admin token required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
