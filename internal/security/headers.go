package security

import (
	"fmt"
	"net/http"
	"time"
)

const defaultHSTSMaxAge = 365 * 24 * time.Hour

// Headers hardens API responses. Payment responses carry client secrets, so
// nothing is cacheable and nothing may be framed.
type Headers struct {
	Enable bool
	// EnableHSTS only applies to requests that arrived over TLS or through a
	// proxy reporting https.
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	static := http.Header{
		"X-Content-Type-Options":  {"nosniff"},
		"X-Frame-Options":         {"DENY"},
		"Referrer-Policy":         {"no-referrer"},
		"Cache-Control":           {"no-store"},
		"Content-Security-Policy": {"default-src 'none'; frame-ancestors 'none'"},
	}
	maxAge := h.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := fmt.Sprintf("max-age=%d; includeSubDomains", int64(maxAge.Seconds()))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := w.Header()
		for k, v := range static {
			out[k] = v
		}
		if h.EnableHSTS && (r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https") {
			out.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}
