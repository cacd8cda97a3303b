package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-payflow/internal/common"
)

// NewLogger builds the process logger. format "console" (or "text") gives
// human readable output; anything else is JSON.
func NewLogger(format, level string) zerolog.Logger {
	return newLogger(os.Stdout, format, level)
}

func newLogger(w io.Writer, format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// RequestLogger writes one line per request. The request context carries a
// child logger tagged with request and trace ids, retrievable with
// zerolog.Ctx.
type RequestLogger struct {
	Logger zerolog.Logger
	// Quiet paths are logged at debug level.
	Quiet []string
}

func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		fields := l.Logger.With().Str("request_id", middleware.GetReqID(r.Context()))
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			fields = fields.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
		}
		reqLogger := fields.Logger()

		rec := NewStatusRecorder(w)
		next.ServeHTTP(rec, r.WithContext(reqLogger.WithContext(r.Context())))

		status := rec.Status()
		evt := reqLogger.WithLevel(l.levelFor(r.URL.Path, status))
		route := routeOf(r)
		if route == "" {
			route = "unmatched"
		}
		evt = evt.Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int64("bytes", rec.BytesWritten())
		if ip := common.ClientIP(r); ip != "" {
			evt = evt.Str("client_ip", ip)
		}
		// sessions are bearer-like; log a stable prefix of the hash only
		if sid := strings.TrimSpace(r.Header.Get("X-Session-ID")); sid != "" {
			evt = evt.Str("session", common.Sha256Hex(sid)[:12])
		}
		if orderID := strings.TrimSpace(r.URL.Query().Get("order_id")); orderID != "" {
			evt = evt.Str("order_id", orderID)
		}
		evt.Msg("request")
	})
}

func (l RequestLogger) levelFor(path string, status int) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest:
		return zerolog.WarnLevel
	}
	for _, q := range l.Quiet {
		if strings.HasPrefix(path, q) {
			return zerolog.DebugLevel
		}
	}
	return zerolog.InfoLevel
}
