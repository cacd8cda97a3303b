package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payflow/internal/obs"
)

func TestRequestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(obs.RequestLogger{Logger: logger, Quiet: []string{"/health/"}}.Middleware)
	r.Post("/orders/{orderId}/pay", func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside handler")
		w.WriteHeader(http.StatusPaymentRequired)
	})

	req := httptest.NewRequest(http.MethodPost, "/orders/o-1/pay", nil)
	req.Header.Set("X-Session-ID", "sess-secret")
	req.RemoteAddr = "192.0.2.10:1234"
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var inner, access map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inner))
	require.NoError(t, json.Unmarshal(lines[1], &access))

	require.NotEmpty(t, inner["request_id"])
	require.Equal(t, inner["request_id"], access["request_id"])
	require.Equal(t, "warn", access["level"])
	require.Equal(t, "/orders/{orderId}/pay", access["route"])
	require.EqualValues(t, http.StatusPaymentRequired, access["status"])
	require.Equal(t, "192.0.2.10", access["client_ip"])
	require.Len(t, access["session"], 12)
	require.NotContains(t, string(lines[1]), "sess-secret")
}

func TestRequestLoggerQuietPaths(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger, Quiet: []string{"/health/"}}.Middleware)
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Zero(t, buf.Len())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Contains(t, buf.String(), `"route":"unmatched"`)
}
