package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/noah-isme/toko-payflow/internal/obs"
)

func payRouter(mw ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	for _, m := range mw {
		r.Use(m)
	}
	r.Post("/orders/{orderId}/pay", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})
	return r
}

func TestHTTPMetricsUseMatchedRoute(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("payflow", []float64{10, 1}, registry)
	h := payRouter(obs.HTTPObs{Metrics: metrics}.Middleware)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/ord-1/pay", nil))
	require.Equal(t, http.StatusPaymentRequired, rr.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/orders/{orderId}/pay", "402")))
	require.Equal(t, 1, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))

	again := obs.NewHTTPMetrics("payflow", nil, registry)
	require.Same(t, metrics.ReqTotal, again.ReqTotal)
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10.5}, obs.ParseBucketsCSV(" 5, x, -1, 10.5,"))
	require.Empty(t, obs.ParseBucketsCSV(""))
}

func TestTracingMiddlewareNamesSpanByRoute(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	h := payRouter(obs.TracingMiddleware)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/orders/ord-9/pay", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "POST /orders/{orderId}/pay", spans[0].Name)
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "ord-9", attrs["payflow.order_id"])
	require.Equal(t, "402", attrs["http.response.status_code"])
}
