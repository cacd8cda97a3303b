package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payflow/internal/health"
)

type stubChecker struct {
	dbErr    error
	redisErr error
}

func (s stubChecker) PingDB(context.Context, time.Duration) error    { return s.dbErr }
func (s stubChecker) PingRedis(context.Context, time.Duration) error { return s.redisErr }

func ready(h health.Handler) (*httptest.ResponseRecorder, map[string]string) {
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var body map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	return rr, body
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReady(t *testing.T) {
	rr, body := ready(health.Handler{Checker: stubChecker{}, DBTimeout: 50 * time.Millisecond})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Equal(t, map[string]string{"db": "ok", "redis": "ok"}, body)

	rr, body = ready(health.Handler{Checker: stubChecker{redisErr: errors.New("redis down")}})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "ok", body["db"])
	require.Equal(t, "redis down", body["redis"])

	rr, _ = ready(health.Handler{})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestReadinessAfterShutdown(t *testing.T) {
	h := health.Handler{Checker: stubChecker{}}
	t.Cleanup(func() { health.SetReady(true) })

	health.SetReady(false)
	rr, body := ready(h)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "draining", body["status"])

	health.SetReady(true)
	rr, _ = ready(h)
	require.Equal(t, http.StatusOK, rr.Code)
}
