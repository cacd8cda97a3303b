package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// IdempotencyHeader marks a write as safe to retry.
const IdempotencyHeader = "Idempotency-Key"

const maxRetryAfter = 10 * time.Second

// HTTPClient sends requests to an upstream with a per-attempt timeout, retries
// and an optional circuit breaker. Only GET/HEAD/OPTIONS and writes carrying
// an Idempotency-Key are retried.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	// Timeout bounds each attempt. Falls back to Client.Timeout.
	Timeout time.Duration
}

// StatusError is returned when the upstream kept answering 5xx or 429.
type StatusError struct {
	Code       int
	Status     string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string { return "resilience: upstream " + e.Status }

// Do sends req until it succeeds, the attempts run out or ctx ends. Any
// response below 500 other than 429 is returned to the caller as is.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	body, err := bufferBody(req)
	if err != nil {
		return nil, fmt.Errorf("resilience: buffer request body: %w", err)
	}
	attempts := cl.MaxAttempts
	if attempts <= 0 || !retryable(req) {
		attempts = 1
	}
	base := cl.BaseBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
			return nil, ErrOpenCircuit
		}
		resp, err := cl.send(ctx, req, body)
		var wait time.Duration
		switch {
		case err != nil:
			cl.Breaker.report(ctx, false)
			lastErr = err
		case resp.StatusCode == http.StatusTooManyRequests:
			// throttling is not an outage
			cl.Breaker.report(ctx, true)
			lastErr, wait = statusError(resp), retryAfter(resp)
		case resp.StatusCode >= http.StatusInternalServerError:
			cl.Breaker.report(ctx, false)
			lastErr, wait = statusError(resp), retryAfter(resp)
		default:
			cl.Breaker.report(ctx, true)
			return resp, nil
		}
		if attempt >= attempts {
			return nil, lastErr
		}
		if wait <= 0 {
			wait = Backoff(base, attempt, cl.Jitter)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (cl HTTPClient) send(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	out := req.Clone(callCtx)
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
	}
	resp, err := cl.Client.Do(out)
	if err != nil {
		cancel()
		return nil, err
	}
	// the per-attempt deadline has to cover reading the body too
	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func retryable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return req.Header.Get(IdempotencyHeader) != ""
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer func() { _ = req.Body.Close() }()
	return io.ReadAll(req.Body)
}

// statusError drains and closes resp.
func statusError(resp *http.Response) *StatusError {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
	return &StatusError{Code: resp.StatusCode, Status: resp.Status, RetryAfter: retryAfter(resp)}
}

// retryAfter reads a delay-seconds Retry-After, capped at maxRetryAfter.
func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}
