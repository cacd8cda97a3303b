package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-payflow/internal/payflow"
	"github.com/noah-isme/toko-payflow/internal/resilience"
)

const httpProvider = "http"

// HTTPClient talks to a remote processor over its JSON API.
type HTTPClient struct {
	BaseURL   string
	SecretKey string
	Doer      resilience.HTTPClient
	tracer    trace.Tracer
}

// HTTPOptions tune the resilience wrapper around the processor client.
type HTTPOptions struct {
	Timeout     time.Duration
	Breaker     *resilience.Breaker
	BaseBackoff time.Duration
	MaxAttempts int
}

// NewHTTPClient builds a processor client with tracing transport and retries.
func NewHTTPClient(baseURL, secretKey string, opts HTTPOptions) *HTTPClient {
	transport := otelhttp.NewTransport(http.DefaultTransport)
	return &HTTPClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		Doer: resilience.HTTPClient{
			Client:      &http.Client{Transport: transport},
			Breaker:     opts.Breaker,
			BaseBackoff: opts.BaseBackoff,
			MaxAttempts: opts.MaxAttempts,
			Jitter:      0.2,
			Timeout:     opts.Timeout,
		},
		tracer: otel.Tracer("gateway"),
	}
}

type wireIntent struct {
	ID               string            `json:"id"`
	Object           string            `json:"object"`
	Status           string            `json:"status"`
	ClientSecret     string            `json:"client_secret"`
	PaymentMethod    string            `json:"payment_method,omitempty"`
	Customer         string            `json:"customer,omitempty"`
	LatestCharge     string            `json:"latest_charge,omitempty"`
	Amount           int64             `json:"amount,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	CaptureMethod    string            `json:"capture_method,omitempty"`
	LastPaymentError *wireError        `json:"last_payment_error,omitempty"`
	LastSetupError   *wireError        `json:"last_setup_error,omitempty"`
	NextAction       *wireNextAction   `json:"next_action,omitempty"`
	MethodDetails    *wireMethod       `json:"payment_method_details,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type wireNextAction struct {
	Type          string `json:"type"`
	RedirectToURL struct {
		URL string `json:"url"`
	} `json:"redirect_to_url"`
}

type wireMethod struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Customer string `json:"customer,omitempty"`
	Card     *struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
		Country  string `json:"country"`
		Wallet   *struct {
			Type string `json:"type"`
		} `json:"wallet,omitempty"`
	} `json:"card,omitempty"`
	SEPADebit *struct {
		Last4 string `json:"last4"`
	} `json:"sepa_debit,omitempty"`
}

type wireError struct {
	Code          string      `json:"code"`
	DeclineCode   string      `json:"decline_code"`
	Message       string      `json:"message"`
	Currency      string      `json:"currency"`
	MinimumAmount int64       `json:"minimum_amount"`
	PaymentIntent *wireIntent `json:"payment_intent,omitempty"`
}

type wireIntentBody struct {
	Amount             int64             `json:"amount,omitempty"`
	Currency           string            `json:"currency,omitempty"`
	PaymentMethod      string            `json:"payment_method,omitempty"`
	Customer           string            `json:"customer,omitempty"`
	CaptureMethod      string            `json:"capture_method,omitempty"`
	PaymentMethodTypes []string          `json:"payment_method_types,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Level3             *payflow.Level3   `json:"level3,omitempty"`
	Confirm            bool              `json:"confirm,omitempty"`
	OffSession         bool              `json:"off_session,omitempty"`
	SetupFutureUsage   string            `json:"setup_future_usage,omitempty"`
	ReturnURL          string            `json:"return_url,omitempty"`
	Mandate            string            `json:"mandate,omitempty"`
	Usage              string            `json:"usage,omitempty"`
	CVCConfirmation    string            `json:"cvc_confirmation,omitempty"`
	Fingerprint        string            `json:"fingerprint,omitempty"`
	Country            string            `json:"country,omitempty"`
}

func (c *HTTPClient) CreateIntent(ctx context.Context, req payflow.IntentRequest) (payflow.Intent, error) {
	return c.postIntent(ctx, "create_intent", "/v1/payment_intents", intentBody(req, false))
}

func (c *HTTPClient) CreateAndConfirmIntent(ctx context.Context, req payflow.IntentRequest) (payflow.Intent, error) {
	return c.postIntent(ctx, "confirm_intent", "/v1/payment_intents", intentBody(req, true))
}

func (c *HTTPClient) CreateAndConfirmSetupIntent(ctx context.Context, req payflow.SetupIntentRequest) (payflow.Intent, error) {
	body := wireIntentBody{
		PaymentMethod:      req.PaymentMethodID,
		Customer:           req.CustomerID,
		PaymentMethodTypes: req.PaymentMethodTypes,
		Metadata:           req.Metadata,
		ReturnURL:          req.ReturnURL,
		Usage:              req.Usage,
		Confirm:            true,
	}
	return c.postIntent(ctx, "confirm_setup_intent", "/v1/setup_intents", body)
}

func (c *HTTPClient) GetIntent(ctx context.Context, id string) (payflow.Intent, error) {
	var out wireIntent
	err := c.call(ctx, "get_intent", http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), nil, &out)
	if err != nil {
		return payflow.Intent{}, err
	}
	return out.intent(), nil
}

func (c *HTTPClient) GetSetupIntent(ctx context.Context, id string) (payflow.Intent, error) {
	var out wireIntent
	err := c.call(ctx, "get_setup_intent", http.MethodGet, "/v1/setup_intents/"+url.PathEscape(id), nil, &out)
	if err != nil {
		return payflow.Intent{}, err
	}
	in := out.intent()
	in.Object = payflow.ObjectSetupIntent
	return in, nil
}

func (c *HTTPClient) UpdateIntent(ctx context.Context, id string, upd payflow.IntentUpdate) (payflow.Intent, error) {
	body := wireIntentBody{
		Amount:           upd.Amount,
		Currency:         strings.ToLower(upd.Currency),
		Customer:         upd.CustomerID,
		Metadata:         upd.Metadata,
		Level3:           upd.Level3,
		SetupFutureUsage: upd.SetupFutureUsage,
		Country:          upd.Country,
	}
	if upd.MethodType != "" {
		body.PaymentMethodTypes = []string{upd.MethodType}
	}
	return c.postIntent(ctx, "update_intent", "/v1/payment_intents/"+url.PathEscape(id), body)
}

func (c *HTTPClient) CreateCustomer(ctx context.Context, params CustomerParams) (Customer, error) {
	var out Customer
	err := c.call(ctx, "create_customer", http.MethodPost, "/v1/customers", params, &out)
	return out, err
}

func (c *HTTPClient) UpdateCustomer(ctx context.Context, id string, params CustomerParams) (Customer, error) {
	var out Customer
	err := c.call(ctx, "update_customer", http.MethodPost, "/v1/customers/"+url.PathEscape(id), params, &out)
	return out, err
}

func (c *HTTPClient) AttachMethod(ctx context.Context, methodID, customerID string) (PaymentMethod, error) {
	var out wireMethod
	body := map[string]string{"customer": customerID}
	err := c.call(ctx, "attach_method", http.MethodPost, "/v1/payment_methods/"+url.PathEscape(methodID)+"/attach", body, &out)
	if err != nil {
		return PaymentMethod{}, err
	}
	return out.method(), nil
}

func (c *HTTPClient) GetMethod(ctx context.Context, methodID string) (PaymentMethod, error) {
	var out wireMethod
	err := c.call(ctx, "get_method", http.MethodGet, "/v1/payment_methods/"+url.PathEscape(methodID), nil, &out)
	if err != nil {
		return PaymentMethod{}, err
	}
	return out.method(), nil
}

func (c *HTTPClient) postIntent(ctx context.Context, operation, path string, body wireIntentBody) (payflow.Intent, error) {
	var out wireIntent
	if err := c.call(ctx, operation, http.MethodPost, path, body, &out); err != nil {
		return payflow.Intent{}, err
	}
	return out.intent(), nil
}

func (c *HTTPClient) call(ctx context.Context, operation, method, path string, body, out any) (err error) {
	ctx, span := c.startSpan(ctx, operation)
	defer func() {
		recordCall(httpProvider, operation, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		buf, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf("encode %s: %w", operation, marshalErr)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		// reused by every retry attempt of this call
		req.Header.Set(resilience.IdempotencyHeader, uuid.NewString())
	}

	resp, err := c.Doer.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", operation, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", operation, err)
	}
	return nil
}

func (c *HTTPClient) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	tracer := c.tracer
	if tracer == nil {
		tracer = otel.Tracer("gateway")
	}
	return tracer.Start(ctx, "gateway."+operation, trace.WithAttributes(attribute.String("gateway.provider", httpProvider)))
}

func decodeError(status int, payload []byte) error {
	var envelope struct {
		Error *wireError `json:"error"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Error == nil {
		return &payflow.RemoteError{
			Code:       "api_error",
			Message:    http.StatusText(status),
			HTTPStatus: status,
		}
	}
	remote := envelope.Error.remote()
	remote.HTTPStatus = status
	return remote
}

func intentBody(req payflow.IntentRequest, confirm bool) wireIntentBody {
	return wireIntentBody{
		Amount:             req.Amount,
		Currency:           strings.ToLower(req.Currency),
		PaymentMethod:      req.PaymentMethodID,
		Customer:           req.CustomerID,
		CaptureMethod:      req.CaptureMethod,
		PaymentMethodTypes: req.PaymentMethodTypes,
		Metadata:           req.Metadata,
		Level3:             req.Level3,
		Confirm:            confirm,
		OffSession:         req.OffSession,
		SetupFutureUsage:   req.SetupFutureUsage,
		ReturnURL:          req.ReturnURL,
		Mandate:            req.Mandate,
		CVCConfirmation:    req.CVCConfirmation,
		Fingerprint:        req.Fingerprint,
	}
}

func (w wireIntent) intent() payflow.Intent {
	in := payflow.Intent{
		ID:              w.ID,
		Object:          payflow.IntentObject(w.Object),
		Status:          payflow.IntentStatus(w.Status),
		ClientSecret:    w.ClientSecret,
		PaymentMethodID: w.PaymentMethod,
		CustomerID:      w.Customer,
		ChargeID:        w.LatestCharge,
		Amount:          w.Amount,
		Currency:        strings.ToUpper(w.Currency),
		CaptureMethod:   w.CaptureMethod,
		Metadata:        w.Metadata,
	}
	if in.Object == "" {
		in.Object = payflow.ObjectPaymentIntent
		if strings.HasPrefix(in.ID, "seti_") {
			in.Object = payflow.ObjectSetupIntent
		}
	}
	switch {
	case w.LastPaymentError != nil:
		in.LastError = w.LastPaymentError.remote()
	case w.LastSetupError != nil:
		in.LastError = w.LastSetupError.remote()
	}
	if w.NextAction != nil {
		in.NextAction = &payflow.NextAction{Type: w.NextAction.Type, RedirectURL: w.NextAction.RedirectToURL.URL}
	}
	if w.MethodDetails != nil {
		in.Method = w.MethodDetails.details()
	}
	return in
}

func (w wireError) remote() *payflow.RemoteError {
	remote := &payflow.RemoteError{
		Code:          w.Code,
		DeclineCode:   w.DeclineCode,
		Message:       w.Message,
		Currency:      strings.ToUpper(w.Currency),
		MinimumAmount: w.MinimumAmount,
	}
	if w.PaymentIntent != nil {
		remote.IntentID = w.PaymentIntent.ID
		remote.IntentStatus = payflow.IntentStatus(w.PaymentIntent.Status)
	}
	return remote
}

func (w wireMethod) details() payflow.MethodDetails {
	d := payflow.MethodDetails{Type: w.Type}
	if w.Card != nil {
		d.Brand = w.Card.Brand
		d.Last4 = w.Card.Last4
		d.Country = w.Card.Country
		if w.Card.Wallet != nil {
			d.Wallet = w.Card.Wallet.Type
		}
	}
	if w.SEPADebit != nil {
		d.Last4 = w.SEPADebit.Last4
	}
	return d
}

func (w wireMethod) method() PaymentMethod {
	m := PaymentMethod{ID: w.ID, Type: w.Type, CustomerID: w.Customer}
	if w.Card != nil {
		m.Brand = w.Card.Brand
		m.Last4 = w.Card.Last4
		m.ExpMonth = w.Card.ExpMonth
		m.ExpYear = w.Card.ExpYear
	}
	if w.SEPADebit != nil {
		m.Last4 = w.SEPADebit.Last4
	}
	return m
}

// IsNotFound reports whether err is a processor resource_missing error.
func IsNotFound(err error) bool {
	var remote *payflow.RemoteError
	return errors.As(err, &remote) && (remote.Code == "resource_missing" || remote.HTTPStatus == http.StatusNotFound)
}
