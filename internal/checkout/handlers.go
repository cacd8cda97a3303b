package checkout

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payflow/internal/common"
	"github.com/noah-isme/toko-payflow/internal/gateway"
	"github.com/noah-isme/toko-payflow/internal/payflow"
	"github.com/noah-isme/toko-payflow/internal/session"
)

const maxWebhookBody = 1 << 20

// Handler serves the shopper-facing payment endpoints and processor webhooks.
type Handler struct {
	Svc *Service

	SessionTTL    time.Duration
	SecureCookies bool

	WebhookSecret string
	// WebhookTolerance bounds the age of a webhook signature.
	WebhookTolerance time.Duration
	Now              func() time.Time

	Logger zerolog.Logger
}

// Routes mounts the shopper endpoints. Webhooks are mounted separately so
// they can skip idempotency and CORS middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/fraud-token", h.FraudToken)
	r.Post("/payments/intents", h.CreateIntent)
	r.Post("/orders/{orderId}/pay", h.Pay)
	r.Get("/orders/{orderId}/payment-return", h.Return)
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.Svc == nil || h.Svc.Payments == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return false
	}
	return true
}

// FraudToken issues the anti-fraud token for the caller's session.
func (h *Handler) FraudToken(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	sess := session.Ensure(w, r, h.SessionTTL, h.SecureCookies)
	fraud := h.Svc.Fraud
	if fraud == nil || !fraud.Enabled() {
		common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"enabled": false}})
		return
	}
	token, err := fraud.Issue(r.Context(), sess.ID)
	if err != nil {
		h.Logger.Error().Err(err).Msg("issue fraud token")
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"enabled": true, "token": token}})
}

// CreateIntent starts a payment before the order is placed.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	sess := session.Ensure(w, r, h.SessionTTL, h.SecureCookies)
	var in IntentInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	resp, err := h.Svc.CreateIntent(r.Context(), sess, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, resp)
}

// Pay submits a payment for an order.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	sess := session.Ensure(w, r, h.SessionTTL, h.SecureCookies)
	var in PayInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	resp, err := h.Svc.Pay(r.Context(), sess, chi.URLParam(r, "orderId"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, resp)
}

// Return is where the shopper lands after authentication or a redirect-based
// method. Browsers are redirected; API clients asking for JSON get the response.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	sess, _ := session.FromRequest(r)
	q := r.URL.Query()
	intentID := q.Get("intent")
	if intentID == "" {
		intentID = q.Get("payment_intent")
	}
	resp, err := h.Svc.Return(r.Context(), sess, chi.URLParam(r, "orderId"), q.Get("key"), intentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if resp.RedirectURL != "" && !wantsJSON(r) {
		http.Redirect(w, r, resp.RedirectURL, http.StatusSeeOther)
		return
	}
	h.respond(w, http.StatusOK, resp)
}

// Webhook receives signed processor events.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unreadable body", nil)
		return
	}
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	if err := gateway.VerifySignature(h.WebhookSecret, body, r.Header.Get(gateway.SignatureHeader), h.WebhookTolerance, now); err != nil {
		h.Logger.Warn().Str("ip", common.ClientIP(r)).Msg("webhook signature rejected")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid signature", nil)
		return
	}
	ev, err := gateway.ParseEvent(body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid event", nil)
		return
	}
	switch err := h.Svc.HandleEvent(r.Context(), ev); {
	case errors.Is(err, ErrDuplicateEvent):
		common.JSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
	case err != nil:
		h.Logger.Error().Err(err).Str("event_id", ev.ID).Msg("webhook failed")
		common.WriteError(w, err)
	default:
		common.JSON(w, http.StatusOK, map[string]any{"received": true})
	}
}

// respond writes a flow response. Error outcomes are a client-visible failure
// of the payment, not of the request, and use 402.
func (h *Handler) respond(w http.ResponseWriter, status int, resp payflow.Response) {
	if resp.Outcome == payflow.OutcomeError {
		status = http.StatusPaymentRequired
	}
	common.JSON(w, status, map[string]any{"data": resp})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !common.IsAppError(err) {
		h.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("payment flow failed")
	}
	common.WriteError(w, err)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
