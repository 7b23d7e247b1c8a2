package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/services"
)

const (
	maxWebhookBodySize     = 512 * 1024
	stripeSignatureHeader  = "Stripe-Signature"
	webhookUnavailableCode = "webhook_unavailable"
)

// WebhookHandlers receives payment processor notifications.
type WebhookHandlers struct {
	ingress services.WebhookIngress
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(ingress services.WebhookIngress) *WebhookHandlers {
	return &WebhookHandlers{ingress: ingress}
}

// Routes wires the /webhooks endpoints. Authenticity comes from the processor signature.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

type webhookAckResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"eventId,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Deferred bool   `json:"deferred,omitempty"`
}

// stripe acknowledges with 2xx once the event is applied, ignored, or durably queued for
// retry. Any other failure returns 5xx so the processor redelivers.
func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ingress == nil {
		httpx.WriteError(ctx, w, httpx.NewError(webhookUnavailableCode, "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload too large", http.StatusRequestEntityTooLarge))
		return
	}

	receipt, err := h.ingress.Receive(ctx, payload, r.Header.Get(stripeSignatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, services.ErrPaymentSignatureInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	case errors.Is(err, services.ErrWebhookInvalidEvent):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_event", err.Error(), http.StatusBadRequest))
		return
	default:
		requestctx.Logger(ctx).Error("webhook processing failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("webhook_failed", "webhook processing failed", http.StatusInternalServerError))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, webhookAckResponse{
		Received: true,
		EventID:  receipt.EventID,
		Outcome:  string(receipt.Outcome),
		Deferred: receipt.Deferred,
	})
}
