package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/jobs"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/services"
)

const maxPushBodySize = 1 << 20

// InternalHandlers serves the webhook retry push endpoint and dead-letter operations.
type InternalHandlers struct {
	push        *auth.PushAuthenticator
	authn       *auth.Authenticator
	worker      services.WebhookRetryWorker
	deadLetters services.DeadLetterService
}

// NewInternalHandlers constructs internal handlers. push guards the Pub/Sub push route and
// authn guards the operator routes.
func NewInternalHandlers(push *auth.PushAuthenticator, authn *auth.Authenticator, worker services.WebhookRetryWorker, deadLetters services.DeadLetterService) *InternalHandlers {
	return &InternalHandlers{
		push:        push,
		authn:       authn,
		worker:      worker,
		deadLetters: deadLetters,
	}
}

// Routes wires the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(jobsRouter chi.Router) {
		if h.push != nil {
			jobsRouter.Use(h.push.Require())
		}
		jobsRouter.Post("/jobs/webhook-retry", h.webhookRetry)
	})
	r.Group(func(ops chi.Router) {
		if h.authn != nil {
			ops.Use(h.authn.RequireFirebaseAuth(auth.RoleManager))
		}
		ops.Get("/webhooks/dead-letters", h.listDeadLetters)
		ops.Post("/webhooks/dead-letters/{letterID}:redrive", h.redrive)
	})
}

type deadLetterResponse struct {
	DeadLetter deadLetterPayload `json:"deadLetter"`
}

type deadLetterListResponse struct {
	Items         []deadLetterPayload `json:"items"`
	NextPageToken string              `json:"nextPageToken,omitempty"`
}

// webhookRetry processes one pushed delivery. 2xx acknowledges the message; 503 and 500
// make Pub/Sub redeliver with its own backoff.
func (h *InternalHandlers) webhookRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.worker == nil {
		httpx.WriteError(ctx, w, httpx.NewError("retry_unavailable", "webhook retry worker unavailable", http.StatusServiceUnavailable))
		return
	}
	logger := requestctx.Logger(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read body", http.StatusBadRequest))
		return
	}
	delivery, envelope, err := jobs.DecodeWebhookDelivery(body)
	if err != nil {
		// A malformed message never becomes processable; acknowledge it to stop redelivery.
		logger.Warn("dropping malformed webhook retry push",
			zap.String("messageId", envelope.Message.MessageID),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	err = h.worker.Process(ctx, delivery)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, services.ErrDeliveryNotDue):
		httpx.WriteError(ctx, w, httpx.NewError("delivery_not_due", err.Error(), http.StatusServiceUnavailable))
	default:
		logger.Error("webhook retry failed",
			zap.String("deliveryId", delivery.ID),
			zap.String("eventId", delivery.Event.ID),
			zap.Int("attempt", delivery.Attempt),
			zap.Error(err),
		)
		httpx.WriteError(ctx, w, httpx.NewError("retry_failed", "webhook retry failed", http.StatusInternalServerError))
	}
}

func (h *InternalHandlers) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deadLetters == nil {
		serviceUnavailable(ctx, w, "dead_letter")
		return
	}
	page, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	filter := services.DeadLetterListFilter{Pagination: page}
	for _, raw := range parseFilterValues(r.URL.Query()["status"]) {
		filter.Status = append(filter.Status, domain.DeadLetterStatus(strings.ToLower(raw)))
	}

	result, err := h.deadLetters.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := deadLetterListResponse{Items: make([]deadLetterPayload, 0, len(result.Items)), NextPageToken: result.NextPageToken}
	for _, letter := range result.Items {
		resp.Items = append(resp.Items, buildDeadLetterPayload(letter))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *InternalHandlers) redrive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deadLetters == nil {
		serviceUnavailable(ctx, w, "dead_letter")
		return
	}
	letter, err := h.deadLetters.Redrive(ctx, strings.TrimSpace(chi.URLParam(r, "letterID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, deadLetterResponse{DeadLetter: buildDeadLetterPayload(letter)})
}
