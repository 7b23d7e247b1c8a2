package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/storefront/api/internal/payments"
)

var webhookTracer = otel.Tracer("github.com/storefront/api/internal/services/webhooks")

// WebhookIngressDeps wires signature verification, reconciliation and the retry queue.
type WebhookIngressDeps struct {
	Gateway     payments.Gateway
	Reconciler  WebhookReconciler
	Queue       WebhookRetryQueue
	Retry       WebhookRetryPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type webhookIngress struct {
	gateway    payments.Gateway
	reconciler WebhookReconciler
	queue      WebhookRetryQueue
	retry      WebhookRetryPolicy
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewWebhookIngress constructs a WebhookIngress.
func NewWebhookIngress(deps WebhookIngressDeps) (WebhookIngress, error) {
	if deps.Gateway == nil {
		return nil, errors.New("webhook ingress: gateway is required")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("webhook ingress: reconciler is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("webhook ingress: retry queue is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &webhookIngress{
		gateway:    deps.Gateway,
		reconciler: deps.Reconciler,
		queue:      deps.Queue,
		retry:      deps.Retry.withDefaults(),
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

// Receive verifies the payload and reconciles it inline. A verified event whose
// reconciliation fails is queued for retry and still acknowledged; only a failure to
// verify or to enqueue is returned to the caller.
func (w *webhookIngress) Receive(ctx context.Context, payload []byte, signature string) (receipt WebhookReceipt, err error) {
	ctx, span := webhookTracer.Start(ctx, "webhooks.receive")
	defer func() {
		span.SetAttributes(
			attribute.String("webhook.event_id", receipt.EventID),
			attribute.String("webhook.event_type", receipt.Type),
			attribute.String("webhook.outcome", string(receipt.Outcome)),
			attribute.Bool("webhook.deferred", receipt.Deferred),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	evt, err := w.gateway.ConstructWebhookEvent(payload, signature)
	if err != nil {
		w.logger(ctx, "webhook.signature.invalid", map[string]any{"error": err.Error()})
		return WebhookReceipt{}, fmt.Errorf("%w: %v", ErrPaymentSignatureInvalid, err)
	}

	now := w.clock()
	event := WebhookEvent{ID: evt.ID, Type: evt.Type, Payload: payload, ReceivedAt: now}
	receipt = WebhookReceipt{EventID: evt.ID, Type: evt.Type}

	if handledWebhookType(evt.Type) {
		meta, err := w.gateway.GetMetadata(evt)
		if err != nil {
			// an event without order correlation can never be applied
			w.logger(ctx, "webhook.metadata.missing", map[string]any{
				"eventId":   evt.ID,
				"eventType": evt.Type,
				"error":     err.Error(),
			})
			receipt.Outcome = ReconcileIgnored
			return receipt, nil
		}
		event.OrderID = meta.OrderID
		event.ExternalID = meta.ExternalID
		event.PaymentIntentID = meta.PaymentIntentID
		event.FailureMsg = meta.FailureMessage
	}

	outcome, err := w.reconciler.Reconcile(ctx, event)
	if err == nil {
		receipt.Outcome = outcome
		return receipt, nil
	}

	delivery := WebhookDelivery{
		ID:         w.newID(),
		Event:      event,
		Attempt:    1,
		NotBefore:  now.Add(w.retry.Delay(1)),
		LastError:  err.Error(),
		EnqueuedAt: now,
	}
	if enqueueErr := w.queue.Enqueue(ctx, delivery); enqueueErr != nil {
		w.logger(ctx, "webhook.retry.enqueue_failed", map[string]any{
			"eventId": evt.ID,
			"error":   enqueueErr.Error(),
		})
		return WebhookReceipt{}, fmt.Errorf("%w: %v", ErrWebhookEnqueue, enqueueErr)
	}
	w.logger(ctx, "webhook.deferred", map[string]any{
		"eventId":    evt.ID,
		"eventType":  evt.Type,
		"deliveryId": delivery.ID,
		"notBefore":  delivery.NotBefore,
	})
	receipt.Deferred = true
	return receipt, nil
}
