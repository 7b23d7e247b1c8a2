package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	defaultWebhookMaxAttempts = 5
	defaultWebhookBaseBackoff = 30 * time.Second
	defaultWebhookMaxBackoff  = 30 * time.Minute
)

// WebhookRetryPolicy bounds webhook retries. Attempt n waits BaseBackoff * 2^(n-1), capped at MaxBackoff.
type WebhookRetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (p WebhookRetryPolicy) withDefaults() WebhookRetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultWebhookMaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = defaultWebhookBaseBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultWebhookMaxBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	return p
}

// Delay returns the wait before the given attempt.
func (p WebhookRetryPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return delay
}

// PayloadArchive stores raw payloads of dead-lettered deliveries outside the dead-letter record.
type PayloadArchive interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// WebhookRetryWorkerDeps wires the retry worker.
type WebhookRetryWorkerDeps struct {
	Reconciler  WebhookReconciler
	Queue       WebhookRetryQueue
	DeadLetters repositories.DeadLetterRepository
	Archive     PayloadArchive
	Retry       WebhookRetryPolicy
	Metrics     Metrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type webhookRetryWorker struct {
	reconciler  WebhookReconciler
	queue       WebhookRetryQueue
	deadLetters repositories.DeadLetterRepository
	archive     PayloadArchive
	retry       WebhookRetryPolicy
	metrics     Metrics
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewWebhookRetryWorker constructs a WebhookRetryWorker.
func NewWebhookRetryWorker(deps WebhookRetryWorkerDeps) (WebhookRetryWorker, error) {
	if deps.Reconciler == nil {
		return nil, errors.New("webhook retry worker: reconciler is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("webhook retry worker: queue is required")
	}
	if deps.DeadLetters == nil {
		return nil, errors.New("webhook retry worker: dead letter repository is required")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &webhookRetryWorker{
		reconciler:  deps.Reconciler,
		queue:       deps.Queue,
		deadLetters: deps.DeadLetters,
		archive:     deps.Archive,
		retry:       deps.Retry.withDefaults(),
		metrics:     metrics,
		clock:       func() time.Time { return clock().UTC() },
		newID:       idGen,
		logger:      logger,
	}, nil
}

// Process re-applies one delivery. A failed attempt is re-enqueued with the next backoff
// until MaxAttempts, after which the delivery is dead-lettered. A nil return means the
// delivery needs no further handling by the caller.
func (w *webhookRetryWorker) Process(ctx context.Context, delivery WebhookDelivery) error {
	if strings.TrimSpace(delivery.Event.ID) == "" {
		return fmt.Errorf("%w: delivery %s has no event", ErrWebhookInvalidEvent, delivery.ID)
	}
	now := w.clock()
	if now.Before(delivery.NotBefore) {
		return fmt.Errorf("%w: until %s", ErrDeliveryNotDue, delivery.NotBefore.Format(time.RFC3339))
	}
	if delivery.Attempt < 1 {
		delivery.Attempt = 1
	}
	w.metrics.WebhookRetried(delivery.Attempt)

	_, err := w.reconciler.Reconcile(ctx, delivery.Event)
	if err == nil {
		w.logger(ctx, "webhook.retry.succeeded", map[string]any{
			"deliveryId": delivery.ID,
			"eventId":    delivery.Event.ID,
			"attempt":    delivery.Attempt,
		})
		return nil
	}
	delivery.LastError = err.Error()

	if delivery.Attempt >= w.retry.MaxAttempts || errors.Is(err, ErrWebhookInvalidEvent) {
		return w.deadLetter(ctx, delivery)
	}

	next := delivery
	next.Attempt++
	next.NotBefore = now.Add(w.retry.Delay(next.Attempt))
	next.EnqueuedAt = now
	if err := w.queue.Enqueue(ctx, next); err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookEnqueue, err)
	}
	w.logger(ctx, "webhook.retry.rescheduled", map[string]any{
		"deliveryId": delivery.ID,
		"eventId":    delivery.Event.ID,
		"attempt":    next.Attempt,
		"notBefore":  next.NotBefore,
		"error":      delivery.LastError,
	})
	return nil
}

func (w *webhookRetryWorker) deadLetter(ctx context.Context, delivery WebhookDelivery) error {
	body, err := json.Marshal(delivery.Event)
	if err != nil {
		return fmt.Errorf("encode dead letter event: %w", err)
	}
	letter := DeadLetter{
		ID:        w.newID(),
		EventID:   delivery.Event.ID,
		EventType: delivery.Event.Type,
		Attempts:  delivery.Attempt,
		LastError: delivery.LastError,
		Status:    domain.DeadLetterStatusOpen,
		CreatedAt: w.clock(),
	}
	if w.archive != nil {
		ref, err := w.archive.Put(ctx, letter.ID+".json", body)
		if err != nil {
			w.logger(ctx, "webhook.deadletter.archive_failed", map[string]any{
				"eventId": letter.EventID,
				"error":   err.Error(),
			})
		} else {
			letter.PayloadRef = ref
		}
	}
	if letter.PayloadRef == "" {
		letter.Payload = body
	}
	if err := w.deadLetters.Save(ctx, letter); err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	w.metrics.WebhookDeadLettered(letter.EventType)
	w.logger(ctx, "webhook.deadlettered", map[string]any{
		"deadLetterId": letter.ID,
		"eventId":      letter.EventID,
		"eventType":    letter.EventType,
		"attempts":     letter.Attempts,
		"error":        letter.LastError,
	})
	return nil
}
