package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/repositories"
)

var (
	// ErrPaymentSignatureInvalid indicates the webhook payload failed verification.
	ErrPaymentSignatureInvalid = errors.New("webhook: invalid signature")
	// ErrWebhookInvalidEvent indicates a verified event that cannot be reconciled as given.
	ErrWebhookInvalidEvent = errors.New("webhook: invalid event")
	// ErrWebhookEnqueue indicates a failed event could not be queued for retry.
	ErrWebhookEnqueue = errors.New("webhook: retry enqueue failed")
	// ErrDeliveryNotDue indicates a retry delivery arrived before its NotBefore time.
	ErrDeliveryNotDue = errors.New("webhook: delivery not due")
)

type webhookAction int

const (
	webhookActionIgnore webhookAction = iota
	webhookActionCapture
	webhookActionFailure
	webhookActionRestore
)

var webhookActions = map[string]webhookAction{
	payments.EventPaymentIntentSucceeded: webhookActionCapture,
	payments.EventCheckoutCompleted:      webhookActionCapture,
	payments.EventPaymentIntentFailed:    webhookActionFailure,
	payments.EventPaymentIntentCanceled:  webhookActionRestore,
	payments.EventCheckoutExpired:        webhookActionRestore,
}

// handledWebhookType reports whether events of this type change order state.
func handledWebhookType(eventType string) bool {
	return webhookActions[eventType] != webhookActionIgnore
}

// WebhookReconcilerDeps wires the reconciler.
type WebhookReconcilerDeps struct {
	Store         repositories.Store
	StatusMachine OrderStatusMachine
	Carts         CartService
	Alerter       StockAlerter
	Metrics       Metrics
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type webhookReconciler struct {
	store   repositories.Store
	status  OrderStatusMachine
	carts   CartService
	alerter StockAlerter
	metrics Metrics
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewWebhookReconciler constructs a WebhookReconciler.
func NewWebhookReconciler(deps WebhookReconcilerDeps) (WebhookReconciler, error) {
	if deps.Store == nil {
		return nil, errors.New("webhook reconciler: store is required")
	}
	if deps.StatusMachine == nil {
		return nil, errors.New("webhook reconciler: status machine is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("webhook reconciler: cart service is required")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &webhookReconciler{
		store:   deps.Store,
		status:  deps.StatusMachine,
		carts:   deps.Carts,
		alerter: deps.Alerter,
		metrics: metrics,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Reconcile applies the event in one transaction together with its ledger entry, so a
// redelivered event id is a no-op.
func (r *webhookReconciler) Reconcile(ctx context.Context, event WebhookEvent) (ReconcileOutcome, error) {
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		return "", fmt.Errorf("%w: event id is required", ErrWebhookInvalidEvent)
	}
	action := webhookActions[event.Type]
	if action == webhookActionIgnore {
		r.metrics.WebhookProcessed(event.Type, string(ReconcileIgnored))
		return ReconcileIgnored, nil
	}
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return "", fmt.Errorf("%w: event %s does not reference an order", ErrWebhookInvalidEvent, eventID)
	}

	var (
		outcome ReconcileOutcome
		paid    Order
	)
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		fresh, err := tx.WebhookEvents().MarkProcessed(ctx, eventID, event.Type, r.clock())
		if err != nil {
			return err
		}
		if !fresh {
			outcome = ReconcileDuplicate
			return nil
		}
		switch action {
		case webhookActionCapture:
			order, applied, err := r.capture(ctx, tx, orderID, event)
			if err != nil {
				return err
			}
			outcome = ReconcileNoop
			if applied {
				outcome = ReconcileApplied
				paid = order
			}
		case webhookActionFailure:
			if err := tx.Payments().RecordFailure(ctx, orderID, event.ExternalID, event.FailureMsg, r.clock()); err != nil {
				return err
			}
			outcome = ReconcileApplied
		case webhookActionRestore:
			result, err := r.status.Restore(ctx, tx, orderID)
			switch {
			case errors.Is(err, ErrOrderInvalidTransition):
				outcome = ReconcileNoop
			case err != nil:
				return err
			case result.Restored:
				outcome = ReconcileApplied
			default:
				outcome = ReconcileNoop
			}
		}
		return nil
	})
	if err != nil {
		r.metrics.WebhookProcessed(event.Type, "failed")
		r.logger(ctx, "webhook.reconcile.failed", map[string]any{
			"eventId":   eventID,
			"eventType": event.Type,
			"orderId":   orderID,
			"error":     err.Error(),
		})
		return "", fmt.Errorf("reconcile %s: %w", eventID, err)
	}

	r.metrics.WebhookProcessed(event.Type, string(outcome))
	r.logger(ctx, "webhook.reconciled", map[string]any{
		"eventId":   eventID,
		"eventType": event.Type,
		"orderId":   orderID,
		"outcome":   string(outcome),
	})
	if paid.ID != "" && r.alerter != nil {
		r.alerter.NotifyLowStock(ctx, orderedProductIDs(paid))
	}
	return outcome, nil
}

// capture marks a pending order paid. It reports false when the order had already left PENDING.
func (r *webhookReconciler) capture(ctx context.Context, tx repositories.Tx, orderID string, event WebhookEvent) (Order, bool, error) {
	order, err := r.status.Transition(ctx, tx, TransitionCommand{OrderID: orderID, Target: domain.OrderStatusPaid})
	if errors.Is(err, ErrOrderInvalidTransition) {
		r.logger(ctx, "webhook.capture.skipped", map[string]any{"orderId": orderID, "eventId": event.ID})
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}

	now := r.clock()
	if event.Type == payments.EventCheckoutCompleted && event.PaymentIntentID != "" {
		if err := tx.Payments().SetPaymentIntent(ctx, orderID, event.PaymentIntentID, now); err != nil {
			return Order{}, false, err
		}
	}
	if _, err := tx.Payments().TransitionForOrder(ctx, orderID, domain.PaymentStatusPending, domain.PaymentStatusSucceeded, now); err != nil {
		return Order{}, false, err
	}

	if order.UserID != "" {
		if _, err := r.carts.CheckoutActiveCart(ctx, tx, order.UserID); err != nil {
			return Order{}, false, err
		}
	}
	return order, true, nil
}

func orderedProductIDs(order Order) []string {
	seen := make(map[string]struct{}, len(order.Items))
	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}
