package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/storefront/api/internal/services"
)

// DeliveryHandler processes one retry delivery.
type DeliveryHandler func(ctx context.Context, delivery services.WebhookDelivery) error

// MemoryQueue is an in-process retry queue that fires each delivery at its NotBefore time.
// Deliveries do not survive a restart; it backs local runs without Pub/Sub.
type MemoryQueue struct {
	handler DeliveryHandler
	logger  func(ctx context.Context, event string, fields map[string]any)
	now     func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryQueue constructs a MemoryQueue. The handler is attached with SetHandler once the
// worker that consumes the queue exists.
func NewMemoryQueue(logger func(ctx context.Context, event string, fields map[string]any)) *MemoryQueue {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &MemoryQueue{
		logger: logger,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
}

// SetHandler attaches the handler invoked for due deliveries.
func (q *MemoryQueue) SetHandler(handler DeliveryHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
}

// Enqueue schedules the delivery, replacing one already scheduled under the same id.
func (q *MemoryQueue) Enqueue(ctx context.Context, delivery services.WebhookDelivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("memory queue: closed")
	}
	delay := delivery.NotBefore.Sub(q.now())
	if delay < 0 {
		delay = 0
	}
	key := delivery.ID
	if previous, ok := q.timers[key]; ok && previous.Stop() {
		q.wg.Done()
	}
	q.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer q.wg.Done()
		q.mu.Lock()
		if q.timers[key] == timer {
			delete(q.timers, key)
		}
		handler := q.handler
		q.mu.Unlock()

		runCtx := context.WithoutCancel(ctx)
		if handler == nil {
			q.logger(runCtx, "webhook.retry.memory_dropped", map[string]any{"deliveryId": delivery.ID})
			return
		}
		if err := handler(runCtx, delivery); err != nil {
			q.logger(runCtx, "webhook.retry.memory_failed", map[string]any{
				"deliveryId": delivery.ID,
				"eventId":    delivery.Event.ID,
				"error":      err.Error(),
			})
		}
	})
	q.timers[key] = timer
	return nil
}

// Pending reports the number of scheduled deliveries.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close cancels scheduled deliveries and waits for running ones.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	for key, timer := range q.timers {
		if timer.Stop() {
			q.wg.Done()
		}
		delete(q.timers, key)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

var _ services.WebhookRetryQueue = (*MemoryQueue)(nil)
