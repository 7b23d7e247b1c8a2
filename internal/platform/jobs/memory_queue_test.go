package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/storefront/api/internal/services"
)

func TestMemoryQueueFiresDueDeliveries(t *testing.T) {
	queue := NewMemoryQueue(nil)
	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan struct{}, 2)
	queue.SetHandler(func(ctx context.Context, delivery services.WebhookDelivery) error {
		mu.Lock()
		seen = append(seen, delivery.ID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	now := time.Now()
	if err := queue.Enqueue(context.Background(), services.WebhookDelivery{ID: "dlv_due", Event: services.WebhookEvent{ID: "evt_1"}, NotBefore: now.Add(-time.Second)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := queue.Enqueue(context.Background(), services.WebhookDelivery{ID: "dlv_later", Event: services.WebhookEvent{ID: "evt_2"}, NotBefore: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("due delivery was not processed")
	}
	if queue.Pending() != 1 {
		t.Fatalf("expected the later delivery to stay scheduled, got %d", queue.Pending())
	}

	queue.Close()
	if queue.Pending() != 0 {
		t.Fatalf("close must cancel scheduled deliveries")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "dlv_due" {
		t.Fatalf("unexpected processed deliveries %v", seen)
	}
	if err := queue.Enqueue(context.Background(), services.WebhookDelivery{ID: "dlv_closed"}); err == nil {
		t.Fatalf("expected enqueue on a closed queue to fail")
	}
}

func TestMemoryQueueReplacesScheduledDelivery(t *testing.T) {
	queue := NewMemoryQueue(nil)
	fired := make(chan int, 2)
	queue.SetHandler(func(ctx context.Context, delivery services.WebhookDelivery) error {
		fired <- delivery.Attempt
		return nil
	})

	now := time.Now()
	if err := queue.Enqueue(context.Background(), services.WebhookDelivery{ID: "dlv_1", Attempt: 1, NotBefore: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := queue.Enqueue(context.Background(), services.WebhookDelivery{ID: "dlv_1", Attempt: 2, NotBefore: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if queue.Pending() != 1 {
		t.Fatalf("expected one scheduled delivery, got %d", queue.Pending())
	}

	closed := make(chan struct{})
	go func() {
		queue.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked on a replaced delivery")
	}
	select {
	case attempt := <-fired:
		t.Fatalf("unexpected delivery of attempt %d", attempt)
	default:
	}
}
