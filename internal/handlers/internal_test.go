package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/services"
)

type stubRetryWorker struct {
	err       error
	processed []services.WebhookDelivery
}

func (s *stubRetryWorker) Process(_ context.Context, delivery services.WebhookDelivery) error {
	s.processed = append(s.processed, delivery)
	return s.err
}

type stubDeadLetterService struct {
	letters  []services.DeadLetter
	err      error
	filter   services.DeadLetterListFilter
	redriven string
}

func (s *stubDeadLetterService) List(_ context.Context, filter services.DeadLetterListFilter) (domain.CursorPage[services.DeadLetter], error) {
	s.filter = filter
	return domain.CursorPage[services.DeadLetter]{Items: s.letters, NextPageToken: "next"}, s.err
}

func (s *stubDeadLetterService) Redrive(_ context.Context, letterID string) (services.DeadLetter, error) {
	s.redriven = letterID
	if s.err != nil {
		return services.DeadLetter{}, s.err
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return services.DeadLetter{ID: letterID, EventID: "evt_1", Status: domain.DeadLetterStatusRedriven, RedrivenAt: &now}, nil
}

func newInternalRouter(identity *auth.Identity, worker services.WebhookRetryWorker, deadLetters services.DeadLetterService) http.Handler {
	r := chi.NewRouter()
	r.Use(withIdentity(identity))
	r.Route("/internal", NewInternalHandlers(nil, nil, worker, deadLetters).Routes)
	return r
}

func pushBody(t *testing.T, delivery services.WebhookDelivery) []byte {
	t.Helper()
	data, err := json.Marshal(delivery)
	if err != nil {
		t.Fatalf("marshal delivery: %v", err)
	}
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":      data,
			"messageId": "msg-1",
		},
		"subscription": "projects/test/subscriptions/webhook-retry",
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func TestInternalHandlersWebhookRetry(t *testing.T) {
	delivery := services.WebhookDelivery{
		ID:      "dlv-1",
		Event:   services.WebhookEvent{ID: "evt_1", Type: "payment_intent.succeeded", OrderID: "order-1"},
		Attempt: 2,
	}
	cases := []struct {
		name      string
		body      []byte
		err       error
		want      int
		processed int
	}{
		{name: "processed", body: pushBody(t, delivery), want: http.StatusNoContent, processed: 1},
		{name: "malformed acknowledged", body: []byte(`{"message":{"data":""}}`), want: http.StatusNoContent, processed: 0},
		{name: "not due", body: pushBody(t, delivery), err: fmt.Errorf("%w: later", services.ErrDeliveryNotDue), want: http.StatusServiceUnavailable, processed: 1},
		{name: "failure", body: pushBody(t, delivery), err: errors.New("store down"), want: http.StatusInternalServerError, processed: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			worker := &stubRetryWorker{err: tc.err}
			router := newInternalRouter(nil, worker, nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/jobs/webhook-retry", bytes.NewReader(tc.body)))
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
			if len(worker.processed) != tc.processed {
				t.Fatalf("expected %d processed deliveries, got %d", tc.processed, len(worker.processed))
			}
			if tc.processed > 0 && (worker.processed[0].ID != "dlv-1" || worker.processed[0].Attempt != 2) {
				t.Fatalf("unexpected delivery %+v", worker.processed[0])
			}
		})
	}
}

func TestInternalHandlersListDeadLetters(t *testing.T) {
	svc := &stubDeadLetterService{letters: []services.DeadLetter{{
		ID:        "dl-1",
		EventID:   "evt_1",
		EventType: "payment_intent.succeeded",
		Attempts:  5,
		Status:    domain.DeadLetterStatusOpen,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}}}
	router := newInternalRouter(managerIdentity, nil, svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/internal/webhooks/dead-letters?status=OPEN", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.filter.Status) != 1 || svc.filter.Status[0] != domain.DeadLetterStatusOpen {
		t.Fatalf("unexpected filter %+v", svc.filter)
	}
	var resp deadLetterListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Attempts != 5 || resp.Items[0].CreatedAt != "2026-03-01T10:00:00Z" || resp.NextPageToken != "next" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestInternalHandlersRedrive(t *testing.T) {
	svc := &stubDeadLetterService{}
	router := newInternalRouter(managerIdentity, nil, svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/webhooks/dead-letters/dl-9:redrive", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.redriven != "dl-9" {
		t.Fatalf("expected redrive of dl-9, got %q", svc.redriven)
	}

	for _, tc := range []struct {
		err  error
		want int
	}{
		{err: services.ErrDeadLetterNotFound, want: http.StatusNotFound},
		{err: services.ErrDeadLetterConflict, want: http.StatusConflict},
	} {
		router = newInternalRouter(managerIdentity, nil, &stubDeadLetterService{err: tc.err})
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/webhooks/dead-letters/dl-9:redrive", nil))
		if rr.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rr.Code)
		}
	}
}
