package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

var (
	// ErrDeadLetterNotFound indicates the dead letter does not exist.
	ErrDeadLetterNotFound = errors.New("dead letter: not found")
	// ErrDeadLetterConflict indicates the dead letter was already redriven.
	ErrDeadLetterConflict = errors.New("dead letter: already redriven")
	// ErrDeadLetterUnavailable indicates the dead letter store or archive failed.
	ErrDeadLetterUnavailable = errors.New("dead letter: unavailable")
)

// DeadLetterServiceDeps wires dead-letter operations.
type DeadLetterServiceDeps struct {
	DeadLetters repositories.DeadLetterRepository
	Queue       WebhookRetryQueue
	Archive     PayloadArchive
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type deadLetterService struct {
	letters repositories.DeadLetterRepository
	queue   WebhookRetryQueue
	archive PayloadArchive
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

// NewDeadLetterService constructs a DeadLetterService.
func NewDeadLetterService(deps DeadLetterServiceDeps) (DeadLetterService, error) {
	if deps.DeadLetters == nil {
		return nil, errors.New("dead letter service: repository is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("dead letter service: queue is required")
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
	return &deadLetterService{
		letters: deps.DeadLetters,
		queue:   deps.Queue,
		archive: deps.Archive,
		clock:   func() time.Time { return clock().UTC() },
		newID:   idGen,
		logger:  logger,
	}, nil
}

func (s *deadLetterService) List(ctx context.Context, filter DeadLetterListFilter) (domain.CursorPage[DeadLetter], error) {
	page, err := s.letters.List(ctx, repositories.DeadLetterListFilter{
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[DeadLetter]{}, s.mapError(err)
	}
	return page, nil
}

// Redrive puts the dead-lettered event back on the retry queue with a fresh attempt budget.
func (s *deadLetterService) Redrive(ctx context.Context, letterID string) (DeadLetter, error) {
	letterID = strings.TrimSpace(letterID)
	if letterID == "" {
		return DeadLetter{}, fmt.Errorf("%w: id is required", ErrDeadLetterNotFound)
	}
	letter, err := s.letters.Get(ctx, letterID)
	if err != nil {
		return DeadLetter{}, s.mapError(err)
	}
	if letter.Status == domain.DeadLetterStatusRedriven {
		return DeadLetter{}, fmt.Errorf("%w: %s", ErrDeadLetterConflict, letterID)
	}

	body := letter.Payload
	if len(body) == 0 && letter.PayloadRef != "" {
		if s.archive == nil {
			return DeadLetter{}, fmt.Errorf("%w: archive not configured for %s", ErrDeadLetterUnavailable, letter.PayloadRef)
		}
		body, err = s.archive.Get(ctx, letter.PayloadRef)
		if err != nil {
			return DeadLetter{}, fmt.Errorf("%w: load payload: %v", ErrDeadLetterUnavailable, err)
		}
	}
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" {
		return DeadLetter{}, fmt.Errorf("%w: dead letter %s has no readable event", ErrWebhookInvalidEvent, letterID)
	}

	now := s.clock()
	delivery := WebhookDelivery{
		ID:         s.newID(),
		Event:      event,
		Attempt:    1,
		NotBefore:  now,
		LastError:  letter.LastError,
		EnqueuedAt: now,
	}
	if err := s.queue.Enqueue(ctx, delivery); err != nil {
		return DeadLetter{}, fmt.Errorf("%w: %v", ErrWebhookEnqueue, err)
	}
	if err := s.letters.MarkRedriven(ctx, letterID, now); err != nil {
		return DeadLetter{}, s.mapError(err)
	}
	s.logger(ctx, "webhook.deadletter.redriven", map[string]any{
		"deadLetterId": letterID,
		"eventId":      event.ID,
		"deliveryId":   delivery.ID,
	})
	letter.Status = domain.DeadLetterStatusRedriven
	letter.RedrivenAt = &now
	return letter, nil
}

func (s *deadLetterService) mapError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrDeadLetterNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrDeadLetterConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrDeadLetterUnavailable, err)
		}
	}
	return err
}
