package services

import (
	"context"
	"errors"
	"sort"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/sqldb"
	"github.com/storefront/api/internal/repositories"
)

type recordingAlerter struct {
	calls [][]string
}

func (a *recordingAlerter) NotifyLowStock(ctx context.Context, productIDs []string) {
	a.calls = append(a.calls, productIDs)
}

type recordingQueue struct {
	deliveries []WebhookDelivery
	err        error
}

func (q *recordingQueue) Enqueue(ctx context.Context, delivery WebhookDelivery) error {
	if q.err != nil {
		return q.err
	}
	q.deliveries = append(q.deliveries, delivery)
	return nil
}

// scriptedReconciler fails the first failures calls, then succeeds.
type scriptedReconciler struct {
	failures int
	err      error
	seen     []WebhookEvent
}

func (r *scriptedReconciler) Reconcile(ctx context.Context, event WebhookEvent) (ReconcileOutcome, error) {
	r.seen = append(r.seen, event)
	if len(r.seen) <= r.failures {
		if r.err != nil {
			return "", r.err
		}
		return "", errors.New("database unavailable")
	}
	return ReconcileApplied, nil
}

type memDeadLetters struct {
	letters map[string]domain.DeadLetter
	saveErr error
}

func newMemDeadLetters() *memDeadLetters {
	return &memDeadLetters{letters: map[string]domain.DeadLetter{}}
}

func (r *memDeadLetters) Save(ctx context.Context, letter domain.DeadLetter) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.letters[letter.ID] = letter
	return nil
}

func (r *memDeadLetters) Get(ctx context.Context, letterID string) (domain.DeadLetter, error) {
	letter, ok := r.letters[letterID]
	if !ok {
		return domain.DeadLetter{}, sqldb.NotFound("dead_letters.get")
	}
	return letter, nil
}

func (r *memDeadLetters) List(ctx context.Context, filter repositories.DeadLetterListFilter) (domain.CursorPage[domain.DeadLetter], error) {
	var out []domain.DeadLetter
	for _, letter := range r.letters {
		if len(filter.Status) > 0 && !containsDeadLetterStatus(filter.Status, letter.Status) {
			continue
		}
		out = append(out, letter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return domain.CursorPage[domain.DeadLetter]{Items: out}, nil
}

func (r *memDeadLetters) MarkRedriven(ctx context.Context, letterID string, at time.Time) error {
	letter, ok := r.letters[letterID]
	if !ok {
		return sqldb.NotFound("dead_letters.mark_redriven")
	}
	letter.Status = domain.DeadLetterStatusRedriven
	letter.RedrivenAt = &at
	r.letters[letterID] = letter
	return nil
}

func containsDeadLetterStatus(list []domain.DeadLetterStatus, status domain.DeadLetterStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

type memArchive struct {
	objects map[string][]byte
	putErr  error
}

func newMemArchive() *memArchive {
	return &memArchive{objects: map[string][]byte{}}
}

func (a *memArchive) Put(ctx context.Context, name string, data []byte) (string, error) {
	if a.putErr != nil {
		return "", a.putErr
	}
	ref := "gs://dead-letters/" + name
	a.objects[ref] = data
	return ref, nil
}

func (a *memArchive) Get(ctx context.Context, ref string) ([]byte, error) {
	data, ok := a.objects[ref]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

var (
	_ repositories.DeadLetterRepository = (*memDeadLetters)(nil)
	_ PayloadArchive                    = (*memArchive)(nil)
)
