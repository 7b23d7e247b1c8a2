package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

const deadLetterCollection = "webhookDeadLetters"

// DeadLetterRepository persists exhausted webhook deliveries.
type DeadLetterRepository struct {
	provider *pfirestore.Provider
}

// NewDeadLetterRepository constructs a Firestore-backed dead-letter repository.
func NewDeadLetterRepository(provider *pfirestore.Provider) (*DeadLetterRepository, error) {
	if provider == nil {
		return nil, errors.New("dead letter repository requires firestore provider")
	}
	return &DeadLetterRepository{provider: provider}, nil
}

// Save creates the dead letter. Saving an existing id is a conflict.
func (r *DeadLetterRepository) Save(ctx context.Context, letter domain.DeadLetter) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(letter.ID)
	if id == "" {
		return errors.New("dead letter repository: id is required")
	}
	if _, err := coll.Doc(id).Create(ctx, encodeDeadLetter(letter)); err != nil {
		return pfirestore.WrapError("deadLetters.save", err)
	}
	return nil
}

// Get returns the dead letter by id.
func (r *DeadLetterRepository) Get(ctx context.Context, letterID string) (domain.DeadLetter, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.DeadLetter{}, err
	}
	letterID = strings.TrimSpace(letterID)
	if letterID == "" {
		return domain.DeadLetter{}, errors.New("dead letter repository: id is required")
	}
	snap, err := coll.Doc(letterID).Get(ctx)
	if err != nil {
		return domain.DeadLetter{}, pfirestore.WrapError("deadLetters.get", err)
	}
	return decodeDeadLetter(snap)
}

// List returns dead letters newest first.
func (r *DeadLetterRepository) List(ctx context.Context, filter repositories.DeadLetterListFilter) (domain.CursorPage[domain.DeadLetter], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.DeadLetter]{}, err
	}

	query := coll.Query
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		query = query.Where("status", "in", statuses)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	limit := pagination.NormalizePageSize(filter.Pagination.PageSize)
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.DeadLetter]{}, err
	}
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
	}
	query = query.Limit(limit + 1)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var items []domain.DeadLetter
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.DeadLetter]{}, pfirestore.WrapError("deadLetters.list", err)
		}
		letter, err := decodeDeadLetter(snap)
		if err != nil {
			return domain.CursorPage[domain.DeadLetter]{}, err
		}
		items = append(items, letter)
	}

	nextToken := ""
	if len(items) > limit {
		last := items[limit-1]
		nextToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.DeadLetter]{}, err
		}
		items = items[:limit]
	}
	return domain.CursorPage[domain.DeadLetter]{Items: items, NextPageToken: nextToken}, nil
}

// MarkRedriven flags the dead letter as handed back to the retry queue. A letter that
// is already redriven yields a conflict so concurrent operators cannot both succeed.
func (r *DeadLetterRepository) MarkRedriven(ctx context.Context, letterID string, at time.Time) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	letterID = strings.TrimSpace(letterID)
	if letterID == "" {
		return errors.New("dead letter repository: id is required")
	}
	doc := coll.Doc(letterID)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			return pfirestore.WrapError("deadLetters.markRedriven", err)
		}
		var current deadLetterDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("dead letter repository: decode %s: %w", letterID, err)
		}
		if current.Status == string(domain.DeadLetterStatusRedriven) {
			return &pfirestore.Error{
				Op:   "deadLetters.markRedriven",
				Code: codes.FailedPrecondition,
				Err:  fmt.Errorf("dead letter %s already redriven", letterID),
			}
		}
		return tx.Update(doc, []firestore.Update{
			{Path: "status", Value: string(domain.DeadLetterStatusRedriven)},
			{Path: "redrivenAt", Value: at.UTC()},
		})
	}, pfirestore.WithTxAttempts(3))
}

func (r *DeadLetterRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("dead letter repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(deadLetterCollection), nil
}

type deadLetterDocument struct {
	EventID    string     `firestore:"eventId"`
	EventType  string     `firestore:"eventType"`
	Attempts   int        `firestore:"attempts"`
	LastError  string     `firestore:"lastError,omitempty"`
	PayloadRef string     `firestore:"payloadRef,omitempty"`
	Payload    []byte     `firestore:"payload,omitempty"`
	Status     string     `firestore:"status"`
	CreatedAt  time.Time  `firestore:"createdAt"`
	RedrivenAt *time.Time `firestore:"redrivenAt,omitempty"`
}

func encodeDeadLetter(letter domain.DeadLetter) deadLetterDocument {
	status := letter.Status
	if status == "" {
		status = domain.DeadLetterStatusOpen
	}
	doc := deadLetterDocument{
		EventID:    letter.EventID,
		EventType:  letter.EventType,
		Attempts:   letter.Attempts,
		LastError:  letter.LastError,
		PayloadRef: letter.PayloadRef,
		Payload:    letter.Payload,
		Status:     string(status),
		CreatedAt:  letter.CreatedAt.UTC(),
	}
	if letter.RedrivenAt != nil {
		at := letter.RedrivenAt.UTC()
		doc.RedrivenAt = &at
	}
	return doc
}

func decodeDeadLetter(snap *firestore.DocumentSnapshot) (domain.DeadLetter, error) {
	var doc deadLetterDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("decode dead letter %s: %w", snap.Ref.ID, err)
	}
	return domain.DeadLetter{
		ID:         snap.Ref.ID,
		EventID:    doc.EventID,
		EventType:  doc.EventType,
		Attempts:   doc.Attempts,
		LastError:  doc.LastError,
		PayloadRef: doc.PayloadRef,
		Payload:    doc.Payload,
		Status:     domain.DeadLetterStatus(doc.Status),
		CreatedAt:  doc.CreatedAt,
		RedrivenAt: doc.RedrivenAt,
	}, nil
}

var _ repositories.DeadLetterRepository = (*DeadLetterRepository)(nil)
