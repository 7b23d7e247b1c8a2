package sqldb

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, notFound: true},
		{name: "duplicate key", err: gorm.ErrDuplicatedKey, conflict: true},
		{name: "pg unique", err: &pgconn.PgError{Code: "23505"}, conflict: true},
		{name: "pg serialization", err: &pgconn.PgError{Code: "40001"}, conflict: true},
		{name: "pg deadlock", err: &pgconn.PgError{Code: "40P01"}, conflict: true},
		{name: "pg shutdown", err: &pgconn.PgError{Code: "57P01"}, unavailable: true},
		{name: "pg connection", err: &pgconn.PgError{Code: "08006"}, unavailable: true},
		{name: "sqlite unique", err: errors.New("constraint failed: UNIQUE constraint failed: promo_codes.code (2067)"), conflict: true},
		{name: "other", err: errors.New("boom")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapError("op", fmt.Errorf("wrapped: %w", tc.err))
			var repoErr *Error
			if !errors.As(wrapped, &repoErr) {
				t.Fatalf("expected *Error, got %T", wrapped)
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification notFound=%v conflict=%v unavailable=%v", repoErr.IsNotFound(), repoErr.IsConflict(), repoErr.IsUnavailable())
			}
		})
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestNotFoundAndConflictHelpers(t *testing.T) {
	var repoErr *Error
	if !errors.As(NotFound("orders.find"), &repoErr) || !repoErr.IsNotFound() {
		t.Fatal("expected not found error")
	}
	if !errors.As(Conflict("orders.transition", "status changed"), &repoErr) || !repoErr.IsConflict() {
		t.Fatal("expected conflict error")
	}
	if !errors.As(Unavailable("ping", errors.New("refused")), &repoErr) || !repoErr.IsUnavailable() {
		t.Fatal("expected unavailable error")
	}
}
