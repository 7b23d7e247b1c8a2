package sqldb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrNotFound is returned by repositories when a row is missing.
var ErrNotFound = errors.New("sqldb: record not found")

// Error implements repositories.RepositoryError for SQL backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a constraint violation or a lost race.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

// NotFound builds a not-found error for op.
func NotFound(op string) error {
	return &Error{op: op, err: ErrNotFound, notFound: true}
}

// Conflict builds a conflict error for op.
func Conflict(op string, reason string) error {
	return &Error{op: op, err: errors.New(reason), conflict: true}
}

// Unavailable builds an error for op marking a transient backend outage.
func Unavailable(op string, err error) error {
	return &Error{op: op, err: err, unavailable: true}
}

// WrapError annotates SQL errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}

	e := &Error{op: op, err: err}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		e.notFound = true
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		e.conflict = true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		classifyPgCode(e, pgErr.Code)
	} else if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		e.conflict = true
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		e.unavailable = true
	}
	return e
}

func classifyPgCode(e *Error, code string) {
	switch {
	case code == "23505", code == "23503", code == "40001", code == "40P01":
		// unique, foreign key, serialization failure, deadlock
		e.conflict = true
	case code == "57P01", code == "57P03", code == "53300", strings.HasPrefix(code, "08"):
		e.unavailable = true
	}
}
