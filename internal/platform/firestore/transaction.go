package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc is the body of a transaction. It may be invoked more than once on contention.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption adjusts a single RunTransaction call.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts caps how many times the body runs. Defaults to 5.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout shortens the deadline to timeout unless the caller's is already sooner. Defaults to 15s.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// RunTransaction runs fn in a transaction on client. An error returned by fn comes back as is,
// so callers can match their own sentinels; errors raised by Firestore itself are wrapped.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil || fn == nil {
		return errors.New("firestore: transaction requires client and function")
	}
	settings := txSettings{attempts: 5, timeout: 15 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	deadline := time.Now().Add(settings.timeout)
	if current, ok := ctx.Deadline(); !ok || current.After(deadline) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	var bodyErr error
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		bodyErr = fn(ctx, tx)
		return bodyErr
	}, firestore.MaxAttempts(settings.attempts))
	switch {
	case err == nil:
		return nil
	case bodyErr != nil && errors.Is(err, bodyErr):
		return bodyErr
	}
	return WrapError("transaction", err)
}
