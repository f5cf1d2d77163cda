package spanner

import (
	"context"
	"errors"

	"cloud.google.com/go/spanner"
)

// ErrNestedTransaction is returned when a scope is entered inside an active
// one. Spanner has no nested transactions: nesting would silently create an
// independent transaction.
var ErrNestedTransaction = errors.New("nested transaction detected: Cloud Spanner does not support nested transactions")

// ReadWriteTransactionScope runs units of work in Spanner read-write
// transactions.
type ReadWriteTransactionScope struct {
	client *spanner.Client
}

func NewReadWriteTransactionScope(client *spanner.Client) *ReadWriteTransactionScope {
	return &ReadWriteTransactionScope{client: client}
}

// Execute commits when fn returns nil. Spanner re-runs fn when the
// transaction aborts, so fn must not have side effects outside the
// transaction.
func (s *ReadWriteTransactionScope) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, tx *spanner.ReadWriteTransaction) error {
		txCtx, err := withReadWriteTx(ctx, tx)
		if err != nil {
			return err
		}
		return fn(txCtx)
	})
	return err
}

// ReadOnlyTransactionScope gives fn a consistent snapshot across reads.
type ReadOnlyTransactionScope struct {
	client *spanner.Client
}

func NewReadOnlyTransactionScope(client *spanner.Client) *ReadOnlyTransactionScope {
	return &ReadOnlyTransactionScope{client: client}
}

func (s *ReadOnlyTransactionScope) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := s.client.ReadOnlyTransaction()
	defer tx.Close()

	txCtx, err := withReadOnlyTx(ctx, tx)
	if err != nil {
		return err
	}
	return fn(txCtx)
}
