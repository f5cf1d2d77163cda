package spanner

import (
	"context"

	"cloud.google.com/go/spanner"
)

type readWriteTxKey struct{}

type readOnlyTxKey struct{}

// ReadTransaction is satisfied by both read-write and read-only transactions.
type ReadTransaction interface {
	Read(ctx context.Context, table string, keys spanner.KeySet, columns []string) *spanner.RowIterator
	ReadRow(ctx context.Context, table string, key spanner.Key, columns []string) (*spanner.Row, error)
	Query(ctx context.Context, statement spanner.Statement) *spanner.RowIterator
}

func withReadWriteTx(ctx context.Context, tx *spanner.ReadWriteTransaction) (context.Context, error) {
	if hasTx(ctx) {
		return nil, ErrNestedTransaction
	}
	return context.WithValue(ctx, readWriteTxKey{}, tx), nil
}

func withReadOnlyTx(ctx context.Context, tx *spanner.ReadOnlyTransaction) (context.Context, error) {
	if hasTx(ctx) {
		return nil, ErrNestedTransaction
	}
	return context.WithValue(ctx, readOnlyTxKey{}, tx), nil
}

func hasTx(ctx context.Context) bool {
	return ctx.Value(readWriteTxKey{}) != nil || ctx.Value(readOnlyTxKey{}) != nil
}

// ReadWriteTxFromContext extracts the read-write transaction started by
// ReadWriteTransactionScope.
func ReadWriteTxFromContext(ctx context.Context) (*spanner.ReadWriteTransaction, bool) {
	tx, ok := ctx.Value(readWriteTxKey{}).(*spanner.ReadWriteTransaction)
	return tx, ok
}

// ReadTransactionFromContext returns whichever transaction is in ctx.
func ReadTransactionFromContext(ctx context.Context) (ReadTransaction, bool) {
	if tx, ok := ReadWriteTxFromContext(ctx); ok {
		return tx, true
	}
	if tx, ok := ctx.Value(readOnlyTxKey{}).(*spanner.ReadOnlyTransaction); ok {
		return tx, true
	}
	return nil, false
}
