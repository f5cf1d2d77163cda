package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNestedTransaction is returned when Execute is called inside an active
// scope. SQLite has no nested transactions, and opening a second one on the
// single pooled connection would deadlock.
var ErrNestedTransaction = errors.New("nested transaction detected: sqlite does not support nested transactions")

// TransactionScope runs units of work in SQLite transactions.
type TransactionScope struct {
	db *sql.DB
}

func NewTransactionScope(db *sql.DB) *TransactionScope {
	return &TransactionScope{db: db}
}

// Execute commits when fn returns nil and rolls back otherwise.
func (s *TransactionScope) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return ErrNestedTransaction
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(withTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
