// Package transaction defines the unit-of-work abstraction shared by modules.
package transaction

import (
	"context"
	"errors"
)

// Scope manages the lifecycle of a transaction.
// It provides a clean abstraction for executing business logic
// within a transactional boundary.
//
// Implementations (e.g., Spanner read-write, SQLite, DynamoDB conditional
// writes, in-memory) handle the concrete lifecycle: begin, commit/rollback.
type Scope interface {
	// Execute runs the given function within a transaction.
	// The transaction is committed if fn returns nil, rolled back otherwise.
	// The ctx passed to fn contains the transaction for repositories to use.
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// ScopeFunc adapts a function to Scope.
type ScopeFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func (f ScopeFunc) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// ExecuteWithResult runs fn within a transaction and returns the result.
// This is a generic helper that wraps Scope.Execute for cases
// where the transaction needs to return a value.
func ExecuteWithResult[T any](ctx context.Context, scope Scope, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := scope.Execute(ctx, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// Retrying re-runs the whole transaction when it fails with an error matching
// one of retryOn, up to attempts times in total. fn must be safe to re-run,
// which is already required by stores that retry aborted transactions
// themselves.
func Retrying(scope Scope, attempts int, retryOn ...error) Scope {
	if attempts < 1 {
		attempts = 1
	}
	return ScopeFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
		var err error
		for range attempts {
			if err = scope.Execute(ctx, fn); err == nil || !matchesAny(err, retryOn) {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return errors.Join(err, ctxErr)
			}
		}
		return err
	})
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
