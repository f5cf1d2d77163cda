package domain

import "context"

// OrderRepository persists order projections.
// Implementations join the unit of work carried in ctx when there is one.
type OrderRepository interface {
	// FindByID returns ErrOrderNotFound when the order does not exist.
	FindByID(ctx context.Context, id OrderID) (*Order, error)
	// FindByConsumer returns every order owned by the consumer.
	FindByConsumer(ctx context.Context, consumerID ConsumerID) ([]*Order, error)
	// Save inserts the order when its version is zero and otherwise updates it,
	// provided the stored version still equals the loaded one. A lost race
	// returns ErrConcurrentUpdate.
	Save(ctx context.Context, order *Order) error
}

// IdempotencyTracker records which source events have been applied to an
// order. It must be used in the same unit of work as the OrderRepository
// mutation it guards.
type IdempotencyTracker interface {
	HasBeenApplied(ctx context.Context, orderID OrderID, event SourceEvent) (bool, error)
	RecordApplied(ctx context.Context, orderID OrderID, event SourceEvent) error
}
