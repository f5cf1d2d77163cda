// Package commands contains the write use cases of the order history.
// Every mutation goes through Projector, which makes it idempotent.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/shared/transaction"
)

// maxAttempts bounds how often a unit of work is re-run after losing an
// optimistic concurrency check.
const maxAttempts = 3

// CacheInvalidator drops cached copies of an order after it changed.
// version is the stored version after the change; copies read from an
// older version must not be cached again.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, orderID string, version int64) error
}

// mutation computes the next state of an order. current is nil when the order
// does not exist. It returns the order to save, or a non-applied outcome.
type mutation func(current *domain.Order) (*domain.Order, domain.Outcome)

// Projector applies mutations to order projections exactly once per source
// event. The dedup check, the order change and the dedup marker are written in
// one unit of work, and work on one order is serialized within the process.
type Projector struct {
	repo    domain.OrderRepository
	tracker domain.IdempotencyTracker
	txScope transaction.Scope
	locks   *aggregateLocks
	cache   CacheInvalidator
	logger  *slog.Logger
}

// NewProjector creates a Projector. cache may be nil.
func NewProjector(
	repo domain.OrderRepository,
	tracker domain.IdempotencyTracker,
	txScope transaction.Scope,
	cache CacheInvalidator,
	logger *slog.Logger,
) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		repo:    repo,
		tracker: tracker,
		txScope: transaction.Retrying(txScope, maxAttempts, domain.ErrConcurrentUpdate),
		locks:   newAggregateLocks(),
		cache:   cache,
		logger:  logger,
	}
}

// apply runs mutate against the order in a single unit of work. A nil source
// event disables deduplication for this call.
func (p *Projector) apply(ctx context.Context, orderID domain.OrderID, source *domain.SourceEvent, mutate mutation) (domain.Outcome, error) {
	release, err := p.locks.acquire(ctx, orderID.String())
	if err != nil {
		return "", fmt.Errorf("locking order %s: %w", orderID, err)
	}
	defer release()

	var savedVersion int64
	outcome, err := transaction.ExecuteWithResult(ctx, p.txScope, func(ctx context.Context) (domain.Outcome, error) {
		if source != nil {
			applied, err := p.tracker.HasBeenApplied(ctx, orderID, *source)
			if err != nil {
				return "", fmt.Errorf("checking applied events: %w", err)
			}
			if applied {
				return domain.OutcomeDuplicate, nil
			}
		}

		current, err := p.repo.FindByID(ctx, orderID)
		if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			return "", fmt.Errorf("finding order: %w", err)
		}

		next, outcome := mutate(current)
		if !outcome.Applied() {
			return outcome, nil
		}

		if err := p.repo.Save(ctx, next); err != nil {
			return "", fmt.Errorf("saving order: %w", err)
		}
		savedVersion = next.Version() + 1
		if source != nil {
			if err := p.tracker.RecordApplied(ctx, orderID, *source); err != nil {
				return "", fmt.Errorf("recording applied event: %w", err)
			}
		}
		return domain.OutcomeApplied, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return "", err
		}
		return "", fmt.Errorf("%w: order %s: %w", domain.ErrStorageUnavailable, orderID, err)
	}

	attrs := []any{
		slog.String("order_id", orderID.String()),
		slog.String("outcome", outcome.String()),
	}
	if source != nil {
		attrs = append(attrs, slog.String("source_event", source.String()))
	}
	switch outcome {
	case domain.OutcomeApplied:
		p.logger.Debug("applied event to order", attrs...)
		p.invalidate(ctx, orderID, savedVersion)
	case domain.OutcomeDuplicate, domain.OutcomeUnknownAggregate:
		p.logger.Info("event not applied", attrs...)
	default:
		p.logger.Debug("event not applied", attrs...)
	}
	return outcome, nil
}

func (p *Projector) invalidate(ctx context.Context, orderID domain.OrderID, version int64) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Invalidate(ctx, orderID.String(), version); err != nil {
		p.logger.Warn("failed to invalidate cached order",
			slog.String("order_id", orderID.String()),
			slog.Any("error", err),
		)
	}
}

// updateExisting wraps a transition of an existing order.
func updateExisting(transition func(order *domain.Order) bool) mutation {
	return func(current *domain.Order) (*domain.Order, domain.Outcome) {
		if current == nil {
			return nil, domain.OutcomeUnknownAggregate
		}
		if !transition(current) {
			return nil, domain.OutcomeNoChange
		}
		return current, domain.OutcomeApplied
	}
}
