// Package orderhistory maintains each consumer's order history from order
// lifecycle events. This is the public API of the order history context.
package orderhistory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rai/orderhistory-go/modules/orderhistory/application/commands"
	"github.com/rai/orderhistory-go/modules/orderhistory/application/eventhandlers"
	"github.com/rai/orderhistory-go/modules/orderhistory/application/queries"
	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/shared/events"
	"github.com/rai/orderhistory-go/modules/shared/transaction"
)

// Module is the public API of the order history.
type Module interface {
	// Ingest applies one delivered event. Only storage failures are errors.
	Ingest(ctx context.Context, env events.Envelope) (domain.Outcome, error)
	// IngestBatch applies events concurrently across orders, in order within
	// each order. Outcomes are positional.
	IngestBatch(ctx context.Context, envs []events.Envelope) ([]domain.Outcome, error)
	// AddOrder reports whether the order was inserted.
	AddOrder(ctx context.Context, cmd commands.AddOrderCommand) (bool, error)
	// CancelOrder reports whether the order was cancelled. A nil source
	// disables deduplication.
	CancelOrder(ctx context.Context, orderID string, source *domain.SourceEvent) (bool, error)
	// FindOrder reports found=false for an unknown order.
	FindOrder(ctx context.Context, orderID string) (*queries.OrderDTO, bool, error)
	FindOrderHistory(ctx context.Context, query queries.FindOrderHistoryQuery) (*queries.OrderHistoryDTO, error)
}

// OrderCache is a read-through cache of orders that the module keeps fresh.
type OrderCache interface {
	queries.OrderCache
	commands.CacheInvalidator
}

// Config holds the module configuration. Repository, Tracker and
// TransactionScope must belong to the same store.
type Config struct {
	Repository       domain.OrderRepository
	Tracker          domain.IdempotencyTracker
	TransactionScope transaction.Scope
	// Cache is optional.
	Cache        OrderCache
	BatchWorkers int
	Logger       *slog.Logger
}

type module struct {
	ingestor           *eventhandlers.Ingestor
	addOrderHandler    *commands.AddOrderHandler
	cancelOrderHandler *commands.CancelOrderHandler
	findOrderHandler   *queries.FindOrderHandler
	findHistoryHandler *queries.FindOrderHistoryHandler
	batchWorkers       int
}

func New(cfg Config) Module {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "orderhistory")

	var (
		readCache  queries.OrderCache
		invalidate commands.CacheInvalidator
	)
	if cfg.Cache != nil {
		readCache, invalidate = cfg.Cache, cfg.Cache
	}

	projector := commands.NewProjector(cfg.Repository, cfg.Tracker, cfg.TransactionScope, invalidate, logger)
	addOrderHandler := commands.NewAddOrderHandler(projector)
	cancelOrderHandler := commands.NewCancelOrderHandler(projector)
	changeStatusHandler := commands.NewChangeStatusHandler(projector)
	reviseOrderHandler := commands.NewReviseOrderHandler(projector)

	workers := cfg.BatchWorkers
	if workers <= 0 {
		workers = eventhandlers.DefaultBatchWorkers
	}

	return &module{
		ingestor:           eventhandlers.NewIngestor(addOrderHandler, cancelOrderHandler, changeStatusHandler, reviseOrderHandler, logger),
		addOrderHandler:    addOrderHandler,
		cancelOrderHandler: cancelOrderHandler,
		findOrderHandler:   queries.NewFindOrderHandler(cfg.Repository, readCache, logger),
		findHistoryHandler: queries.NewFindOrderHistoryHandler(cfg.Repository),
		batchWorkers:       workers,
	}
}

func (m *module) Ingest(ctx context.Context, env events.Envelope) (domain.Outcome, error) {
	return m.ingestor.Handle(ctx, env)
}

func (m *module) IngestBatch(ctx context.Context, envs []events.Envelope) ([]domain.Outcome, error) {
	return m.ingestor.HandleBatch(ctx, envs, m.batchWorkers)
}

func (m *module) AddOrder(ctx context.Context, cmd commands.AddOrderCommand) (bool, error) {
	outcome, err := m.addOrderHandler.Handle(ctx, cmd)
	return outcome.Applied(), err
}

func (m *module) CancelOrder(ctx context.Context, orderID string, source *domain.SourceEvent) (bool, error) {
	outcome, err := m.cancelOrderHandler.Handle(ctx, commands.CancelOrderCommand{OrderID: orderID, Source: source})
	return outcome.Applied(), err
}

func (m *module) FindOrder(ctx context.Context, orderID string) (*queries.OrderDTO, bool, error) {
	order, err := m.findOrderHandler.Handle(ctx, queries.FindOrderQuery{OrderID: orderID})
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return order, true, nil
}

func (m *module) FindOrderHistory(ctx context.Context, query queries.FindOrderHistoryQuery) (*queries.OrderHistoryDTO, error) {
	return m.findHistoryHandler.Handle(ctx, query)
}
