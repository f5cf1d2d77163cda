// Package queries contains the read use cases of the order history.
package queries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
)

const tracerName = "github.com/rai/orderhistory-go/modules/orderhistory/application/queries"

// OrderCache holds recently read orders. Get returns (nil, nil) on a miss.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*OrderDTO, error)
	Set(ctx context.Context, order *OrderDTO) error
}

// FindOrderQuery retrieves one order by ID.
type FindOrderQuery struct {
	OrderID string
}

type FindOrderHandler struct {
	repo   domain.OrderRepository
	cache  OrderCache
	tracer trace.Tracer
	logger *slog.Logger
}

// NewFindOrderHandler creates the handler. cache may be nil.
func NewFindOrderHandler(repo domain.OrderRepository, cache OrderCache, logger *slog.Logger) *FindOrderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FindOrderHandler{
		repo:   repo,
		cache:  cache,
		tracer: otel.Tracer(tracerName),
		logger: logger,
	}
}

// Handle returns domain.ErrOrderNotFound when the order is unknown.
// Cache failures degrade to a store read.
func (h *FindOrderHandler) Handle(ctx context.Context, query FindOrderQuery) (*OrderDTO, error) {
	ctx, span := h.tracer.Start(ctx, "orderhistory.find_order",
		trace.WithAttributes(attribute.String("order.id", query.OrderID)),
	)
	defer span.End()

	orderID, err := domain.ParseOrderID(query.OrderID)
	if err != nil {
		return nil, fmt.Errorf("invalid order ID: %w", err)
	}

	if h.cache != nil {
		cached, err := h.cache.Get(ctx, orderID.String())
		if err != nil {
			h.logger.Warn("order cache read failed", slog.String("order_id", orderID.String()), slog.Any("error", err))
		}
		if cached != nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
	}

	order, err := h.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: finding order: %w", domain.ErrStorageUnavailable, err)
	}

	dto := toOrderDTO(order)
	if h.cache != nil {
		if err := h.cache.Set(ctx, dto); err != nil {
			h.logger.Warn("order cache write failed", slog.String("order_id", dto.OrderID), slog.Any("error", err))
		}
	}
	return dto, nil
}
