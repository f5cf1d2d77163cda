package queries

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// FindOrderHistoryQuery retrieves one page of a consumer's orders.
type FindOrderHistoryQuery struct {
	ConsumerID string
	// Status keeps only orders currently in this status. Empty matches all.
	Status string
	// Keywords keeps orders having a line item whose name contains any of
	// them, ignoring case.
	Keywords []string
	// PageSize defaults to DefaultPageSize and is capped at MaxPageSize.
	PageSize int
	// StartKeyToken resumes after the last order of a previous page.
	StartKeyToken string
}

// OrderHistoryDTO is one page of order history.
type OrderHistoryDTO struct {
	Orders []*OrderDTO `json:"orders"`
	// NextToken is empty on the last page.
	NextToken string `json:"nextToken,omitempty"`
}

type FindOrderHistoryHandler struct {
	repo   domain.OrderRepository
	tracer trace.Tracer
}

func NewFindOrderHistoryHandler(repo domain.OrderRepository) *FindOrderHistoryHandler {
	return &FindOrderHistoryHandler{
		repo:   repo,
		tracer: otel.Tracer(tracerName),
	}
}

// Handle filters before paginating: keyword matching cannot be expressed as a
// range over the store's consumer index, so the consumer's whole history is
// read for every page. This is linear in the number of orders per consumer.
func (h *FindOrderHistoryHandler) Handle(ctx context.Context, query FindOrderHistoryQuery) (*OrderHistoryDTO, error) {
	ctx, span := h.tracer.Start(ctx, "orderhistory.find_order_history",
		trace.WithAttributes(attribute.String("consumer.id", query.ConsumerID)),
	)
	defer span.End()

	consumerID, err := domain.ParseConsumerID(query.ConsumerID)
	if err != nil {
		return nil, fmt.Errorf("invalid consumer ID: %w", err)
	}

	var status domain.Status
	if query.Status != "" {
		if status, err = domain.ParseStatus(query.Status); err != nil {
			return nil, fmt.Errorf("invalid status filter %q: %w", query.Status, err)
		}
	}

	var after *domain.HistoryKey
	if query.StartKeyToken != "" {
		key, err := decodePageToken(query.StartKeyToken)
		if err != nil {
			return nil, err
		}
		after = &key
	}

	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	orders, err := h.repo.FindByConsumer(ctx, consumerID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scanning consumer orders: %w", domain.ErrStorageUnavailable, err)
	}

	filter := newOrderFilter(status, query.Keywords)
	matched := make([]*domain.Order, 0, len(orders))
	for _, order := range orders {
		if filter.matches(order) {
			matched = append(matched, order)
		}
	}
	slices.SortFunc(matched, func(a, b *domain.Order) int {
		return domain.CompareHistoryKey(a.HistoryKey(), b.HistoryKey())
	})

	if after != nil {
		start, _ := slices.BinarySearchFunc(matched, *after, func(o *domain.Order, key domain.HistoryKey) int {
			return domain.CompareHistoryKey(o.HistoryKey(), key)
		})
		// Skip the token's own order when it is still present.
		if start < len(matched) && domain.CompareHistoryKey(matched[start].HistoryKey(), *after) == 0 {
			start++
		}
		matched = matched[start:]
	}

	result := &OrderHistoryDTO{Orders: make([]*OrderDTO, 0, min(pageSize, len(matched)))}
	page := matched[:min(pageSize, len(matched))]
	for _, order := range page {
		result.Orders = append(result.Orders, toOrderDTO(order))
	}
	if len(matched) > len(page) {
		result.NextToken = encodePageToken(page[len(page)-1].HistoryKey())
	}

	span.SetAttributes(
		attribute.Int("orderhistory.scanned", len(orders)),
		attribute.Int("orderhistory.returned", len(result.Orders)),
	)
	return result, nil
}
