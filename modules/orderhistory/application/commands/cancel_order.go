package commands

import (
	"context"
	"fmt"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
)

// CancelOrderCommand cancels an order in the history.
type CancelOrderCommand struct {
	OrderID string
	Source  *domain.SourceEvent
}

type CancelOrderHandler struct {
	projector *Projector
}

func NewCancelOrderHandler(projector *Projector) *CancelOrderHandler {
	return &CancelOrderHandler{projector: projector}
}

// Handle returns OutcomeUnknownAggregate when the order has not been seen yet,
// which usually means the cancellation overtook the creation event.
func (h *CancelOrderHandler) Handle(ctx context.Context, cmd CancelOrderCommand) (domain.Outcome, error) {
	orderID, err := domain.ParseOrderID(cmd.OrderID)
	if err != nil {
		return "", fmt.Errorf("invalid order ID: %w", err)
	}

	return h.projector.apply(ctx, orderID, cmd.Source, updateExisting((*domain.Order).Cancel))
}
