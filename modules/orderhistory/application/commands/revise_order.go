package commands

import (
	"context"
	"fmt"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
)

// ReviseOrderCommand updates line item quantities after an order revision.
type ReviseOrderCommand struct {
	OrderID   string
	Revisions []domain.LineItemRevision
	Source    *domain.SourceEvent
}

type ReviseOrderHandler struct {
	projector *Projector
}

func NewReviseOrderHandler(projector *Projector) *ReviseOrderHandler {
	return &ReviseOrderHandler{projector: projector}
}

func (h *ReviseOrderHandler) Handle(ctx context.Context, cmd ReviseOrderCommand) (domain.Outcome, error) {
	orderID, err := domain.ParseOrderID(cmd.OrderID)
	if err != nil {
		return "", fmt.Errorf("invalid order ID: %w", err)
	}

	return h.projector.apply(ctx, orderID, cmd.Source, updateExisting(func(order *domain.Order) bool {
		return order.Revise(cmd.Revisions)
	}))
}
