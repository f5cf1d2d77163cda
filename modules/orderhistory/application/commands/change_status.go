package commands

import (
	"context"
	"fmt"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
)

// ChangeStatusCommand moves an order forward in its lifecycle.
type ChangeStatusCommand struct {
	OrderID string
	Status  string
	Source  *domain.SourceEvent
}

type ChangeStatusHandler struct {
	projector *Projector
}

func NewChangeStatusHandler(projector *Projector) *ChangeStatusHandler {
	return &ChangeStatusHandler{projector: projector}
}

// Handle applies the transition only when it moves the order forward from a
// non-terminal status. Stale transitions report OutcomeNoChange.
func (h *ChangeStatusHandler) Handle(ctx context.Context, cmd ChangeStatusCommand) (domain.Outcome, error) {
	orderID, err := domain.ParseOrderID(cmd.OrderID)
	if err != nil {
		return "", fmt.Errorf("invalid order ID: %w", err)
	}
	status, err := domain.ParseStatus(cmd.Status)
	if err != nil {
		return "", fmt.Errorf("invalid status %q: %w", cmd.Status, err)
	}

	return h.projector.apply(ctx, orderID, cmd.Source, updateExisting(func(order *domain.Order) bool {
		return order.AdvanceTo(status)
	}))
}
