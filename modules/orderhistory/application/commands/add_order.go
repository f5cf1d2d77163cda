package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/shared/types"
)

// AddOrderCommand adds a newly created order to its consumer's history.
type AddOrderCommand struct {
	OrderID        string
	ConsumerID     string
	Status         string
	CreationDate   time.Time
	RestaurantID   int64
	RestaurantName string
	LineItems      []LineItemInput
	// Source identifies the event being applied. Nil disables deduplication.
	Source *domain.SourceEvent
}

type LineItemInput struct {
	MenuItemID string
	Name       string
	Price      int64
	Currency   string
	Quantity   int
}

type AddOrderHandler struct {
	projector *Projector
}

func NewAddOrderHandler(projector *Projector) *AddOrderHandler {
	return &AddOrderHandler{projector: projector}
}

// Handle inserts the order. An order that already exists is left untouched,
// whatever its current status: repeated creation is a duplicate, not an error.
func (h *AddOrderHandler) Handle(ctx context.Context, cmd AddOrderCommand) (domain.Outcome, error) {
	order, err := newOrderFromCommand(cmd)
	if err != nil {
		return "", err
	}

	return h.projector.apply(ctx, order.ID(), cmd.Source, func(current *domain.Order) (*domain.Order, domain.Outcome) {
		if current != nil {
			return nil, domain.OutcomeNoChange
		}
		return order.Clone(), domain.OutcomeApplied
	})
}

func newOrderFromCommand(cmd AddOrderCommand) (*domain.Order, error) {
	orderID, err := domain.ParseOrderID(cmd.OrderID)
	if err != nil {
		return nil, fmt.Errorf("invalid order ID: %w", err)
	}
	consumerID, err := domain.ParseConsumerID(cmd.ConsumerID)
	if err != nil {
		return nil, fmt.Errorf("invalid consumer ID: %w", err)
	}

	var status domain.Status
	if cmd.Status != "" {
		if status, err = domain.ParseStatus(cmd.Status); err != nil {
			return nil, fmt.Errorf("invalid status %q: %w", cmd.Status, err)
		}
	}

	items := make([]domain.LineItem, 0, len(cmd.LineItems))
	for _, in := range cmd.LineItems {
		price, err := types.NewMoney(in.Price, in.Currency)
		if err != nil {
			return nil, fmt.Errorf("invalid price for menu item %s: %w", in.MenuItemID, err)
		}
		items = append(items, domain.LineItem{
			MenuItemID: in.MenuItemID,
			Name:       in.Name,
			Price:      price,
			Quantity:   in.Quantity,
		})
	}

	return domain.NewOrder(domain.NewOrderParams{
		OrderID:        orderID,
		ConsumerID:     consumerID,
		Status:         status,
		CreationDate:   cmd.CreationDate,
		RestaurantID:   cmd.RestaurantID,
		RestaurantName: cmd.RestaurantName,
		LineItems:      items,
	})
}
