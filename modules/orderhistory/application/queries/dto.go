package queries

import (
	"time"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
)

// OrderDTO is the read model of one order.
type OrderDTO struct {
	OrderID        string        `json:"orderId"`
	ConsumerID     string        `json:"consumerId"`
	Status         string        `json:"status"`
	CreationDate   time.Time     `json:"creationDate"`
	RestaurantID   int64         `json:"restaurantId"`
	RestaurantName string        `json:"restaurantName"`
	LineItems      []LineItemDTO `json:"lineItems"`
	// Version is the stored version the DTO was read from.
	Version int64 `json:"version"`
}

type LineItemDTO struct {
	MenuItemID string   `json:"menuItemId"`
	Name       string   `json:"name"`
	Price      MoneyDTO `json:"price"`
	Quantity   int      `json:"quantity"`
	Subtotal   MoneyDTO `json:"subtotal"`
}

type MoneyDTO struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

func toOrderDTO(order *domain.Order) *OrderDTO {
	lineItems := order.LineItems()
	items := make([]LineItemDTO, len(lineItems))
	for i, item := range lineItems {
		subtotal := item.Subtotal()
		items[i] = LineItemDTO{
			MenuItemID: item.MenuItemID,
			Name:       item.Name,
			Price: MoneyDTO{
				Amount:   item.Price.Amount(),
				Currency: item.Price.Currency(),
			},
			Quantity: item.Quantity,
			Subtotal: MoneyDTO{
				Amount:   subtotal.Amount(),
				Currency: subtotal.Currency(),
			},
		}
	}

	return &OrderDTO{
		OrderID:        order.ID().String(),
		ConsumerID:     order.ConsumerID().String(),
		Status:         order.Status().String(),
		CreationDate:   order.CreationDate(),
		RestaurantID:   order.RestaurantID(),
		RestaurantName: order.RestaurantName(),
		LineItems:      items,
		Version:        order.Version(),
	}
}
