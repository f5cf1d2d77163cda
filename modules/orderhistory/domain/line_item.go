package domain

import "github.com/rai/orderhistory-go/modules/shared/types"

// LineItem is one ordered menu item.
type LineItem struct {
	MenuItemID string
	Name       string
	Price      types.Money
	Quantity   int
}

func (i LineItem) Subtotal() types.Money {
	return i.Price.Multiply(int64(i.Quantity))
}

// LineItemRevision changes the quantity of an already ordered menu item.
type LineItemRevision struct {
	MenuItemID string
	Quantity   int
}
