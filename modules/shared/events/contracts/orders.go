// Package contracts defines public event contracts for inter-module communication.
// Modules should import event types from here, NOT from other module's domain packages.
package contracts

import (
	"time"

	"github.com/rai/orderhistory-go/modules/shared/events"
)

// Aggregate types that produce order lifecycle events.
const (
	OrderAggregateType    = "Order"
	DeliveryAggregateType = "Delivery"
)

const (
	OrderCreatedEventType   events.EventType = "orders.OrderCreated"
	OrderApprovedEventType  events.EventType = "orders.OrderApproved"
	OrderRejectedEventType  events.EventType = "orders.OrderRejected"
	OrderRevisedEventType   events.EventType = "orders.OrderRevised"
	OrderCancelledEventType events.EventType = "orders.OrderCancelled"
	OrderPickedUpEventType  events.EventType = "delivery.OrderPickedUp"
	OrderDeliveredEventType events.EventType = "delivery.OrderDelivered"
)

// OrderEventTypes lists every event type the order history dispatches.
var OrderEventTypes = []events.EventType{
	OrderCreatedEventType,
	OrderApprovedEventType,
	OrderRejectedEventType,
	OrderRevisedEventType,
	OrderCancelledEventType,
	OrderPickedUpEventType,
	OrderDeliveredEventType,
}

type LineItem struct {
	MenuItemID string `json:"menuItemId"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
	Currency   string `json:"currency,omitempty"`
	Quantity   int    `json:"quantity"`
}

// OrderCreatedEvent carries the full initial state of an order.
type OrderCreatedEvent struct {
	OrderID        string     `json:"orderId,omitempty"`
	ConsumerID     string     `json:"consumerId"`
	RestaurantID   int64      `json:"restaurantId"`
	RestaurantName string     `json:"restaurantName"`
	LineItems      []LineItem `json:"lineItems"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// OrderStatusEvent is the payload of every event that only moves an order
// through its lifecycle (approved, rejected, cancelled, picked up, delivered).
type OrderStatusEvent struct {
	OrderID string `json:"orderId,omitempty"`
}

type RevisedLineItem struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int    `json:"quantity"`
}

// OrderRevisedEvent changes quantities of ordered menu items.
type OrderRevisedEvent struct {
	OrderID          string            `json:"orderId,omitempty"`
	RevisedLineItems []RevisedLineItem `json:"revisedLineItems"`
}
