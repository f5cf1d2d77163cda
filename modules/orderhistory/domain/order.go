// Package domain contains the order history projection and its rules.
package domain

import (
	"math"
	"slices"
	"time"
)

// Creation dates are stored and paged as Unix nanoseconds.
var (
	MinCreationDate = time.Unix(0, math.MinInt64).UTC()
	MaxCreationDate = time.Unix(0, math.MaxInt64).UTC()
)

// Order is a materialized snapshot of one order as seen by its consumer.
type Order struct {
	id             OrderID
	consumerID     ConsumerID
	status         Status
	creationDate   time.Time
	restaurantID   int64
	restaurantName string
	lineItems      []LineItem
	version        int64
}

// NewOrderParams holds the data carried by an order creation event.
type NewOrderParams struct {
	OrderID        OrderID
	ConsumerID     ConsumerID
	Status         Status
	CreationDate   time.Time
	RestaurantID   int64
	RestaurantName string
	LineItems      []LineItem
}

// NewOrder creates a projection that has not been stored yet.
// An empty status defaults to APPROVAL_PENDING and a zero creation date to now.
// Creation dates must lie between MinCreationDate and MaxCreationDate.
func NewOrder(p NewOrderParams) (*Order, error) {
	if p.OrderID.IsZero() {
		return nil, ErrInvalidOrderID
	}
	if p.ConsumerID.IsZero() {
		return nil, ErrInvalidConsumerID
	}
	status := p.Status
	if status == "" {
		status = StatusApprovalPending
	}
	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}
	creationDate := p.CreationDate.UTC()
	if p.CreationDate.IsZero() {
		creationDate = time.Now().UTC()
	}
	if creationDate.Before(MinCreationDate) || creationDate.After(MaxCreationDate) {
		return nil, ErrInvalidCreationDate
	}
	return &Order{
		id:             p.OrderID,
		consumerID:     p.ConsumerID,
		status:         status,
		creationDate:   creationDate,
		restaurantID:   p.RestaurantID,
		restaurantName: p.RestaurantName,
		lineItems:      slices.Clone(p.LineItems),
	}, nil
}

// Snapshot is the persisted form of an order.
type Snapshot struct {
	OrderID        string
	ConsumerID     string
	Status         Status
	CreationDate   time.Time
	RestaurantID   int64
	RestaurantName string
	LineItems      []LineItem
	Version        int64
}

// Reconstitute rebuilds an order from persistence.
func Reconstitute(s Snapshot) *Order {
	return &Order{
		id:             MustParseOrderID(s.OrderID),
		consumerID:     MustParseConsumerID(s.ConsumerID),
		status:         s.Status,
		creationDate:   s.CreationDate.UTC(),
		restaurantID:   s.RestaurantID,
		restaurantName: s.RestaurantName,
		lineItems:      slices.Clone(s.LineItems),
		version:        s.Version,
	}
}

func (o *Order) Snapshot() Snapshot {
	return Snapshot{
		OrderID:        o.id.String(),
		ConsumerID:     o.consumerID.String(),
		Status:         o.status,
		CreationDate:   o.creationDate,
		RestaurantID:   o.restaurantID,
		RestaurantName: o.restaurantName,
		LineItems:      slices.Clone(o.lineItems),
		Version:        o.version,
	}
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	return Reconstitute(o.Snapshot())
}

// Getters

func (o *Order) ID() OrderID             { return o.id }
func (o *Order) ConsumerID() ConsumerID  { return o.consumerID }
func (o *Order) Status() Status          { return o.status }
func (o *Order) CreationDate() time.Time { return o.creationDate }
func (o *Order) RestaurantID() int64     { return o.restaurantID }
func (o *Order) RestaurantName() string  { return o.restaurantName }
func (o *Order) LineItems() []LineItem   { return slices.Clone(o.lineItems) }

// Version is the number of times the order has been saved. Zero means the
// order has never been stored.
func (o *Order) Version() int64 { return o.version }

// Transitions. Each returns false when the order is left unchanged.

// Cancel moves the order to CANCELLED unless it is already terminal.
func (o *Order) Cancel() bool {
	return o.AdvanceTo(StatusCancelled)
}

// AdvanceTo applies a forward status transition.
func (o *Order) AdvanceTo(next Status) bool {
	if !o.status.CanTransitionTo(next) {
		return false
	}
	o.status = next
	return true
}

// Revise merges quantity revisions into matching line items. Revisions are
// metadata and are merged whatever the status, including CANCELLED.
func (o *Order) Revise(revisions []LineItemRevision) bool {
	changed := false
	for _, rev := range revisions {
		for i := range o.lineItems {
			if o.lineItems[i].MenuItemID != rev.MenuItemID || o.lineItems[i].Quantity == rev.Quantity {
				continue
			}
			o.lineItems[i].Quantity = rev.Quantity
			changed = true
		}
	}
	return changed
}

// SortsBefore reports whether o comes before other in history order:
// most recent creation date first, ties broken by ascending order ID.
func (o *Order) SortsBefore(other *Order) bool {
	return CompareHistoryKey(o.HistoryKey(), other.HistoryKey()) < 0
}

// HistoryKey is the sort key of the order within its consumer's history.
func (o *Order) HistoryKey() HistoryKey {
	return HistoryKey{CreationDate: o.creationDate, OrderID: o.id.String()}
}

// HistoryKey positions an order within a consumer's history.
type HistoryKey struct {
	CreationDate time.Time
	OrderID      string
}

// CompareHistoryKey returns a negative number when a sorts before b,
// zero when equal and a positive number otherwise.
func CompareHistoryKey(a, b HistoryKey) int {
	if c := b.CreationDate.Compare(a.CreationDate); c != 0 {
		return c
	}
	switch {
	case a.OrderID < b.OrderID:
		return -1
	case a.OrderID > b.OrderID:
		return 1
	default:
		return 0
	}
}
