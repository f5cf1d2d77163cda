package domain

import "strings"

// OrderID identifies an order projection. The value is assigned upstream by the
// order service and treated as opaque here.
type OrderID struct {
	value string
}

func ParseOrderID(s string) (OrderID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return OrderID{}, ErrInvalidOrderID
	}
	return OrderID{value: s}, nil
}

// MustParseOrderID parses an order ID, panicking if invalid.
// Use only for trusted input (e.g., from database).
func MustParseOrderID(s string) OrderID {
	id, err := ParseOrderID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id OrderID) String() string { return id.value }
func (id OrderID) IsZero() bool   { return id.value == "" }
