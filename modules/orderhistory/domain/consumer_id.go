package domain

import "strings"

// ConsumerID references the consumer that owns an order.
// It is the partition key of the order history.
type ConsumerID struct {
	value string
}

func ParseConsumerID(s string) (ConsumerID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ConsumerID{}, ErrInvalidConsumerID
	}
	return ConsumerID{value: s}, nil
}

// MustParseConsumerID parses a consumer ID, panicking if invalid.
// Use only for trusted input (e.g., from database).
func MustParseConsumerID(s string) ConsumerID {
	id, err := ParseConsumerID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ConsumerID) String() string { return id.value }
func (id ConsumerID) IsZero() bool   { return id.value == "" }
