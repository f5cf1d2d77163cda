// Package types provides shared value objects used across modules
// (Shared Kernel pattern).
package types

import (
	"fmt"
)

// Money represents a monetary value with currency.
// Immutable value object - all operations return new instances.
type Money struct {
	amount   int64  // Amount in smallest currency unit (cents)
	currency string // ISO 4217 currency code, empty when unknown
}

// NewMoney validates the currency when one is given. Upstream events may carry
// prices without a currency (e.g. zero amounts), which the projection keeps.
func NewMoney(amount int64, currency string) (Money, error) {
	if currency != "" && len(currency) != 3 {
		return Money{}, fmt.Errorf("currency must be 3-letter ISO code")
	}
	return Money{amount: amount, currency: currency}, nil
}

func MustNewMoney(amount int64, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Amount() int64    { return m.amount }
func (m Money) Currency() string { return m.currency }
func (m Money) IsZero() bool     { return m.amount == 0 }

func (m Money) Multiply(factor int64) Money {
	return Money{amount: m.amount * factor, currency: m.currency}
}

func (m Money) Equals(other Money) bool {
	return m.amount == other.amount && m.currency == other.currency
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.amount, m.currency)
}
