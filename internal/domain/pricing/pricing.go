// Package pricing computes checkout totals in integer minor units.
package pricing

import (
	"fmt"
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of decimal places between the major and
// minor currency unit (cents for USD).
const MinorUnitExponent = 2

// MaxQuantity caps the quantity of a single checkout line.
const MaxQuantity = 99

var (
	// ErrEmptyCart is returned when a quote is requested for no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidPercentage is returned for discounts outside [0, 100].
	ErrInvalidPercentage = errors.New("discount percentage must be between 0 and 100")
)

// InvalidQuantityError indicates a line quantity outside [1, MaxQuantity].
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity %d for product %s must be between 1 and %d", e.Quantity, e.ProductID, MaxQuantity)
}

// AmountOverflowError indicates that a line or cart amount does not fit in
// int64 minor units.
type AmountOverflowError struct {
	ProductID string
}

func (e *AmountOverflowError) Error() string {
	return fmt.Sprintf("amount for product %s is too large", e.ProductID)
}

// NegativePriceError indicates a line with a negative unit price.
type NegativePriceError struct {
	ProductID string
}

func (e *NegativePriceError) Error() string {
	return fmt.Sprintf("unit price must not be negative for product %s", e.ProductID)
}

// Line is a single priced cart line. UnitPrice is in minor units.
type Line struct {
	ProductID string
	UnitPrice int64
	Quantity  int
}

// Amount returns UnitPrice×Quantity.
func (l Line) Amount() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Quote is the result of pricing a cart.
type Quote struct {
	Subtotal int64
	Discount int64
	Total    int64
	// Percentage is the discount percentage that was applied.
	Percentage int
}

// MinorUnits converts a major-unit price (59.99) to minor units (5999).
// Sub-minor fractions are resolved with banker's rounding so that the value
// shown to the buyer and the value charged by the provider never drift.
func MinorUnits(price decimal.Decimal) int64 {
	return price.Shift(MinorUnitExponent).RoundBank(0).IntPart()
}

// MajorUnits converts minor units back to a decimal major-unit amount.
func MajorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -MinorUnitExponent)
}

// Subtotal validates lines and returns the exact sum of their amounts. It
// fails with AmountOverflowError instead of wrapping around.
func Subtotal(lines []Line) (int64, error) {
	if len(lines) == 0 {
		return 0, ErrEmptyCart
	}

	var subtotal int64
	for _, l := range lines {
		if l.Quantity < 1 {
			return 0, &InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity}
		}
		if l.UnitPrice < 0 {
			return 0, &NegativePriceError{ProductID: l.ProductID}
		}
		if l.UnitPrice > (math.MaxInt64-subtotal)/int64(l.Quantity) {
			return 0, &AmountOverflowError{ProductID: l.ProductID}
		}
		subtotal += l.Amount()
	}
	return subtotal, nil
}

// Discount returns floor(subtotal × percentage / 100).
func Discount(subtotal int64, percentage int) (int64, error) {
	if percentage < 0 || percentage > 100 {
		return 0, ErrInvalidPercentage
	}
	if subtotal <= 0 {
		return 0, nil
	}
	// Split subtotal as 100q+r so the product cannot overflow. Integer
	// division is floor for non-negative operands.
	q, r := subtotal/100, subtotal%100
	return q*int64(percentage) + r*int64(percentage)/100, nil
}

// Calculate prices lines and applies an optional percentage discount. Pass
// zero when no coupon applies.
func Calculate(lines []Line, percentage int) (Quote, error) {
	subtotal, err := Subtotal(lines)
	if err != nil {
		return Quote{}, err
	}

	discount, err := Discount(subtotal, percentage)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Subtotal:   subtotal,
		Discount:   discount,
		Total:      subtotal - discount,
		Percentage: percentage,
	}, nil
}
