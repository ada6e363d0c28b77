package x402shop

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// minorUnitPlaces is the currency minor-unit precision for all totals.
const minorUnitPlaces = 2

// Amount is a fixed-point monetary value. All arithmetic stays in decimal
// space; binary floating point never enters totals computation. On the wire
// an Amount is a plain JSON number rounded to minor-unit precision.
type Amount struct {
	decimal.Decimal
}

// NewAmount parses a decimal string such as "0.01".
func NewAmount(value string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return Amount{d}, nil
}

// MustAmount parses a decimal string and panics on failure. For literals.
func MustAmount(value string) Amount {
	a, err := NewAmount(value)
	if err != nil {
		panic(err)
	}
	return a
}

// AmountFromDecimal wraps an existing decimal value.
func AmountFromDecimal(d decimal.Decimal) Amount {
	return Amount{d}
}

// Add returns a+b without rounding.
func (a Amount) Add(b Amount) Amount {
	return Amount{a.Decimal.Add(b.Decimal)}
}

// MulInt returns a×qty without rounding.
func (a Amount) MulInt(qty int) Amount {
	return Amount{a.Decimal.Mul(decimal.NewFromInt(int64(qty)))}
}

// RoundMinorUnit rounds half-up to the currency minor-unit precision.
func (a Amount) RoundMinorUnit() Amount {
	return Amount{a.Decimal.Round(minorUnitPlaces)}
}

// Equal reports numeric equality regardless of exponent representation.
func (a Amount) Equal(b Amount) bool {
	return a.Decimal.Equal(b.Decimal)
}

// String renders the amount at minor-unit precision.
func (a Amount) String() string {
	return a.Decimal.StringFixed(minorUnitPlaces)
}

// MarshalJSON emits the amount as an unquoted JSON number, matching the
// x402 challenge and order wire format.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted decimal strings. A JSON
// null leaves the amount unchanged.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	data = bytes.Trim(data, `"`)
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", data, err)
	}
	a.Decimal = d
	return nil
}

func zeroAmount() Amount {
	return Amount{decimal.Zero}
}
