// Package money converts between major-unit decimals used at the API edge and
// the int64 minor units (cents) stored and computed everywhere else.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FromMajor converts a major-unit amount ("12.50") to minor units (1250),
// rounding half away from zero.
func FromMajor(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// ToMajor converts minor units to a major-unit decimal.
func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Mul multiplies a minor-unit amount by a decimal factor and rounds to a
// whole minor unit.
func Mul(minor int64, factor decimal.Decimal) int64 {
	return decimal.NewFromInt(minor).Mul(factor).Round(0).IntPart()
}

// Percent returns pct percent of minor, rounded to a whole minor unit.
func Percent(minor int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(minor).Mul(pct).Div(hundred).Round(0).IntPart()
}

// Format renders minor units with the currency code, e.g. "12.50 USD".
func Format(minor int64, currency string) string {
	return fmt.Sprintf("%s %s", ToMajor(minor).StringFixed(2), strings.ToUpper(currency))
}
