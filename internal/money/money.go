// Package money holds the fixed-point arithmetic helpers used everywhere an
// amount is derived. All monetary values are shopspring decimals; binary
// floating point never touches money.
//
// Rounding mode is fixed system-wide to half away from zero ("half up"):
// 0.025 rounds to 0.05, 12.125 rounds to 12.13.
package money

import "github.com/shopspring/decimal"

var twenty = decimal.NewFromInt(20)

// RoundToFiveCents rounds to the nearest 0.05.
func RoundToFiveCents(d decimal.Decimal) decimal.Decimal {
	return d.Mul(twenty).Round(0).Div(twenty)
}

// RoundToCent rounds to the nearest 0.01.
func RoundToCent(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// FromString parses a decimal amount from text, e.g. config values.
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
