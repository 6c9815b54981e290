// Package money centralizes the decimal arithmetic policy for the fund
// engine: amounts, shares, and NAVs are rounded to 4 decimal places with
// banker's rounding (round half to even), applied exactly once at the point
// a share or amount is computed from a NAV.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places kept on every computed amount/share.
const Scale int32 = 4

// ErrInvalidNav is returned when a conversion is attempted against a
// non-positive net value.
var ErrInvalidNav = errors.New("money: net value must be positive")

// Round applies the engine-wide rounding rule.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Scale)
}

// ShareFor converts a cash amount into fund shares at the given net value:
// share = amount / nav, rounded per the engine policy.
func ShareFor(amount, nav decimal.Decimal) (decimal.Decimal, error) {
	if nav.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidNav
	}
	return Round(amount.Div(nav)), nil
}

// AmountFor converts fund shares into a cash amount at the given net value:
// amount = share * nav, rounded per the engine policy.
func AmountFor(share, nav decimal.Decimal) decimal.Decimal {
	return Round(share.Mul(nav))
}
