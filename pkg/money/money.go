// Package money converts between minor-unit integers and decimal strings and
// performs the fee and proration arithmetic used when posting ledger entries.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrTooManyDecimals = errors.New("amount_too_many_decimals")
	ErrOutOfRange      = errors.New("amount_out_of_range")
)

const minorExp = 2

var hundred = decimal.NewFromInt(100)

// Parse converts a decimal string such as "1000.50" into minor units.
func Parse(input string) (int64, error) {
	d, err := decimal.NewFromString(input)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if d.Exponent() < -minorExp && !d.Equal(d.Truncate(minorExp)) {
		return 0, ErrTooManyDecimals
	}
	minor := d.Mul(hundred)
	if !minor.IsInteger() {
		return 0, ErrTooManyDecimals
	}
	if minor.Abs().GreaterThan(decimal.NewFromInt(1 << 53)) {
		return 0, ErrOutOfRange
	}
	return minor.IntPart(), nil
}

// ParsePositive is Parse restricted to amounts greater than zero.
func ParsePositive(input string) (int64, error) {
	v, err := Parse(input)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// Format renders minor units as a fixed two-decimal string.
func Format(minor int64) string {
	return decimal.New(minor, -minorExp).StringFixed(minorExp)
}

// BasisPoints returns round(amount * bps / 10000) with banker's rounding.
func BasisPoints(amount, bps int64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(10000)).
		RoundBank(0).
		IntPart()
}

// SplitFee splits a gross amount into the platform fee and the remainder owed
// to the provider. The two parts always sum to gross.
func SplitFee(gross, feeBps int64) (fee, net int64) {
	fee = BasisPoints(gross, feeBps)
	if fee > gross {
		fee = gross
	}
	if fee < 0 {
		fee = 0
	}
	return fee, gross - fee
}

// Prorate returns round(part * numerator / denominator). It is used to split
// a partial refund across the ledger accounts credited by the original payment.
func Prorate(part, numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	return decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(numerator)).
		Div(decimal.NewFromInt(denominator)).
		RoundBank(0).
		IntPart()
}
