package domain

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
)

// Money is an amount in minor units (cents).
type Money int64

type Currency string

const bpsDenominator = 10000

func ParseCurrency(code string) (Currency, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", fmt.Errorf("%w: invalid currency %q", ErrValidation, code)
	}

	return Currency(unit.String()), nil
}

func (m Money) Add(o Money) (Money, error) {
	if (o > 0 && m > math.MaxInt64-o) || (o < 0 && m < math.MinInt64-o) {
		return 0, fmt.Errorf("%w: amount overflow", ErrValidation)
	}

	return m + o, nil
}

// SplitFee divides total into the escrowed share and the platform fee.
// The fee is rounded down so escrow + fee == total always holds.
func SplitFee(total Money, feeBps int64) (escrow Money, fee Money, err error) {
	if total <= 0 {
		return 0, 0, fmt.Errorf("%w: total amount must be positive", ErrValidation)
	}

	if feeBps < 0 || feeBps > bpsDenominator {
		return 0, 0, fmt.Errorf("%w: fee basis points out of range: %d", ErrValidation, feeBps)
	}

	if int64(total) > math.MaxInt64/bpsDenominator {
		return 0, 0, fmt.Errorf("%w: amount overflow", ErrValidation)
	}

	fee = Money(int64(total) * feeBps / bpsDenominator)
	escrow = total - fee

	return escrow, fee, nil
}
