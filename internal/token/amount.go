package token

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// FormatUnits renders a raw amount as a decimal string with the token's
// precision, e.g. 1500000 with 6 decimals → "1.5".
func FormatUnits(raw *uint256.Int, decimals int32) string {
	if raw == nil {
		return "0"
	}
	return decimal.NewFromBigInt(raw.ToBig(), -decimals).String()
}

// ParseUnits converts a human amount ("1.5") into raw units. Fractional
// digits beyond the token's precision are rejected rather than rounded.
func ParseUnits(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse amount %q: negative", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("parse amount %q: more than %d decimals", s, decimals)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("parse amount %q: overflows uint256", s)
	}
	return v, nil
}

// ParseRaw parses a base-10 raw amount.
func ParseRaw(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse raw amount %q: %w", s, err)
	}
	return v, nil
}
