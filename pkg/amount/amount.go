// Package amount converts between base-unit integer amounts and decimal
// token amounts without going through floating point.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrNegative      = errors.New("amount must not be negative")
)

// decimalPattern matches what a user may type into an amount field:
// digits, an optional '.', digits. The empty string is allowed so a field
// can be cleared.
var decimalPattern = regexp.MustCompile(`^\d*\.?\d*$`)

// IsDecimalText reports whether s is acceptable amount-field input.
func IsDecimalText(s string) bool {
	return decimalPattern.MatchString(s)
}

// Parse turns user text into a decimal. Empty text and a lone "." parse
// to zero.
func Parse(s string) (decimal.Decimal, error) {
	if !IsDecimalText(s) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if s == "" || s == "." {
		return decimal.Zero, nil
	}
	// "5." and ".5" are valid field states but not valid decimal literals.
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// IsPositive reports whether s parses to an amount greater than zero.
func IsPositive(s string) bool {
	d, err := Parse(s)
	return err == nil && d.IsPositive()
}

// ToBaseUnits scales a token amount to its integer base-unit representation.
// Digits beyond the token's precision are truncated.
func ToBaseUnits(d decimal.Decimal, decimals int32) (*big.Int, error) {
	if d.IsNegative() {
		return nil, ErrNegative
	}
	return d.Shift(decimals).Truncate(0).BigInt(), nil
}

// ParseUnits parses decimal text and returns base units as a decimal string.
func ParseUnits(s string, decimals int32) (string, error) {
	d, err := Parse(s)
	if err != nil {
		return "", err
	}
	raw, err := ToBaseUnits(d, decimals)
	if err != nil {
		return "", err
	}
	return raw.String(), nil
}

// FromBaseUnits converts an integer base-unit string to a token amount.
func FromBaseUnits(raw string, decimals int32) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: base units %q", ErrInvalidAmount, raw)
	}
	if n.Sign() < 0 {
		return decimal.Zero, ErrNegative
	}
	return decimal.NewFromBigInt(n, -decimals), nil
}

// FormatUnits renders base units as the shortest exact decimal string.
func FormatUnits(raw string, decimals int32) (string, error) {
	d, err := FromBaseUnits(raw, decimals)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// Fixed renders d with exactly places fractional digits, rounding half away
// from zero. Used for local estimates shown while a quote is pending.
func Fixed(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
