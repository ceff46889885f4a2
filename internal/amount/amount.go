// Package amount converts between human decimal strings and chain base units
// (lamports, wei, token units) without going through floating point.
package amount

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

const (
	SolDecimals  = 9  // SOL has 9 decimals (lamports)
	WeiDecimals  = 18 // ETH has 18 decimals (wei)
	USDCDecimals = 6  // USDC has 6 decimals (micro)
)

// FormatUint converts base units to a decimal string by inserting the point.
// Example: FormatUint(24981836, 9) = "0.024981836"
func FormatUint(value uint64, decimals int) string {
	return insertPoint(strconv.FormatUint(value, 10), decimals)
}

// FormatBig converts base units to a decimal string by inserting the point.
// Used for wei amounts that exceed 64 bits.
func FormatBig(value *big.Int, decimals int) string {
	if value.Sign() < 0 {
		return "-" + insertPoint(new(big.Int).Neg(value).String(), decimals)
	}
	return insertPoint(value.String(), decimals)
}

// ParseUint converts a decimal string to base units. Amounts that do not fit
// in 64 bits or carry more fractional digits than the unit supports are
// rejected, never truncated or wrapped.
func ParseUint(s string, decimals int) (uint64, error) {
	digits, err := combineDigits(s, decimals)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q out of range: %w", s, err)
	}
	return n, nil
}

// ParseBig converts a decimal string to base units of arbitrary size.
func ParseBig(s string, decimals int) (*big.Int, error) {
	digits, err := combineDigits(s, decimals)
	if err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

// Compare compares two decimal string amounts without float precision loss.
// Returns -1 if a < b, 0 if a == b, 1 if a > b, and error if parsing fails.
func Compare(a, b string, decimals int) (int, error) {
	aVal, err := ParseBig(a, decimals)
	if err != nil {
		return 0, fmt.Errorf("failed to parse amount '%s': %w", a, err)
	}
	bVal, err := ParseBig(b, decimals)
	if err != nil {
		return 0, fmt.Errorf("failed to parse amount '%s': %w", b, err)
	}
	return aVal.Cmp(bVal), nil
}

// insertPoint pads with leading zeros as needed and inserts the decimal point.
func insertPoint(s string, decimals int) string {
	for len(s) <= decimals {
		s = "0" + s
	}
	pos := len(s) - decimals
	if decimals == 0 {
		return s
	}
	return s[:pos] + "." + s[pos:]
}

// combineDigits validates the decimal string and returns the pure digit
// string scaled to base units. Signs are rejected: transfer amounts are
// unsigned by nature.
func combineDigits(s string, decimals int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty amount")
	}
	if s[0] == '+' || s[0] == '-' {
		return "", fmt.Errorf("amount must not carry a sign: %q", s)
	}

	parts := strings.Split(s, ".")
	var whole, frac string
	switch len(parts) {
	case 1:
		whole = parts[0]
	case 2:
		whole, frac = parts[0], parts[1]
	default:
		return "", fmt.Errorf("invalid decimal format: %q", s)
	}

	if whole == "" && frac == "" {
		return "", fmt.Errorf("invalid decimal format: %q", s)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return "", fmt.Errorf("invalid decimal format: %q", s)
	}

	// More fractional digits than the unit supports would silently change
	// the amount if truncated, so refuse.
	if len(frac) > decimals {
		return "", fmt.Errorf("amount %q has %d decimal places, unit supports %d", s, len(frac), decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		digits = "0"
	}
	return digits, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
