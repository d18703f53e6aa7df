package util

import (
	"strconv"
	"strings"
)

// ParseFloat parses a float field, reporting whether it was present and valid.
func ParseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NormalizeSymbol upper-cases and trims a trading symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
