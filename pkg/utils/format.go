// Package utils provides shared utility functions.
package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount formats a money amount in its settlement unit. KRW has no
// minor unit; everything else is shown with two decimals.
func FormatAmount(amount decimal.Decimal, unit string) string {
	negative := amount.IsNegative()
	amount = amount.Abs()

	var intPart, decPart string
	switch unit {
	case "KRW":
		intPart = amount.Round(0).String()
	default:
		parts := strings.SplitN(amount.StringFixed(2), ".", 2)
		intPart, decPart = parts[0], parts[1]
	}

	result := groupThousands(intPart)
	if decPart != "" {
		result += "." + decPart
	}
	switch unit {
	case "KRW":
		result = "₩" + result
	case "USD":
		result = "$" + result
	default:
		result = result + " " + unit
	}
	if negative {
		result = "-" + result
	}
	return result
}

// FormatQuantity formats a quantity with thousands separators.
func FormatQuantity(qty int64) string {
	s := decimal.NewFromInt(qty).String()
	if strings.HasPrefix(s, "-") {
		return "-" + groupThousands(s[1:])
	}
	return groupThousands(s)
}

// FormatSigned prefixes positive changes with a plus sign.
func FormatSigned(v int64) string {
	if v > 0 {
		return "+" + FormatQuantity(v)
	}
	return FormatQuantity(v)
}

func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
