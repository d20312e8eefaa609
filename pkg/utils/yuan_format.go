// Package utils provides time and money helpers for the mainland market.
package utils

import (
	"fmt"
	"math"
	"strings"
)

// FormatCNY formats an amount as yuan with thousands grouping (¥12,345.67).
func FormatCNY(amount float64) string {
	negative := amount < 0
	amount = math.Abs(amount)

	s := fmt.Sprintf("%.2f", amount)
	intPart, decPart, _ := strings.Cut(s, ".")
	formatted := groupThousands(intPart) + "." + decPart

	if negative {
		return "-¥" + formatted
	}
	return "¥" + formatted
}

// FormatCNYCompact formats an amount with the Chinese 万 and 亿 units.
// e.g., 15000 → "¥1.5万", 250000000 → "¥2.5亿"
func FormatCNYCompact(amount float64) string {
	negative := amount < 0
	amount = math.Abs(amount)

	prefix := "¥"
	if negative {
		prefix = "-¥"
	}

	switch {
	case amount >= 1e8:
		return prefix + formatWithDecimals(amount/1e8) + "亿"
	case amount >= 1e4:
		return prefix + formatWithDecimals(amount/1e4) + "万"
	default:
		return fmt.Sprintf("%s%.2f", prefix, amount)
	}
}

// ToWan converts a raw number to 万 (ten thousands).
func ToWan(amount float64) float64 {
	return amount / 1e4
}

// ToYi converts a raw number to 亿 (hundred millions).
func ToYi(amount float64) float64 {
	return amount / 1e8
}

// FormatPct formats a percentage value with sign and suffix.
// e.g., 2.45 → "+2.45%", -1.23 → "-1.23%"
func FormatPct(pct float64) string {
	if pct >= 0 {
		return fmt.Sprintf("+%.2f%%", pct)
	}
	return fmt.Sprintf("%.2f%%", pct)
}

// FormatSignedCNY formats a profit or loss with an explicit sign (+¥1,200.00).
func FormatSignedCNY(amount float64) string {
	if amount >= 0 {
		return "+" + FormatCNY(amount)
	}
	return FormatCNY(amount)
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// formatWithDecimals formats a number with up to 2 decimal places,
// removing trailing zeros.
func formatWithDecimals(n float64) string {
	s := fmt.Sprintf("%.2f", n)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}
