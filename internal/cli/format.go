package cli

import (
	"time"

	"github.com/shopspring/decimal"

	"efriend-trader/internal/market"
	"efriend-trader/internal/models"
	"efriend-trader/pkg/utils"
)

// FormatMoney formats an amount in the settlement currency of m.
func FormatMoney(m models.Market, amount decimal.Decimal) string {
	return utils.FormatAmount(amount, market.Currency(m))
}

// FormatPrice formats an order price. Zero is a market order.
func FormatPrice(m models.Market, price decimal.Decimal) string {
	if price.IsZero() {
		return "MARKET"
	}
	return FormatMoney(m, price)
}

// FormatBrokerDate renders a YYYYMMDD broker date as YYYY-MM-DD. Anything
// else is returned unchanged.
func FormatBrokerDate(s string) string {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02")
}

// FormatBrokerTime renders an HHMMSS broker time as HH:MM:SS. Anything
// else is returned unchanged.
func FormatBrokerTime(s string) string {
	t, err := time.Parse("150405", s)
	if err != nil {
		return s
	}
	return t.Format("15:04:05")
}

// FormatDateTime formats a time in Seoul.
func FormatDateTime(t time.Time) string {
	return t.In(utils.SeoulLocation).Format("2006-01-02 15:04:05 MST")
}

// TruncateString truncates a string to max runes with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
