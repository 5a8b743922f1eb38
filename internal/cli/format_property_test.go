package cli

import (
	"regexp"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"efriend-trader/internal/models"
)

// For any amount, FormatMoney uses the market's currency symbol, groups
// thousands, and keeps cents only for USD.
func TestProperty_MoneyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	grouped := regexp.MustCompile(`^\d{1,3}(,\d{3})*$`)

	properties.Property("domestic amounts are whole won", prop.ForAll(
		func(amount int64) bool {
			formatted := FormatMoney(models.Domestic, decimal.NewFromInt(amount))
			digits := strings.TrimPrefix(formatted, "-")
			if !strings.HasPrefix(digits, "₩") {
				t.Logf("missing ₩ prefix: %s", formatted)
				return false
			}
			if (amount < 0) != strings.HasPrefix(formatted, "-") {
				return false
			}
			return grouped.MatchString(strings.TrimPrefix(digits, "₩"))
		},
		gen.Int64Range(-1e12, 1e12),
	))

	properties.Property("overseas amounts keep two decimals", prop.ForAll(
		func(cents int64) bool {
			amount := decimal.New(cents, -2)
			formatted := FormatMoney(models.Overseas, amount)
			body := strings.TrimPrefix(strings.TrimPrefix(formatted, "-"), "$")
			parts := strings.Split(body, ".")
			if len(parts) != 2 || len(parts[1]) != 2 {
				t.Logf("expected two decimals: %s", formatted)
				return false
			}
			back, err := decimal.NewFromString(strings.ReplaceAll(parts[0], ",", "") + "." + parts[1])
			if err != nil {
				return false
			}
			return back.Equal(amount.Abs())
		},
		gen.Int64Range(-1e10, 1e10),
	))

	properties.Property("truncation never exceeds the limit", prop.ForAll(
		func(s string, n int) bool {
			return len([]rune(TruncateString(s, n))) <= n
		},
		gen.AnyString(),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}

func TestFormatPriceExamples(t *testing.T) {
	testCases := []struct {
		market   models.Market
		price    decimal.Decimal
		expected string
	}{
		{models.Domestic, decimal.Zero, "MARKET"},
		{models.Domestic, decimal.NewFromInt(70000), "₩70,000"},
		{models.Domestic, decimal.NewFromInt(1234567), "₩1,234,567"},
		{models.Overseas, decimal.RequireFromString("190.5"), "$190.50"},
		{models.Overseas, decimal.RequireFromString("1234.567"), "$1,234.57"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			result := FormatPrice(tc.market, tc.price)
			if result != tc.expected {
				t.Errorf("FormatPrice(%s, %s) = %s, want %s", tc.market, tc.price, result, tc.expected)
			}
		})
	}
}

func TestBrokerDateTimeExamples(t *testing.T) {
	testCases := []struct {
		in       string
		format   func(string) string
		expected string
	}{
		{"20261016", FormatBrokerDate, "2026-10-16"},
		{"261016", FormatBrokerDate, "261016"},
		{"", FormatBrokerDate, ""},
		{"093015", FormatBrokerTime, "09:30:15"},
		{"9:30", FormatBrokerTime, "9:30"},
	}

	for _, tc := range testCases {
		if got := tc.format(tc.in); got != tc.expected {
			t.Errorf("format(%q) = %q, want %q", tc.in, got, tc.expected)
		}
	}
}

func TestDisplayWidthCountsHangulTwice(t *testing.T) {
	if w := displayWidth("삼성전자"); w != 8 {
		t.Errorf("displayWidth(삼성전자) = %d, want 8", w)
	}
	if w := displayWidth(ColorRed + "매수" + ColorReset); w != 4 {
		t.Errorf("displayWidth with colour codes = %d, want 4", w)
	}
}
