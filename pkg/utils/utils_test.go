package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"efriend-trader/internal/models"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount string
		unit   string
		want   string
	}{
		{"0", "KRW", "₩0"},
		{"999", "KRW", "₩999"},
		{"1234567", "KRW", "₩1,234,567"},
		{"-50000", "KRW", "-₩50,000"},
		{"1234.5", "USD", "$1,234.50"},
		{"10", "EUR", "10.00 EUR"},
	}
	for _, tt := range tests {
		got := FormatAmount(decimal.RequireFromString(tt.amount), tt.unit)
		assert.Equal(t, tt.want, got, "FormatAmount(%s, %s)", tt.amount, tt.unit)
	}
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "12", FormatQuantity(12))
	assert.Equal(t, "1,000,000", FormatQuantity(1000000))
	assert.Equal(t, "-4,500", FormatQuantity(-4500))
	assert.Equal(t, "+300", FormatSigned(300))
}

func TestSessionOpen(t *testing.T) {
	// Wednesday 2024-05-15
	assert.True(t, SessionOpen(models.Domestic, time.Date(2024, 5, 15, 10, 0, 0, 0, SeoulLocation)))
	assert.False(t, SessionOpen(models.Domestic, time.Date(2024, 5, 15, 15, 30, 0, 0, SeoulLocation)))
	assert.False(t, SessionOpen(models.Domestic, time.Date(2024, 5, 18, 10, 0, 0, 0, SeoulLocation)))
	assert.True(t, SessionOpen(models.Overseas, time.Date(2024, 5, 15, 10, 0, 0, 0, NewYorkLocation)))
	assert.False(t, SessionOpen(models.Overseas, time.Date(2024, 5, 15, 9, 0, 0, 0, NewYorkLocation)))
}
