// Package trading is the facade over sessions, orders and balances.
package trading

import (
	"github.com/shopspring/decimal"

	"efriend-trader/internal/models"
)

// LoginInput identifies the account a call acts on. An empty account uses
// the configured default of the market.
type LoginInput struct {
	Market   models.Market `json:"market" binding:"required"`
	Account  string        `json:"account,omitempty"`
	Password string        `json:"password,omitempty"`
}

// LoginOutput is the result of a login.
type LoginOutput struct {
	Market  models.Market `json:"market"`
	Account string        `json:"account"`
	IsVTS   bool          `json:"is_vts"`
}

// BuyOrSellInput is a buy or sell request. A zero price on the domestic
// market places a market order.
type BuyOrSellInput struct {
	LoginInput
	ProductCode string          `json:"product_code" binding:"required"`
	MarketCode  string          `json:"market_code,omitempty"`
	Count       int             `json:"count"`
	Price       decimal.Decimal `json:"price"`
}

// OrdersInput selects orders or balances, optionally on one exchange.
type OrdersInput struct {
	LoginInput
	MarketCode string `json:"market_code,omitempty"`
}

// ProcessedOrdersInput selects executed orders since StartDate (YYMMDD or
// YYYYMMDD, empty for today).
type ProcessedOrdersInput struct {
	OrdersInput
	StartDate string `json:"start_date,omitempty"`
}

// CancelInput cancels Count shares of OrderNum.
type CancelInput struct {
	LoginInput
	OrderNum    string `json:"order_num" binding:"required"`
	Count       int    `json:"count"`
	MarketCode  string `json:"market_code,omitempty"`
	ProductCode string `json:"product_code,omitempty"`
}

// CancelAllInput cancels every open order, optionally on one exchange.
type CancelAllInput struct {
	LoginInput
	MarketCode string `json:"market_code,omitempty"`
}

// ChartInput requests intraday bars. Interval is in seconds, 60 when zero.
type ChartInput struct {
	LoginInput
	ProductCode string `json:"product_code" binding:"required"`
	MarketCode  string `json:"market_code,omitempty"`
	Interval    int    `json:"interval,omitempty"`
}

// SpreadInput addresses a product for spread and history reads.
type SpreadInput struct {
	LoginInput
	ProductCode string `json:"product_code" binding:"required"`
	MarketCode  string `json:"market_code,omitempty"`
}
