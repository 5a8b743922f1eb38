// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"efriend-trader/internal/market"
	"efriend-trader/internal/models"
)

// Broker defines the interface for broker operations.
//
// Reads may be repeated safely. PlaceOrder and CancelOrder are not
// idempotent and must never be retried without first listing orders.
type Broker interface {
	// Authentication
	Authenticate(ctx context.Context, creds market.Credentials) (*AuthResult, error)

	// Orders
	PlaceOrder(ctx context.Context, sess *models.Session, payload market.OrderPayload) (*OrderResult, error)
	CancelOrder(ctx context.Context, sess *models.Session, payload market.CancelPayload) error
	ListOrders(ctx context.Context, sess *models.Session, filter market.OrderFilter) ([]OrderRecord, error)

	// Balance
	GetDeposit(ctx context.Context, sess *models.Session) (decimal.Decimal, error)
	GetHoldings(ctx context.Context, sess *models.Session, marketCode string) ([]Holding, error)

	// Market Data
	GetChart(ctx context.Context, sess *models.Session, req market.QuoteRequest) ([]models.ChartPoint, error)
	GetSpread(ctx context.Context, sess *models.Session, req market.QuoteRequest) (*models.SpreadQuote, error)
	GetHistory(ctx context.Context, sess *models.Session, req market.QuoteRequest) ([]models.ProductHistory, error)
	GetExchangeRate(ctx context.Context, sess *models.Session) (decimal.Decimal, error)
}

// AuthResult is the outcome of a successful authentication.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	IsPaper   bool
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	OrderNum  string
	OrderTime string // HHMMSS
}

// OrderStatus is the broker-reported status of an order.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

// OrderRecord is a raw order as listed by the broker.
type OrderRecord struct {
	OrderNum       string
	OriginOrderNum string
	MarketCode     string
	ProductCode    string
	ProductName    string
	Side           models.OrderSide
	Count          int
	Executed       int
	Remaining      int
	Price          decimal.Decimal
	ExecutedPrice  decimal.Decimal
	OrderDate      string // YYYYMMDD
	Status         OrderStatus
}

// State maps the broker status onto the tracked lifecycle.
// Rejected orders never rest at the broker and are treated as cancelled.
func (r OrderRecord) State() models.OrderState {
	switch r.Status {
	case StatusFilled:
		return models.OrderProcessed
	case StatusCancelled, StatusRejected:
		return models.OrderCancelled
	default:
		return models.OrderUnprocessed
	}
}

// Holding is a position as reported by the broker.
type Holding struct {
	ProductCode string
	ProductName string
	Count       int
	Current     decimal.Decimal
}
