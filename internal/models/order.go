package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "efriend-trader/internal/errors"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Name returns the display name of the side.
func (s OrderSide) Name() string {
	switch s {
	case OrderSideBuy:
		return "매수"
	case OrderSideSell:
		return "매도"
	default:
		return string(s)
	}
}

// OrderState is the lifecycle state of a tracked order.
type OrderState string

const (
	// OrderSubmitted only exists while a submit call is in flight.
	OrderSubmitted   OrderState = "SUBMITTED"
	OrderUnprocessed OrderState = "UNPROCESSED"
	OrderProcessed   OrderState = "PROCESSED"
	OrderCancelled   OrderState = "CANCELLED"
)

// Terminal reports whether no transition leaves the state.
func (s OrderState) Terminal() bool {
	return s == OrderProcessed || s == OrderCancelled
}

// CanTransition reports whether an order may move from one state to another.
func CanTransition(from, to OrderState) bool {
	switch from {
	case OrderSubmitted:
		return to == OrderUnprocessed
	case OrderUnprocessed:
		return to == OrderProcessed || to == OrderCancelled
	default:
		return false
	}
}

// Order represents a broker order tracked for a session.
type Order struct {
	OrderNum       string
	OriginOrderNum string
	MarketCode     string
	ProductCode    string
	ProductName    string
	Side           OrderSide
	Count          int // ordered quantity
	Remaining      int // quantity still open at the broker
	Price          decimal.Decimal
	ExecutedPrice  decimal.Decimal
	OrderDate      string // YYYYMMDD
	State          OrderState
	UpdatedAt      time.Time
}

// TransitionTo moves the order to the next state.
func (o *Order) TransitionTo(to OrderState) error {
	if o.State == to {
		return nil
	}
	if !CanTransition(o.State, to) {
		return apperrors.NewOrderError(o.OrderNum, o.ProductCode, "transition",
			fmt.Sprintf("%s -> %s", o.State, to), apperrors.ErrInvalidState)
	}
	o.State = to
	o.UpdatedAt = time.Now()
	return nil
}

// OrderRequest is a uniform buy or sell request.
type OrderRequest struct {
	ProductCode string
	MarketCode  string
	Side        OrderSide
	Count       int
	Price       decimal.Decimal
}

// CancelRequest is a uniform cancel request.
type CancelRequest struct {
	OrderNum    string
	Count       int
	ProductCode string
	MarketCode  string
}
