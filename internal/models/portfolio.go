package models

import "github.com/shopspring/decimal"

// Position is a holding valued at the current price.
type Position struct {
	ProductCode string
	ProductName string
	Current     decimal.Decimal // current unit price
	Count       int
	Price       decimal.Decimal // Current * Count
	Unit        string
}

// NewPosition values count shares at current.
func NewPosition(productCode, productName string, current decimal.Decimal, count int, unit string) Position {
	return Position{
		ProductCode: productCode,
		ProductName: productName,
		Current:     current,
		Count:       count,
		Price:       current.Mul(decimal.NewFromInt(int64(count))),
		Unit:        unit,
	}
}

// PortfolioSnapshot is the valuation of one account at one point in time.
type PortfolioSnapshot struct {
	Deposit     decimal.Decimal
	Positions   []Position
	TotalAmount decimal.Decimal
	Unit        string
}

// NewSnapshot builds a snapshot whose total is deposit plus every position value.
func NewSnapshot(deposit decimal.Decimal, positions []Position, unit string) *PortfolioSnapshot {
	total := deposit
	for _, p := range positions {
		total = total.Add(p.Price)
	}
	if positions == nil {
		positions = []Position{}
	}
	return &PortfolioSnapshot{
		Deposit:     deposit,
		Positions:   positions,
		TotalAmount: total,
		Unit:        unit,
	}
}
