package models

import "github.com/shopspring/decimal"

// ChartPoint is one intraday bar.
type ChartPoint struct {
	ExecutedDate string // YYYYMMDD
	ExecutedTime string // HHMMSS
	Current      decimal.Decimal
	Minimum      decimal.Decimal
	Maximum      decimal.Decimal
	Opening      decimal.Decimal
	Volume       int64
	TotalVolume  int64
}

// ProductHistory is one daily bar.
type ProductHistory struct {
	StandardDate string // YYYYMMDD
	Minimum      decimal.Decimal
	Maximum      decimal.Decimal
	Opening      decimal.Decimal
	Closing      decimal.Decimal
	Volume       int64
}

// AskBid is one level of the order book.
type AskBid struct {
	Price decimal.Decimal
	Count int64
	Icdc  int64 // change in remaining quantity
}

// SpreadQuote is the ask/bid ladder of a product.
type SpreadQuote struct {
	ProductCode       string
	AcceptedTime      string
	TotalAskCount     int64
	TotalBidCount     int64
	TotalAskCountIcdc int64
	TotalBidCountIcdc int64
	Asks              []AskBid
	Bids              []AskBid
}
