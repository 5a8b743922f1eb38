package api

import (
	"github.com/shopspring/decimal"

	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/models"
	"efriend-trader/internal/orders"
)

// Money fields are decimal strings so no precision is lost in transit.

type errorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

type currencyResponse struct {
	Currency decimal.Decimal `json:"currency"`
}

type orderNumResponse struct {
	OrderNum string `json:"order_num"`
}

type stockResponse struct {
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	Current     decimal.Decimal `json:"current"`
	Count       int             `json:"count"`
	Price       decimal.Decimal `json:"price"`
	Unit        string          `json:"unit"`
}

type amountResponse struct {
	Deposit     decimal.Decimal `json:"deposit"`
	Stocks      []stockResponse `json:"stocks"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type orderResponse struct {
	OrderNum       string           `json:"order_num"`
	OrderDate      string           `json:"order_date"`
	OriginOrderNum string           `json:"origin_order_num"`
	ProductCode    string           `json:"product_code"`
	ProductName    string           `json:"product_name,omitempty"`
	MarketCode     string           `json:"market_code,omitempty"`
	Count          int              `json:"count"`
	Remaining      int              `json:"remaining"`
	OrderType      string           `json:"order_type"`
	OrderTypeName  string           `json:"order_type_name"`
	Price          *decimal.Decimal `json:"price,omitempty"`
}

type cancelOutcomeResponse struct {
	OrderNum    string `json:"order_num"`
	ProductCode string `json:"product_code"`
	Count       int    `json:"count"`
	Cancelled   bool   `json:"cancelled"`
	Detail      string `json:"detail,omitempty"`
	Code        string `json:"code,omitempty"`
}

type cancelAllResponse struct {
	Cancelled int                     `json:"cancelled"`
	Failed    int                     `json:"failed"`
	Orders    []cancelOutcomeResponse `json:"orders"`
}

type chartResponse struct {
	ExecutedDate string          `json:"executed_date"`
	ExecutedTime string          `json:"executed_time"`
	Current      decimal.Decimal `json:"current"`
	Minimum      decimal.Decimal `json:"minimum"`
	Maximum      decimal.Decimal `json:"maximum"`
	Opening      decimal.Decimal `json:"opening"`
	Volume       int64           `json:"volume"`
	TotalVolume  int64           `json:"total_volume"`
}

type askBidResponse struct {
	Price decimal.Decimal `json:"price"`
	Count int64           `json:"count"`
	Icdc  int64           `json:"icdc"`
}

type spreadResponse struct {
	AcceptedTime      string           `json:"accepted_time"`
	TotalAskCount     int64            `json:"total_ask_count"`
	TotalBidCount     int64            `json:"total_bid_count"`
	TotalAskCountIcdc int64            `json:"total_ask_count_icdc"`
	TotalBidCountIcdc int64            `json:"total_bid_count_icdc"`
	Asks              []askBidResponse `json:"asks"`
	Bids              []askBidResponse `json:"bids"`
}

type historyResponse struct {
	StandardDate string          `json:"standard_date"`
	Minimum      decimal.Decimal `json:"minimum"`
	Maximum      decimal.Decimal `json:"maximum"`
	Opening      decimal.Decimal `json:"opening"`
	Closing      decimal.Decimal `json:"closing"`
	Volume       int64           `json:"volume"`
}

func toAmount(snap *models.PortfolioSnapshot) amountResponse {
	out := amountResponse{
		Deposit:     snap.Deposit,
		Stocks:      make([]stockResponse, 0, len(snap.Positions)),
		TotalAmount: snap.TotalAmount,
	}
	for _, p := range snap.Positions {
		out.Stocks = append(out.Stocks, stockResponse{
			ProductCode: p.ProductCode,
			ProductName: p.ProductName,
			Current:     p.Current,
			Count:       p.Count,
			Price:       p.Price,
			Unit:        p.Unit,
		})
	}
	return out
}

// toOrders renders orders; executed lists carry the execution price.
func toOrders(list []models.Order, executed bool) []orderResponse {
	out := make([]orderResponse, 0, len(list))
	for _, o := range list {
		r := orderResponse{
			OrderNum:       o.OrderNum,
			OrderDate:      o.OrderDate,
			OriginOrderNum: o.OriginOrderNum,
			ProductCode:    o.ProductCode,
			ProductName:    o.ProductName,
			MarketCode:     o.MarketCode,
			Count:          o.Count,
			Remaining:      o.Remaining,
			OrderType:      string(o.Side),
			OrderTypeName:  o.Side.Name(),
		}
		if executed {
			price := o.ExecutedPrice
			r.Price = &price
		}
		out = append(out, r)
	}
	return out
}

func toCancelAll(batch *orders.CancelBatch) cancelAllResponse {
	out := cancelAllResponse{
		Cancelled: len(batch.Cancelled()),
		Failed:    len(batch.Failed()),
		Orders:    make([]cancelOutcomeResponse, 0, len(batch.Outcomes)),
	}
	for _, o := range batch.Outcomes {
		r := cancelOutcomeResponse{
			OrderNum:    o.OrderNum,
			ProductCode: o.ProductCode,
			Count:       o.Count,
			Cancelled:   o.Err == nil,
		}
		if o.Err != nil {
			r.Detail = o.Err.Error()
			r.Code, _ = apperrors.Reason(o.Err)
		}
		out.Orders = append(out.Orders, r)
	}
	return out
}

func toChart(points []models.ChartPoint) []chartResponse {
	out := make([]chartResponse, 0, len(points))
	for _, p := range points {
		out = append(out, chartResponse{
			ExecutedDate: p.ExecutedDate,
			ExecutedTime: p.ExecutedTime,
			Current:      p.Current,
			Minimum:      p.Minimum,
			Maximum:      p.Maximum,
			Opening:      p.Opening,
			Volume:       p.Volume,
			TotalVolume:  p.TotalVolume,
		})
	}
	return out
}

func toSpread(q *models.SpreadQuote) spreadResponse {
	return spreadResponse{
		AcceptedTime:      q.AcceptedTime,
		TotalAskCount:     q.TotalAskCount,
		TotalBidCount:     q.TotalBidCount,
		TotalAskCountIcdc: q.TotalAskCountIcdc,
		TotalBidCountIcdc: q.TotalBidCountIcdc,
		Asks:              toAskBids(q.Asks),
		Bids:              toAskBids(q.Bids),
	}
}

func toAskBids(levels []models.AskBid) []askBidResponse {
	out := make([]askBidResponse, 0, len(levels))
	for _, l := range levels {
		out = append(out, askBidResponse{Price: l.Price, Count: l.Count, Icdc: l.Icdc})
	}
	return out
}

func toHistory(history []models.ProductHistory) []historyResponse {
	out := make([]historyResponse, 0, len(history))
	for _, h := range history {
		out = append(out, historyResponse{
			StandardDate: h.StandardDate,
			Minimum:      h.Minimum,
			Maximum:      h.Maximum,
			Opening:      h.Opening,
			Closing:      h.Closing,
			Volume:       h.Volume,
		})
	}
	return out
}
