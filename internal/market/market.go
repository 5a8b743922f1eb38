// Package market maps uniform trading requests onto the field layouts the
// broker expects for domestic and overseas equities. Nothing here performs I/O.
package market

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/models"
)

// Order division codes.
const (
	DivisionLimit  = "00"
	DivisionMarket = "01"
)

// Exchanges lists the overseas exchange codes the broker accepts.
var Exchanges = map[string]string{
	"NASD": "Nasdaq",
	"NYSE": "New York",
	"AMEX": "Amex",
	"SEHK": "Hong Kong",
	"SHAA": "Shanghai",
	"SZAA": "Shenzhen",
	"TKSE": "Tokyo",
	"HASE": "Hanoi",
	"VNSE": "Ho Chi Minh",
}

// Credentials is a login request shaped for the broker.
type Credentials struct {
	Market      models.Market
	Account     string // full account as given by the caller
	CANO        string // 8-digit account prefix
	ProductCode string // 2-digit account product code
	Password    string
}

// OrderPayload is an order request in the broker's field layout.
type OrderPayload struct {
	Market models.Market
	Side   models.OrderSide
	Fields map[string]string
}

// CancelPayload is a cancel request in the broker's field layout.
type CancelPayload struct {
	Market   models.Market
	OrderNum string
	Count    int
	Fields   map[string]string
}

// StatusFilter selects orders by broker status.
type StatusFilter string

const (
	StatusUnprocessed StatusFilter = "unprocessed"
	StatusProcessed   StatusFilter = "processed"
	StatusAll         StatusFilter = "all"
)

// OrderFilter narrows an order listing.
type OrderFilter struct {
	Market     models.Market
	MarketCode string
	Status     StatusFilter
	StartDate  string // YYYYMMDD
	EndDate    string // YYYYMMDD
}

// QuoteRequest addresses a product for market data.
type QuoteRequest struct {
	Market      models.Market
	MarketCode  string
	ProductCode string
	Interval    int // chart interval in seconds
}

// RequireMarketCode reports whether operations on m need an exchange code.
func RequireMarketCode(m models.Market) bool {
	return m == models.Overseas
}

// Currency returns the settlement currency of m.
func Currency(m models.Market) string {
	if m == models.Overseas {
		return "USD"
	}
	return "KRW"
}

// ValidateMarket rejects markets the broker does not serve.
func ValidateMarket(m models.Market) error {
	if !m.Valid() {
		return apperrors.Wrapf(apperrors.ErrMarketUnsupported, "market %q", string(m))
	}
	return nil
}

// ValidateMarketCode normalises code and checks it against the rules of m.
func ValidateMarketCode(m models.Market, code string) (string, error) {
	if err := ValidateMarket(m); err != nil {
		return "", err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if !RequireMarketCode(m) {
		if code != "" {
			return "", apperrors.NewValidationError("market_code", code, "domestic orders do not take an exchange code")
		}
		return "", nil
	}
	if code == "" {
		return "", apperrors.NewValidationError("market_code", code, "overseas orders require a 4-letter exchange code (NASD, NYSE, AMEX, ...)")
	}
	if len(code) != 4 || !isUpperAlpha(code) {
		return "", apperrors.NewValidationError("market_code", code, "exchange code must be 4 letters")
	}
	if _, ok := Exchanges[code]; !ok {
		return "", apperrors.NewValidationError("market_code", code, "unknown exchange code")
	}
	return code, nil
}

// NormalizeAccount strips separators from an account number.
func NormalizeAccount(account string) string {
	return strings.ReplaceAll(strings.TrimSpace(account), "-", "")
}

// ShapeLoginRequest splits an account into the broker's account fields.
func ShapeLoginRequest(m models.Market, account, password string) (Credentials, error) {
	if err := ValidateMarket(m); err != nil {
		return Credentials{}, err
	}
	account = NormalizeAccount(account)
	if !isDigits(account) || (len(account) != 8 && len(account) != 10) {
		return Credentials{}, apperrors.NewValidationError("account", account, "account must be 8 or 10 digits")
	}
	if password == "" {
		return Credentials{}, apperrors.NewValidationError("password", "", "password is required")
	}
	creds := AccountFields(m, account)
	creds.Password = password
	return creds, nil
}

// AccountFields splits a normalized account into the broker's account
// fields. It carries no password and is used for calls on an open session.
func AccountFields(m models.Market, account string) Credentials {
	creds := Credentials{Market: m, Account: account, CANO: account, ProductCode: "01"}
	if len(account) > 8 {
		creds.CANO = account[:8]
		creds.ProductCode = account[8:]
	}
	return creds
}

// ShapeOrderRequest converts a buy or sell request to the broker payload.
func ShapeOrderRequest(m models.Market, creds Credentials, req models.OrderRequest) (OrderPayload, error) {
	code, err := ValidateMarketCode(m, req.MarketCode)
	if err != nil {
		return OrderPayload{}, err
	}
	if strings.TrimSpace(req.ProductCode) == "" {
		return OrderPayload{}, apperrors.NewValidationError("product_code", req.ProductCode, "product code is required")
	}
	if req.Side != models.OrderSideBuy && req.Side != models.OrderSideSell {
		return OrderPayload{}, apperrors.NewValidationError("order_type", req.Side, "must be BUY or SELL")
	}
	if req.Count <= 0 {
		return OrderPayload{}, apperrors.NewValidationError("count", req.Count, "count must be positive")
	}
	if req.Price.IsNegative() {
		return OrderPayload{}, apperrors.NewValidationError("price", req.Price, "price must not be negative")
	}

	fields := map[string]string{
		"CANO":         creds.CANO,
		"ACNT_PRDT_CD": creds.ProductCode,
		"PDNO":         strings.TrimSpace(req.ProductCode),
		"ORD_QTY":      itoa(req.Count),
	}
	switch m {
	case models.Domestic:
		if req.Price.IsZero() {
			fields["ORD_DVSN"] = DivisionMarket
		} else {
			fields["ORD_DVSN"] = DivisionLimit
		}
		fields["ORD_UNPR"] = req.Price.Truncate(0).String()
	case models.Overseas:
		if !req.Price.IsPositive() {
			return OrderPayload{}, apperrors.NewValidationError("price", req.Price, "overseas orders require a limit price")
		}
		fields["OVRS_EXCG_CD"] = code
		fields["ORD_DVSN"] = DivisionLimit
		fields["OVRS_ORD_UNPR"] = req.Price.StringFixed(2)
		fields["ORD_SVR_DVSN_CD"] = "0"
	}
	return OrderPayload{Market: m, Side: req.Side, Fields: fields}, nil
}

// ShapeCancelRequest converts a cancel request to the broker payload.
func ShapeCancelRequest(m models.Market, creds Credentials, req models.CancelRequest) (CancelPayload, error) {
	code, err := ValidateMarketCode(m, req.MarketCode)
	if err != nil {
		return CancelPayload{}, err
	}
	if strings.TrimSpace(req.OrderNum) == "" {
		return CancelPayload{}, apperrors.NewValidationError("order_num", req.OrderNum, "order number is required")
	}
	if req.Count <= 0 {
		return CancelPayload{}, apperrors.NewValidationError("count", req.Count, "count must be positive")
	}
	fields := map[string]string{
		"CANO":              creds.CANO,
		"ACNT_PRDT_CD":      creds.ProductCode,
		"ORGN_ODNO":         req.OrderNum,
		"RVSE_CNCL_DVSN_CD": "02",
		"ORD_QTY":           itoa(req.Count),
	}
	if m == models.Overseas {
		if strings.TrimSpace(req.ProductCode) == "" {
			return CancelPayload{}, apperrors.NewValidationError("product_code", req.ProductCode, "overseas cancels require the product code")
		}
		fields["OVRS_EXCG_CD"] = code
		fields["PDNO"] = strings.TrimSpace(req.ProductCode)
	}
	return CancelPayload{Market: m, OrderNum: req.OrderNum, Count: req.Count, Fields: fields}, nil
}

// ShapeOrderFilter builds the filter for an order listing. An empty
// startDate means today; six-digit dates are read as YYMMDD.
func ShapeOrderFilter(m models.Market, code string, status StatusFilter, startDate string, now time.Time) (OrderFilter, error) {
	code, err := ValidateMarketCode(m, code)
	if err != nil {
		return OrderFilter{}, err
	}
	today := now.Format("20060102")
	start := strings.TrimSpace(startDate)
	switch len(start) {
	case 0:
		start = today
	case 6:
		start = "20" + start
	}
	if _, err := time.Parse("20060102", start); err != nil {
		return OrderFilter{}, apperrors.NewValidationError("start_date", startDate, "expected YYYYMMDD or YYMMDD")
	}
	if start > today {
		return OrderFilter{}, apperrors.NewValidationError("start_date", startDate, "start date is in the future")
	}
	return OrderFilter{Market: m, MarketCode: code, Status: status, StartDate: start, EndDate: today}, nil
}

// ShapeQuoteRequest addresses productCode for chart, spread and history reads.
func ShapeQuoteRequest(m models.Market, code, productCode string, interval int) (QuoteRequest, error) {
	code, err := ValidateMarketCode(m, code)
	if err != nil {
		return QuoteRequest{}, err
	}
	if strings.TrimSpace(productCode) == "" {
		return QuoteRequest{}, apperrors.NewValidationError("product_code", productCode, "product code is required")
	}
	if interval < 0 {
		return QuoteRequest{}, apperrors.NewValidationError("interval", interval, "interval must not be negative")
	}
	if interval == 0 {
		interval = 60
	}
	return QuoteRequest{Market: m, MarketCode: code, ProductCode: strings.TrimSpace(productCode), Interval: interval}, nil
}

// ParsePrice parses a decimal price string from a broker record.
func ParsePrice(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
