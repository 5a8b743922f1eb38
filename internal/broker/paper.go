package broker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/market"
	"efriend-trader/internal/models"
	"efriend-trader/pkg/utils"
)

// Broker reason codes returned by the simulator.
const (
	CodeTokenExpired      = "EGW00123"
	CodeInvalidCredential = "EGW00103"
	CodeInsufficientFunds = "APBK0952"
	CodeInsufficientQty   = "APBK0986"
	CodeOrderNotFound     = "APBK0557"
	CodeAlreadyProcessed  = "APBK1004"
	CodeCancelQtyExceeded = "APBK1013"
	CodeUnknownProduct    = "APBK0001"
)

// PaperBroker implements the Broker interface for paper trading simulation.
type PaperBroker struct {
	cfg PaperBrokerConfig

	tokens   map[string]paperToken
	accounts map[models.SessionKey]*paperAccount
	prices   map[string]decimal.Decimal

	// Fault injection
	placeFaults  map[string]*apperrors.BrokerError // by product code
	cancelFaults map[string]*apperrors.BrokerError // by order number
	latency      time.Duration

	orderCounter int64
	authCalls    atomic.Int64

	mu sync.Mutex
}

// PaperBrokerConfig holds configuration for paper broker.
type PaperBrokerConfig struct {
	// Seed cash per market for every new paper account.
	Deposits map[models.Market]decimal.Decimal
	// Price table by product code.
	Prices map[string]decimal.Decimal
	// Display names by product code.
	Names        map[string]string
	ExchangeRate decimal.Decimal
	// Accepted account/password pairs. Nil accepts any non-empty password.
	Accounts map[string]string
	TokenTTL time.Duration
}

type paperToken struct {
	key       models.SessionKey
	expiresAt time.Time
}

type paperHolding struct {
	productCode string
	marketCode  string
	count       int
}

type paperAccount struct {
	deposit  decimal.Decimal
	holdings map[string]*paperHolding
	orders   map[string]*OrderRecord
	seq      []string
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	if cfg.Deposits == nil {
		cfg.Deposits = map[models.Market]decimal.Decimal{
			models.Domestic: decimal.NewFromInt(10000000), // 1천만원
			models.Overseas: decimal.NewFromInt(10000),
		}
	}
	if cfg.ExchangeRate.IsZero() {
		cfg.ExchangeRate = decimal.NewFromInt(1300)
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}

	prices := make(map[string]decimal.Decimal, len(cfg.Prices))
	for code, price := range cfg.Prices {
		prices[code] = price
	}

	return &PaperBroker{
		cfg:          cfg,
		tokens:       make(map[string]paperToken),
		accounts:     make(map[models.SessionKey]*paperAccount),
		prices:       prices,
		placeFaults:  make(map[string]*apperrors.BrokerError),
		cancelFaults: make(map[string]*apperrors.BrokerError),
	}
}

// Authenticate issues a paper token. Every paper session is a VTS session.
func (p *PaperBroker) Authenticate(ctx context.Context, creds market.Credentials) (*AuthResult, error) {
	p.authCalls.Add(1)
	p.simulateLatency()

	if creds.Password == "" {
		return nil, apperrors.NewBrokerError(CodeInvalidCredential, "비밀번호가 없습니다", apperrors.ErrAuthentication)
	}
	if p.cfg.Accounts != nil {
		if pw, ok := p.cfg.Accounts[creds.Account]; !ok || pw != creds.Password {
			return nil, apperrors.NewBrokerError(CodeInvalidCredential, "계좌 또는 비밀번호가 일치하지 않습니다", apperrors.ErrAuthentication)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := models.SessionKey{Account: creds.Account, Market: creds.Market}
	token := uuid.NewString()
	expiresAt := time.Now().Add(p.cfg.TokenTTL)
	p.tokens[token] = paperToken{key: key, expiresAt: expiresAt}
	p.account(key)

	return &AuthResult{Token: token, ExpiresAt: expiresAt, IsPaper: true}, nil
}

// PlaceOrder simulates order placement. Marketable orders fill at once,
// the rest rest as open orders until the price crosses.
func (p *PaperBroker) PlaceOrder(ctx context.Context, sess *models.Session, payload market.OrderPayload) (*OrderResult, error) {
	p.simulateLatency()

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, err := p.authorize(sess)
	if err != nil {
		return nil, err
	}

	productCode := payload.Fields["PDNO"]
	if fault, ok := p.placeFaults[productCode]; ok {
		return nil, fault
	}

	qty, err := strconv.Atoi(payload.Fields["ORD_QTY"])
	if err != nil || qty <= 0 {
		return nil, apperrors.NewBrokerError("APBK0919", "주문수량 오류", apperrors.ErrValidation)
	}

	limit := market.ParsePrice(payload.Fields["ORD_UNPR"])
	if payload.Market == models.Overseas {
		limit = market.ParsePrice(payload.Fields["OVRS_ORD_UNPR"])
	}
	isMarket := payload.Fields["ORD_DVSN"] == market.DivisionMarket

	current, known := p.prices[productCode]
	if !known && isMarket {
		return nil, apperrors.NewBrokerError(CodeUnknownProduct, "종목코드 오류", nil)
	}

	reference := limit
	if isMarket {
		reference = current
	}

	switch payload.Side {
	case models.OrderSideBuy:
		need := reference.Mul(decimal.NewFromInt(int64(qty)))
		if need.GreaterThan(acct.deposit.Sub(acct.openBuyValue())) {
			return nil, apperrors.NewBrokerError(CodeInsufficientFunds, "주문가능금액을 초과 했습니다", nil)
		}
	case models.OrderSideSell:
		held := 0
		if h, ok := acct.holdings[productCode]; ok {
			held = h.count
		}
		if qty > held-acct.openSellQty(productCode) {
			return nil, apperrors.NewBrokerError(CodeInsufficientQty, "주문가능수량을 초과 했습니다", nil)
		}
	}

	p.orderCounter++
	now := utils.Now()
	rec := &OrderRecord{
		OrderNum:    fmt.Sprintf("%010d", p.orderCounter),
		MarketCode:  payload.Fields["OVRS_EXCG_CD"],
		ProductCode: productCode,
		ProductName: p.cfg.Names[productCode],
		Side:        payload.Side,
		Count:       qty,
		Remaining:   qty,
		Price:       limit,
		OrderDate:   now.Format("20060102"),
		Status:      StatusOpen,
	}
	acct.orders[rec.OrderNum] = rec
	acct.seq = append(acct.seq, rec.OrderNum)

	if known && (isMarket || marketable(rec, current)) {
		acct.fill(rec, current)
	}

	return &OrderResult{OrderNum: rec.OrderNum, OrderTime: now.Format("150405")}, nil
}

// CancelOrder cancels payload.Count shares of a resting order.
func (p *PaperBroker) CancelOrder(ctx context.Context, sess *models.Session, payload market.CancelPayload) error {
	p.simulateLatency()

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, err := p.authorize(sess)
	if err != nil {
		return err
	}

	if fault, ok := p.cancelFaults[payload.OrderNum]; ok {
		return fault
	}

	rec, ok := acct.orders[payload.OrderNum]
	if !ok {
		return apperrors.NewBrokerError(CodeOrderNotFound, "주문 내역이 없습니다", apperrors.ErrOrderNotFound)
	}
	if rec.Status != StatusOpen {
		return apperrors.NewBrokerError(CodeAlreadyProcessed, "이미 처리된 주문입니다", apperrors.ErrInvalidState)
	}
	if payload.Count > rec.Remaining {
		return apperrors.NewBrokerError(CodeCancelQtyExceeded, "취소가능수량을 초과 했습니다", apperrors.ErrValidation)
	}

	rec.Remaining -= payload.Count
	if rec.Remaining == 0 {
		rec.Status = StatusCancelled
	}
	return nil
}

// ListOrders returns the account's orders matching filter in placement order.
func (p *PaperBroker) ListOrders(ctx context.Context, sess *models.Session, filter market.OrderFilter) ([]OrderRecord, error) {
	p.simulateLatency()

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, err := p.authorize(sess)
	if err != nil {
		return nil, err
	}

	records := make([]OrderRecord, 0, len(acct.seq))
	for _, num := range acct.seq {
		rec := acct.orders[num]
		if filter.MarketCode != "" && rec.MarketCode != filter.MarketCode {
			continue
		}
		if filter.StartDate != "" && rec.OrderDate < filter.StartDate {
			continue
		}
		if filter.EndDate != "" && rec.OrderDate > filter.EndDate {
			continue
		}
		switch filter.Status {
		case market.StatusUnprocessed:
			if rec.Status != StatusOpen {
				continue
			}
		case market.StatusProcessed:
			if rec.Executed == 0 {
				continue
			}
		}
		records = append(records, *rec)
	}
	return records, nil
}

// GetDeposit returns the cash balance.
func (p *PaperBroker) GetDeposit(ctx context.Context, sess *models.Session) (decimal.Decimal, error) {
	p.simulateLatency()

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, err := p.authorize(sess)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.deposit, nil
}

// GetHoldings returns held positions priced from the price table.
func (p *PaperBroker) GetHoldings(ctx context.Context, sess *models.Session, marketCode string) ([]Holding, error) {
	p.simulateLatency()

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, err := p.authorize(sess)
	if err != nil {
		return nil, err
	}

	holdings := make([]Holding, 0, len(acct.holdings))
	for code, h := range acct.holdings {
		if h.count == 0 {
			continue
		}
		if marketCode != "" && h.marketCode != marketCode {
			continue
		}
		holdings = append(holdings, Holding{
			ProductCode: code,
			ProductName: p.cfg.Names[code],
			Count:       h.count,
			Current:     p.prices[code],
		})
	}
	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].ProductCode < holdings[j].ProductCode
	})
	return holdings, nil
}

// GetChart returns flat intraday bars at the table price.
func (p *PaperBroker) GetChart(ctx context.Context, sess *models.Session, req market.QuoteRequest) ([]models.ChartPoint, error) {
	price, err := p.quote(sess, req.ProductCode)
	if err != nil {
		return nil, err
	}

	const bars = 30
	interval := time.Duration(req.Interval) * time.Second
	now := time.Now().Truncate(interval)
	points := make([]models.ChartPoint, 0, bars)
	for i := bars - 1; i >= 0; i-- {
		ts := now.Add(-time.Duration(i) * interval)
		points = append(points, models.ChartPoint{
			ExecutedDate: ts.Format("20060102"),
			ExecutedTime: ts.Format("150405"),
			Current:      price,
			Minimum:      price,
			Maximum:      price,
			Opening:      price,
		})
	}
	return points, nil
}

// GetSpread returns a ten-level book around the table price.
func (p *PaperBroker) GetSpread(ctx context.Context, sess *models.Session, req market.QuoteRequest) (*models.SpreadQuote, error) {
	price, err := p.quote(sess, req.ProductCode)
	if err != nil {
		return nil, err
	}

	tick := tickSize(req.Market, price)
	quote := &models.SpreadQuote{
		ProductCode:  req.ProductCode,
		AcceptedTime: time.Now().Format("150405"),
	}
	for i := 1; i <= 10; i++ {
		step := tick.Mul(decimal.NewFromInt(int64(i)))
		quote.Asks = append(quote.Asks, models.AskBid{Price: price.Add(step)})
		quote.Bids = append(quote.Bids, models.AskBid{Price: price.Sub(step)})
	}
	return quote, nil
}

// GetHistory returns flat daily bars at the table price.
func (p *PaperBroker) GetHistory(ctx context.Context, sess *models.Session, req market.QuoteRequest) ([]models.ProductHistory, error) {
	price, err := p.quote(sess, req.ProductCode)
	if err != nil {
		return nil, err
	}

	const days = 30
	today := utils.Now()
	history := make([]models.ProductHistory, 0, days)
	for i := 0; i < days; i++ {
		history = append(history, models.ProductHistory{
			StandardDate: today.AddDate(0, 0, -i).Format("20060102"),
			Minimum:      price,
			Maximum:      price,
			Opening:      price,
			Closing:      price,
		})
	}
	return history, nil
}

// GetExchangeRate returns the configured KRW per USD rate.
func (p *PaperBroker) GetExchangeRate(ctx context.Context, sess *models.Session) (decimal.Decimal, error) {
	p.simulateLatency()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.authorize(sess); err != nil {
		return decimal.Zero, err
	}
	return p.cfg.ExchangeRate, nil
}

// UpdatePrice sets the table price and fills any order it crosses.
func (p *PaperBroker) UpdatePrice(productCode string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices[productCode] = price
	for _, acct := range p.accounts {
		for _, num := range acct.seq {
			rec := acct.orders[num]
			if rec.ProductCode == productCode && rec.Status == StatusOpen && marketable(rec, price) {
				acct.fill(rec, price)
			}
		}
	}
}

// Fill executes a resting order at its limit price.
func (p *PaperBroker) Fill(key models.SessionKey, orderNum string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[key]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	rec, ok := acct.orders[orderNum]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if rec.Status != StatusOpen {
		return apperrors.ErrInvalidState
	}
	acct.fill(rec, rec.Price)
	return nil
}

// SeedHolding gives an account count shares of productCode.
func (p *PaperBroker) SeedHolding(key models.SessionKey, productCode, marketCode string, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct := p.account(key)
	acct.holdings[productCode] = &paperHolding{productCode: productCode, marketCode: marketCode, count: count}
}

// RejectOrders makes every placement for productCode fail with code.
func (p *PaperBroker) RejectOrders(productCode, code, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placeFaults[productCode] = apperrors.NewBrokerError(code, message, nil)
}

// RejectCancel makes every cancel of orderNum fail with code.
func (p *PaperBroker) RejectCancel(orderNum, code, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelFaults[orderNum] = apperrors.NewBrokerError(code, message, nil)
}

// SetLatency delays every call by d. The delay ignores the caller's
// context, like a request already on the wire.
func (p *PaperBroker) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
}

// ExpireTokens invalidates every issued token.
func (p *PaperBroker) ExpireTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = make(map[string]paperToken)
}

// AuthCalls returns the number of Authenticate calls received.
func (p *PaperBroker) AuthCalls() int64 {
	return p.authCalls.Load()
}

func (p *PaperBroker) simulateLatency() {
	p.mu.Lock()
	d := p.latency
	p.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

// authorize checks the session token. Must hold p.mu.
func (p *PaperBroker) authorize(sess *models.Session) (*paperAccount, error) {
	if sess == nil {
		return nil, apperrors.NewBrokerError(CodeTokenExpired, "token 이 없습니다", apperrors.ErrSessionExpired)
	}
	tok, ok := p.tokens[sess.Token]
	if !ok || tok.key != sess.Key() || !time.Now().Before(tok.expiresAt) {
		return nil, apperrors.NewBrokerError(CodeTokenExpired, "기간이 만료된 token 입니다", apperrors.ErrSessionExpired)
	}
	return p.account(tok.key), nil
}

func (p *PaperBroker) quote(sess *models.Session, productCode string) (decimal.Decimal, error) {
	p.simulateLatency()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.authorize(sess); err != nil {
		return decimal.Zero, err
	}
	price, ok := p.prices[productCode]
	if !ok {
		return decimal.Zero, apperrors.NewBrokerError(CodeUnknownProduct, "종목코드 오류", nil)
	}
	return price, nil
}

// account returns the paper account for key, creating it. Must hold p.mu.
func (p *PaperBroker) account(key models.SessionKey) *paperAccount {
	acct, ok := p.accounts[key]
	if !ok {
		acct = &paperAccount{
			deposit:  p.cfg.Deposits[key.Market],
			holdings: make(map[string]*paperHolding),
			orders:   make(map[string]*OrderRecord),
		}
		p.accounts[key] = acct
	}
	return acct
}

func (a *paperAccount) openBuyValue() decimal.Decimal {
	total := decimal.Zero
	for _, rec := range a.orders {
		if rec.Status == StatusOpen && rec.Side == models.OrderSideBuy {
			total = total.Add(rec.Price.Mul(decimal.NewFromInt(int64(rec.Remaining))))
		}
	}
	return total
}

func (a *paperAccount) openSellQty(productCode string) int {
	qty := 0
	for _, rec := range a.orders {
		if rec.Status == StatusOpen && rec.Side == models.OrderSideSell && rec.ProductCode == productCode {
			qty += rec.Remaining
		}
	}
	return qty
}

// fill executes the remaining quantity of rec at price.
func (a *paperAccount) fill(rec *OrderRecord, price decimal.Decimal) {
	qty := rec.Remaining
	value := price.Mul(decimal.NewFromInt(int64(qty)))

	h, ok := a.holdings[rec.ProductCode]
	if !ok {
		h = &paperHolding{productCode: rec.ProductCode, marketCode: rec.MarketCode}
		a.holdings[rec.ProductCode] = h
	}
	if rec.Side == models.OrderSideBuy {
		a.deposit = a.deposit.Sub(value)
		h.count += qty
	} else {
		a.deposit = a.deposit.Add(value)
		h.count -= qty
	}

	rec.Executed += qty
	rec.Remaining = 0
	rec.ExecutedPrice = price
	rec.Status = StatusFilled
}

func marketable(rec *OrderRecord, price decimal.Decimal) bool {
	if rec.Price.IsZero() {
		return true
	}
	if rec.Side == models.OrderSideBuy {
		return rec.Price.GreaterThanOrEqual(price)
	}
	return rec.Price.LessThanOrEqual(price)
}

// tickSize follows the KRX price band table for domestic products.
func tickSize(m models.Market, price decimal.Decimal) decimal.Decimal {
	if m == models.Overseas {
		return decimal.NewFromFloat(0.01)
	}
	bands := []struct {
		below int64
		tick  int64
	}{
		{2000, 1},
		{5000, 5},
		{20000, 10},
		{50000, 50},
		{200000, 100},
		{500000, 500},
	}
	for _, b := range bands {
		if price.LessThan(decimal.NewFromInt(b.below)) {
			return decimal.NewFromInt(b.tick)
		}
	}
	return decimal.NewFromInt(1000)
}
