// Package integration runs the whole stack, HTTP API to paper broker and
// order journal, the way a deployment wires it.
package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"efriend-trader/internal/api"
	"efriend-trader/internal/broker"
	"efriend-trader/internal/config"
	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/models"
	"efriend-trader/internal/orders"
	"efriend-trader/internal/portfolio"
	"efriend-trader/internal/resilience"
	"efriend-trader/internal/session"
	"efriend-trader/internal/store"
	"efriend-trader/internal/trading"
	"efriend-trader/pkg/utils"
)

const account = "5005775101"

type stack struct {
	paper   *broker.PaperBroker
	journal *store.SQLiteStore
	svc     *trading.Service
	client  *resty.Client
}

func newStack(t *testing.T) *stack {
	t.Helper()

	cfg, err := config.FromMap(map[string]interface{}{
		"accounts.domestic.account":  account,
		"accounts.domestic.password": "password",
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	journal, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "orders.db"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	paper := broker.NewPaperBroker(broker.PaperBrokerConfig{
		Prices: map[string]decimal.Decimal{
			"005930": decimal.NewFromInt(70000),
			"000660": decimal.NewFromInt(180000),
		},
	})
	logger := zerolog.Nop()
	guard := resilience.NewGuard(time.Second, resilience.NewCircuitBreaker("broker", resilience.DefaultCircuitBreakerConfig()), logger)
	retry := utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}

	svc := trading.NewService(paper,
		session.NewManager(paper, cfg, time.Second, logger),
		orders.NewTracker(paper, guard, retry, journal, logger),
		portfolio.NewValuator(paper, guard, retry, logger),
		guard, retry, logger)

	srv := httptest.NewServer(api.NewServer(svc, logger).Router())
	t.Cleanup(srv.Close)

	return &stack{
		paper:   paper,
		journal: journal,
		svc:     svc,
		client:  resty.New().SetBaseURL(srv.URL).SetTimeout(5 * time.Second),
	}
}

type orderNum struct {
	OrderNum string `json:"order_num"`
}

type order struct {
	OrderNum  string           `json:"order_num"`
	Remaining int              `json:"remaining"`
	Price     *decimal.Decimal `json:"price"`
}

// TestConcurrentOrdersShareOneLogin places orders from many clients at once
// with no prior login, then lets the market cross every limit.
func TestConcurrentOrdersShareOneLogin(t *testing.T) {
	s := newStack(t)
	const clients = 20

	var wg sync.WaitGroup
	nums := make(chan string, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var placed orderNum
			resp, err := s.client.R().
				SetBody(map[string]interface{}{"market": "domestic", "product_code": "005930", "count": 1, "price": 60000}).
				SetResult(&placed).
				Post("/stock/buy")
			if err != nil || resp.StatusCode() != http.StatusOK {
				t.Errorf("buy: err=%v status=%d body=%s", err, resp.StatusCode(), resp.String())
				return
			}
			nums <- placed.OrderNum
		}()
	}
	wg.Wait()
	close(nums)

	if got := s.paper.AuthCalls(); got != 1 {
		t.Fatalf("expected one broker login for %d concurrent orders, got %d", clients, got)
	}

	seen := make(map[string]bool)
	for n := range nums {
		if seen[n] {
			t.Fatalf("duplicate order number %s", n)
		}
		seen[n] = true
	}
	if len(seen) != clients {
		t.Fatalf("expected %d orders, got %d", clients, len(seen))
	}

	var open []order
	resp, err := s.client.R().SetBody(map[string]string{"market": "domestic"}).SetResult(&open).Post("/stock/unprocessed-orders")
	if err != nil || resp.StatusCode() != http.StatusOK {
		t.Fatalf("unprocessed: err=%v status=%d", err, resp.StatusCode())
	}
	if len(open) != clients {
		t.Fatalf("expected %d open orders, got %d", clients, len(open))
	}

	s.paper.UpdatePrice("005930", decimal.NewFromInt(59000))

	var done []order
	resp, err = s.client.R().SetBody(map[string]string{"market": "domestic"}).SetResult(&done).Post("/stock/processed-orders")
	if err != nil || resp.StatusCode() != http.StatusOK {
		t.Fatalf("processed: err=%v status=%d", err, resp.StatusCode())
	}
	if len(done) != clients {
		t.Fatalf("expected %d executed orders, got %d", clients, len(done))
	}
	for _, o := range done {
		if o.Price == nil || !o.Price.Equal(decimal.NewFromInt(59000)) {
			t.Errorf("order %s executed at %v, want 59000", o.OrderNum, o.Price)
		}
	}

	open = nil
	s.client.R().SetBody(map[string]string{"market": "domestic"}).SetResult(&open).Post("/stock/unprocessed-orders")
	if len(open) != 0 {
		t.Errorf("expected no open orders after the fill, got %d", len(open))
	}

	key := models.SessionKey{Account: account, Market: models.Domestic}
	history, err := s.journal.History(context.Background(), key, done[0].OrderNum)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) == 0 || history[len(history)-1].State != models.OrderProcessed {
		t.Errorf("journal should end in PROCESSED, got %+v", history)
	}
}

// TestPartialCancelThenCancelAll cancels part of one order over HTTP and
// sweeps the rest, with one order the broker refuses to cancel.
func TestPartialCancelThenCancelAll(t *testing.T) {
	s := newStack(t)

	place := func(code string, count int, price int64) string {
		var placed orderNum
		resp, err := s.client.R().
			SetBody(map[string]interface{}{"market": "domestic", "product_code": code, "count": count, "price": price}).
			SetResult(&placed).
			Post("/stock/buy")
		if err != nil || resp.StatusCode() != http.StatusOK {
			t.Fatalf("buy %s: err=%v status=%d", code, err, resp.StatusCode())
		}
		return placed.OrderNum
	}

	first := place("005930", 10, 65000)
	second := place("000660", 2, 170000)

	resp, err := s.client.R().
		SetBody(map[string]interface{}{"market": "domestic", "order_num": first, "count": 4}).
		Post("/stock/cancel")
	if err != nil || resp.StatusCode() != http.StatusOK {
		t.Fatalf("partial cancel: err=%v status=%d body=%s", err, resp.StatusCode(), resp.String())
	}

	var open []order
	s.client.R().SetBody(map[string]string{"market": "domestic"}).SetResult(&open).Post("/stock/unprocessed-orders")
	remaining := map[string]int{}
	for _, o := range open {
		remaining[o.OrderNum] = o.Remaining
	}
	if remaining[first] != 6 {
		t.Fatalf("expected 6 open after cancelling 4 of 10, got %d", remaining[first])
	}

	s.paper.RejectCancel(second, broker.CodeAlreadyProcessed, "이미 처리된 주문입니다")

	var sweep struct {
		Cancelled int `json:"cancelled"`
		Failed    int `json:"failed"`
	}
	resp, err = s.client.R().SetBody(map[string]string{"market": "domestic"}).SetResult(&sweep).Post("/stock/cancel-all")
	if err != nil || resp.StatusCode() != http.StatusOK {
		t.Fatalf("cancel-all: err=%v status=%d", err, resp.StatusCode())
	}
	if sweep.Cancelled != 1 || sweep.Failed != 1 {
		t.Errorf("expected 1 cancelled and 1 failed, got %+v", sweep)
	}

	open = nil
	s.client.R().SetBody(map[string]string{"market": "domestic"}).SetResult(&open).Post("/stock/unprocessed-orders")
	if len(open) != 1 || open[0].OrderNum != second {
		t.Errorf("only the refused order should stay open, got %+v", open)
	}
}

// TestExpiredTokenIsRenewedTransparently expires every broker token between
// two calls; the second call re-authenticates once and succeeds.
func TestExpiredTokenIsRenewedTransparently(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	login := trading.LoginInput{Market: models.Domestic}

	if _, err := s.svc.GetAmount(ctx, trading.OrdersInput{LoginInput: login}); err != nil {
		t.Fatalf("first amount: %v", err)
	}
	s.paper.ExpireTokens()

	snap, err := s.svc.GetAmount(ctx, trading.OrdersInput{LoginInput: login})
	if err != nil {
		t.Fatalf("amount after expiry: %v", err)
	}
	if !snap.TotalAmount.Equal(decimal.NewFromInt(10000000)) {
		t.Errorf("expected total 10,000,000, got %s", snap.TotalAmount)
	}
	if got := s.paper.AuthCalls(); got != 2 {
		t.Errorf("expected exactly one re-login, got %d logins", got)
	}
}

// TestBrokerSlowdownTimesOutWithoutLosingTheOrder lets an order placement
// outlive its deadline; the order shows up on the next list.
func TestBrokerSlowdownTimesOutWithoutLosingTheOrder(t *testing.T) {
	cfg, _ := config.FromMap(map[string]interface{}{
		"accounts.domestic.account":  account,
		"accounts.domestic.password": "password",
	})
	paper := broker.NewPaperBroker(broker.PaperBrokerConfig{
		Prices: map[string]decimal.Decimal{"005930": decimal.NewFromInt(70000)},
	})
	logger := zerolog.Nop()
	guard := resilience.NewGuard(20*time.Millisecond, nil, logger)
	retry := utils.RetryConfig{MaxAttempts: 1}
	svc := trading.NewService(paper,
		session.NewManager(paper, cfg, time.Second, logger),
		orders.NewTracker(paper, guard, retry, nil, logger),
		portfolio.NewValuator(paper, guard, retry, logger),
		guard, retry, logger)

	ctx := context.Background()
	login := trading.LoginInput{Market: models.Domestic}
	if _, err := svc.Login(ctx, login); err != nil {
		t.Fatalf("login: %v", err)
	}

	paper.SetLatency(60 * time.Millisecond)
	_, err := svc.Buy(ctx, trading.BuyOrSellInput{LoginInput: login, ProductCode: "005930", Count: 1, Price: decimal.NewFromInt(60000)})
	if !apperrors.Is(err, apperrors.ErrBrokerTimeout) {
		t.Fatalf("expected a broker timeout, got %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	paper.SetLatency(0)

	open, err := svc.UnprocessedOrders(ctx, trading.OrdersInput{LoginInput: login})
	if err != nil {
		t.Fatalf("unprocessed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("the timed out order should be reconciled from the broker, got %d open", len(open))
	}
}
