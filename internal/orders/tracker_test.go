package orders

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efriend-trader/internal/broker"
	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/market"
	"efriend-trader/internal/models"
	"efriend-trader/internal/resilience"
	"efriend-trader/internal/store"
	"efriend-trader/pkg/utils"
)

type fixture struct {
	paper   *broker.PaperBroker
	tracker *Tracker
	sess    *models.Session
	journal *store.SQLiteStore
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	pb := broker.NewPaperBroker(broker.PaperBrokerConfig{
		Prices: map[string]decimal.Decimal{
			"005930": decimal.NewFromInt(70000),
			"000660": decimal.NewFromInt(180000),
			"035720": decimal.NewFromInt(45000),
		},
		Names: map[string]string{"005930": "삼성전자"},
	})
	creds, err := market.ShapeLoginRequest(models.Domestic, "5005775101", "password")
	require.NoError(t, err)
	auth, err := pb.Authenticate(context.Background(), creds)
	require.NoError(t, err)

	journal, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	retry := utils.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	guard := resilience.NewGuard(timeout, nil, zerolog.Nop())

	return &fixture{
		paper:   pb,
		tracker: NewTracker(pb, guard, retry, journal, zerolog.Nop()),
		sess:    &models.Session{Account: creds.Account, Market: models.Domestic, Token: auth.Token, IsPaper: true},
		journal: journal,
	}
}

func (f *fixture) buy(t *testing.T, product string, count int, price int64) string {
	t.Helper()
	num, err := f.tracker.Submit(context.Background(), f.sess, models.OrderRequest{
		ProductCode: product,
		Side:        models.OrderSideBuy,
		Count:       count,
		Price:       decimal.NewFromInt(price),
	})
	require.NoError(t, err)
	return num
}

func TestSubmit_ThenListUnprocessed(t *testing.T) {
	f := newFixture(t, time.Second)
	num := f.buy(t, "005930", 10, 60000)

	open, err := f.tracker.ListUnprocessed(context.Background(), f.sess, "")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, num, open[0].OrderNum)
	assert.Equal(t, 10, open[0].Count)
	assert.Equal(t, 10, open[0].Remaining)
	assert.Equal(t, models.OrderUnprocessed, open[0].State)
	assert.Equal(t, "삼성전자", open[0].ProductName)
}

func TestSubmit_Rejected(t *testing.T) {
	f := newFixture(t, time.Second)
	f.paper.RejectOrders("005930", "APBK0919", "주문 불가 종목")

	_, err := f.tracker.Submit(context.Background(), f.sess, models.OrderRequest{
		ProductCode: "005930", Side: models.OrderSideBuy, Count: 1, Price: decimal.NewFromInt(60000),
	})
	require.ErrorIs(t, err, apperrors.ErrOrderRejected)
	code, reason := apperrors.Reason(err)
	assert.Equal(t, "APBK0919", code)
	assert.Equal(t, "주문 불가 종목", reason)
}

func TestSubmit_ValidationFailsBeforeBroker(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.tracker.Submit(context.Background(), f.sess, models.OrderRequest{
		ProductCode: "005930", Side: models.OrderSideBuy, Count: 0,
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCancel_RemovesFromBothLists(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	num := f.buy(t, "005930", 10, 60000)

	require.NoError(t, f.tracker.Cancel(ctx, f.sess, models.CancelRequest{OrderNum: num, Count: 10}))

	open, err := f.tracker.ListUnprocessed(ctx, f.sess, "")
	require.NoError(t, err)
	assert.Empty(t, open)

	done, err := f.tracker.ListProcessed(ctx, f.sess, "", "")
	require.NoError(t, err)
	assert.Empty(t, done)

	events, err := f.journal.History(ctx, f.sess.Key(), num)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, models.OrderCancelled, events[len(events)-1].State)
}

func TestCancel_Partial(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	num := f.buy(t, "005930", 10, 60000)

	require.NoError(t, f.tracker.Cancel(ctx, f.sess, models.CancelRequest{OrderNum: num, Count: 3}))

	open, err := f.tracker.ListUnprocessed(ctx, f.sess, "")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 7, open[0].Remaining)
}

func TestCancel_Errors(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	num := f.buy(t, "005930", 10, 60000)

	err := f.tracker.Cancel(ctx, f.sess, models.CancelRequest{OrderNum: "9999999999", Count: 1})
	assert.ErrorIs(t, err, apperrors.ErrOrderNotFound)

	err = f.tracker.Cancel(ctx, f.sess, models.CancelRequest{OrderNum: num, Count: 11})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = f.tracker.Cancel(ctx, f.sess, models.CancelRequest{OrderNum: num, Count: 0})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, f.paper.Fill(f.sess.Key(), num))
	_, err = f.tracker.ListProcessed(ctx, f.sess, "", "")
	require.NoError(t, err)

	err = f.tracker.Cancel(ctx, f.sess, models.CancelRequest{OrderNum: num, Count: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestCancel_UnknownLocallyIsFetchedFromBroker(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	num := f.buy(t, "005930", 5, 60000)

	// A fresh tracker without a journal has never seen the order.
	fresh := NewTracker(f.paper, resilience.NewGuard(time.Second, nil, zerolog.Nop()), utils.DefaultRetryConfig(), nil, zerolog.Nop())
	require.NoError(t, fresh.Cancel(ctx, f.sess, models.CancelRequest{OrderNum: num, Count: 5}))

	open, err := fresh.ListUnprocessed(ctx, f.sess, "")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCancelAll_OneRejected(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	first := f.buy(t, "005930", 1, 60000)
	second := f.buy(t, "000660", 2, 170000)
	third := f.buy(t, "035720", 3, 40000)
	f.paper.RejectCancel(second, "APBK1004", "처리중인 주문입니다")

	batch, err := f.tracker.CancelAll(ctx, f.sess, "")
	require.NoError(t, err)
	require.Len(t, batch.Outcomes, 3)
	assert.Len(t, batch.Cancelled(), 2)
	require.Len(t, batch.Failed(), 1)
	assert.Equal(t, second, batch.Failed()[0].OrderNum)
	assert.ErrorIs(t, batch.Failed()[0].Err, apperrors.ErrOrderRejected)

	open, err := f.tracker.ListUnprocessed(ctx, f.sess, "")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second, open[0].OrderNum)
	for _, o := range open {
		assert.NotEqual(t, first, o.OrderNum)
		assert.NotEqual(t, third, o.OrderNum)
	}
}

func TestListProcessed_ReflectsBrokerFills(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	num := f.buy(t, "005930", 4, 60000)

	f.paper.UpdatePrice("005930", decimal.NewFromInt(59500))

	done, err := f.tracker.ListProcessed(ctx, f.sess, "", "")
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, num, done[0].OrderNum)
	assert.Equal(t, models.OrderProcessed, done[0].State)
	assert.True(t, done[0].ExecutedPrice.Equal(decimal.NewFromInt(59500)))

	open, err := f.tracker.ListUnprocessed(ctx, f.sess, "")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSubmit_TimeoutIsReconciledByNextList(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	ctx := context.Background()
	f.paper.SetLatency(60 * time.Millisecond)

	_, err := f.tracker.Submit(ctx, f.sess, models.OrderRequest{
		ProductCode: "005930", Side: models.OrderSideBuy, Count: 2, Price: decimal.NewFromInt(60000),
	})
	require.ErrorIs(t, err, apperrors.ErrBrokerTimeout)

	f.paper.SetLatency(0)
	require.Eventually(t, func() bool {
		open, err := f.tracker.ListUnprocessed(ctx, f.sess, "")
		return err == nil && len(open) == 1 && open[0].Count == 2
	}, time.Second, 10*time.Millisecond)
}

func TestTracker_HydratesFromJournal(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	num := f.buy(t, "005930", 1, 60000)

	f.tracker.Forget(f.sess.Key())
	f.paper.ExpireTokens()

	// The book comes back from the journal, so the cancel is validated
	// locally without reaching the broker.
	err := f.tracker.Cancel(ctx, f.sess, models.CancelRequest{OrderNum: num, Count: 2})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, f.tracker.Purge(ctx, f.sess.Key()))
	saved, err := f.journal.LoadOrders(ctx, f.sess.Key())
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestListUnprocessed_DropsOrdersTheBrokerNoLongerHas(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	live := f.buy(t, "005930", 1, 60000)

	past := time.Now().Add(-time.Hour)
	for _, o := range []models.Order{
		{OrderNum: "0000009999", ProductCode: "000660", Side: models.OrderSideBuy, Count: 1, Remaining: 1,
			Price: decimal.NewFromInt(170000), OrderDate: "20240102", State: models.OrderUnprocessed, UpdatedAt: past},
		{OrderNum: "0000009998", ProductCode: "035720", Side: models.OrderSideBuy, Count: 2, Remaining: 2,
			Price: decimal.NewFromInt(40000), OrderDate: utils.Now().Format("20060102"), State: models.OrderUnprocessed, UpdatedAt: past},
	} {
		o := o
		require.NoError(t, f.journal.SaveOrder(ctx, f.sess.Key(), &o))
	}

	// A restarted tracker hydrates both orders from the journal.
	restarted := NewTracker(f.paper, resilience.NewGuard(time.Second, nil, zerolog.Nop()), utils.DefaultRetryConfig(), f.journal, zerolog.Nop())

	open, err := restarted.ListUnprocessed(ctx, f.sess, "")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, live, open[0].OrderNum)

	err = restarted.Cancel(ctx, f.sess, models.CancelRequest{OrderNum: "0000009998", Count: 1})
	assert.ErrorIs(t, err, apperrors.ErrOrderNotFound)

	batch, err := restarted.CancelAll(ctx, f.sess, "")
	require.NoError(t, err)
	require.Len(t, batch.Outcomes, 1)
	assert.Equal(t, live, batch.Outcomes[0].OrderNum)
	assert.Empty(t, batch.Failed())
}

func TestSubmit_SerializedWithCancelAll(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.buy(t, "005930", 1, 60000)
	}
	f.paper.SetLatency(2 * time.Millisecond)

	var wg sync.WaitGroup
	var batch *CancelBatch
	var batchErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		batch, batchErr = f.tracker.CancelAll(ctx, f.sess, "")
	}()

	submitted := make([]string, 3)
	submitErrs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			submitted[i], submitErrs[i] = f.tracker.Submit(ctx, f.sess, models.OrderRequest{
				ProductCode: "000660", Side: models.OrderSideBuy, Count: 1, Price: decimal.NewFromInt(170000),
			})
		}(i)
	}
	wg.Wait()
	f.paper.SetLatency(0)

	require.NoError(t, batchErr)
	for _, err := range submitErrs {
		require.NoError(t, err)
	}
	assert.Empty(t, batch.Failed())

	open, err := f.tracker.ListUnprocessed(ctx, f.sess, "")
	require.NoError(t, err)
	assert.Len(t, open, 6-len(batch.Cancelled()))

	done := make(map[string]bool)
	for _, o := range batch.Cancelled() {
		done[o.OrderNum] = true
	}
	for _, o := range open {
		assert.False(t, done[o.OrderNum], "cancelled order %s is still open", o.OrderNum)
	}
}
