package portfolio

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efriend-trader/internal/broker"
	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/models"
	"efriend-trader/internal/resilience"
	"efriend-trader/pkg/utils"
)

type stubBalances struct {
	deposit     decimal.Decimal
	holdings    []broker.Holding
	depositErr  error
	holdingsErr error
	rate        decimal.Decimal
	depositHits atomic.Int32
}

func (s *stubBalances) GetDeposit(ctx context.Context, sess *models.Session) (decimal.Decimal, error) {
	s.depositHits.Add(1)
	return s.deposit, s.depositErr
}

func (s *stubBalances) GetHoldings(ctx context.Context, sess *models.Session, marketCode string) ([]broker.Holding, error) {
	return s.holdings, s.holdingsErr
}

func (s *stubBalances) GetExchangeRate(ctx context.Context, sess *models.Session) (decimal.Decimal, error) {
	return s.rate, nil
}

var domestic = &models.Session{Account: "5005775101", Market: models.Domestic, Token: "t"}

func newValuator(b BalanceBroker) *Valuator {
	retry := utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	return NewValuator(b, resilience.NewGuard(time.Second, nil, zerolog.Nop()), retry, zerolog.Nop())
}

// Property: the snapshot total is the deposit plus every position value.
func TestProperty_SnapshotTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("total = deposit + sum(current * count)", prop.ForAll(
		func(deposit int64, prices []int64, counts []int) bool {
			stub := &stubBalances{deposit: decimal.NewFromInt(deposit)}
			want := decimal.NewFromInt(deposit)
			for i, p := range prices {
				if i >= len(counts) {
					break
				}
				stub.holdings = append(stub.holdings, broker.Holding{
					ProductCode: fmt.Sprintf("%06d", i),
					Count:       counts[i],
					Current:     decimal.NewFromInt(p),
				})
				want = want.Add(decimal.NewFromInt(p).Mul(decimal.NewFromInt(int64(counts[i]))))
			}

			snap, err := newValuator(stub).GetAmount(context.Background(), domestic, "")
			if err != nil {
				return false
			}

			sum := snap.Deposit
			for _, pos := range snap.Positions {
				sum = sum.Add(pos.Price)
			}
			return snap.TotalAmount.Equal(want) && sum.Equal(snap.TotalAmount) && snap.Unit == "KRW"
		},
		gen.Int64Range(0, 1_000_000_000),
		gen.SliceOf(gen.Int64Range(1, 2_000_000)),
		gen.SliceOf(gen.IntRange(1, 10_000)),
	))

	properties.TestingRun(t)
}

func TestGetAmount_EitherFailureFailsTheCall(t *testing.T) {
	stub := &stubBalances{
		deposit:     decimal.NewFromInt(1000),
		holdingsErr: apperrors.NewBrokerError("APBK0001", "조회 오류", nil),
	}
	_, err := newValuator(stub).GetAmount(context.Background(), domestic, "")
	require.Error(t, err)
	code, _ := apperrors.Reason(err)
	assert.Equal(t, "APBK0001", code)
}

func TestGetAmount_RetriesUnavailableReads(t *testing.T) {
	stub := &stubBalances{depositErr: apperrors.ErrBrokerUnavailable}
	_, err := newValuator(stub).GetAmount(context.Background(), domestic, "")
	require.ErrorIs(t, err, apperrors.ErrBrokerUnavailable)
	assert.EqualValues(t, 3, stub.depositHits.Load())
}

func TestGetAmount_OverseasNeedsExchangeCode(t *testing.T) {
	overseas := &models.Session{Account: "5005775101", Market: models.Overseas, Token: "t"}
	_, err := newValuator(&stubBalances{}).GetAmount(context.Background(), overseas, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	snap, err := newValuator(&stubBalances{deposit: decimal.NewFromInt(5)}).GetAmount(context.Background(), overseas, "nasd")
	require.NoError(t, err)
	assert.Equal(t, "USD", snap.Unit)
	assert.Empty(t, snap.Positions)
}

func TestGetCurrency(t *testing.T) {
	rate, err := newValuator(&stubBalances{rate: decimal.RequireFromString("1385.5")}).GetCurrency(context.Background(), domestic)
	require.NoError(t, err)
	assert.Equal(t, "1385.5", rate.String())
}
