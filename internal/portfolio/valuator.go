// Package portfolio values accounts from broker balances.
package portfolio

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"efriend-trader/internal/broker"
	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/logging"
	"efriend-trader/internal/market"
	"efriend-trader/internal/models"
	"efriend-trader/internal/resilience"
	"efriend-trader/pkg/utils"
)

// BalanceBroker is the part of the broker the valuator reads from.
type BalanceBroker interface {
	GetDeposit(ctx context.Context, sess *models.Session) (decimal.Decimal, error)
	GetHoldings(ctx context.Context, sess *models.Session, marketCode string) ([]broker.Holding, error)
	GetExchangeRate(ctx context.Context, sess *models.Session) (decimal.Decimal, error)
}

// Valuator builds portfolio snapshots. Every call reads fresh balances.
type Valuator struct {
	broker BalanceBroker
	guard  *resilience.Guard
	retry  utils.RetryConfig
	logger zerolog.Logger
}

// NewValuator creates a valuator.
func NewValuator(b BalanceBroker, guard *resilience.Guard, retry utils.RetryConfig, logger zerolog.Logger) *Valuator {
	if retry.Retryable == nil {
		retry.Retryable = apperrors.IsRetryableRead
	}
	return &Valuator{
		broker: b,
		guard:  guard,
		retry:  retry,
		logger: logger.With().Str("component", "portfolio").Logger(),
	}
}

// GetAmount returns deposit plus the value of every holding. Deposit and
// holdings are read concurrently; either failure fails the call.
func (v *Valuator) GetAmount(ctx context.Context, sess *models.Session, marketCode string) (*models.PortfolioSnapshot, error) {
	code, err := market.ValidateMarketCode(sess.Market, marketCode)
	if err != nil {
		return nil, err
	}

	var (
		deposit  decimal.Decimal
		holdings []broker.Holding
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := read(gctx, v, "get_deposit", func(ctx context.Context) (decimal.Decimal, error) {
			return v.broker.GetDeposit(ctx, sess)
		})
		deposit = d
		return err
	})
	g.Go(func() error {
		h, err := read(gctx, v, "get_holdings", func(ctx context.Context) ([]broker.Holding, error) {
			return v.broker.GetHoldings(ctx, sess, code)
		})
		holdings = h
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	unit := market.Currency(sess.Market)
	positions := make([]models.Position, 0, len(holdings))
	for _, h := range holdings {
		if h.Count <= 0 {
			continue
		}
		positions = append(positions, models.NewPosition(h.ProductCode, h.ProductName, h.Current, h.Count, unit))
	}
	snap := models.NewSnapshot(deposit, positions, unit)

	logger := logging.WithSession(logging.FromContext(ctx, v.logger), sess.Account, string(sess.Market))
	logger.Debug().
		Str("total", snap.TotalAmount.String()).
		Int("positions", len(snap.Positions)).
		Msg("Portfolio valued")
	return snap, nil
}

// GetCurrency returns the KRW per USD exchange rate.
func (v *Valuator) GetCurrency(ctx context.Context, sess *models.Session) (decimal.Decimal, error) {
	return read(ctx, v, "get_exchange_rate", func(ctx context.Context) (decimal.Decimal, error) {
		return v.broker.GetExchangeRate(ctx, sess)
	})
}

func read[T any](ctx context.Context, v *Valuator, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return utils.RetryWithResult(ctx, v.retry, func() (T, error) {
		return resilience.Call(ctx, v.guard, op, fn)
	})
}
