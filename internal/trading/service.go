package trading

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"efriend-trader/internal/broker"
	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/logging"
	"efriend-trader/internal/market"
	"efriend-trader/internal/models"
	"efriend-trader/internal/orders"
	"efriend-trader/internal/portfolio"
	"efriend-trader/internal/resilience"
	"efriend-trader/internal/session"
	"efriend-trader/pkg/utils"
)

// Service is the single entry point for trading operations. Every call
// validates its input, resolves the session and delegates.
//
// A broker call that fails because the session expired is retried once on
// a fresh session. A call that times out marks the session stale.
type Service struct {
	broker    broker.Broker
	sessions  *session.Manager
	orders    *orders.Tracker
	portfolio *portfolio.Valuator
	guard     *resilience.Guard
	retry     utils.RetryConfig
	logger    zerolog.Logger
}

// NewService wires the trading components. Invalidated sessions drop their
// order book.
func NewService(
	b broker.Broker,
	sessions *session.Manager,
	tracker *orders.Tracker,
	valuator *portfolio.Valuator,
	guard *resilience.Guard,
	retry utils.RetryConfig,
	logger zerolog.Logger,
) *Service {
	if retry.Retryable == nil {
		retry.Retryable = apperrors.IsRetryableRead
	}
	sessions.OnInvalidate(tracker.Forget)
	return &Service{
		broker:    b,
		sessions:  sessions,
		orders:    tracker,
		portfolio: valuator,
		guard:     guard,
		retry:     retry,
		logger:    logger.With().Str("component", "trading").Logger(),
	}
}

// Login authenticates fresh and reports whether the account is a paper account.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginOutput, error) {
	sess, err := s.sessions.Login(ctx, in.Market, in.Account, in.Password)
	if err != nil {
		return nil, err
	}
	return &LoginOutput{Market: sess.Market, Account: sess.Account, IsVTS: sess.IsPaper}, nil
}

// GetAmount values the account: deposit plus every holding.
func (s *Service) GetAmount(ctx context.Context, in OrdersInput) (*models.PortfolioSnapshot, error) {
	if _, err := market.ValidateMarketCode(in.Market, in.MarketCode); err != nil {
		return nil, err
	}
	return withSession(ctx, s, in.LoginInput, "get_amount", func(sess *models.Session) (*models.PortfolioSnapshot, error) {
		return s.portfolio.GetAmount(ctx, sess, in.MarketCode)
	})
}

// GetCurrency returns the KRW per USD exchange rate.
func (s *Service) GetCurrency(ctx context.Context, in LoginInput) (decimal.Decimal, error) {
	if err := market.ValidateMarket(in.Market); err != nil {
		return decimal.Zero, err
	}
	return withSession(ctx, s, in, "get_currency", func(sess *models.Session) (decimal.Decimal, error) {
		return s.portfolio.GetCurrency(ctx, sess)
	})
}

// Buy places a buy order and returns its order number.
func (s *Service) Buy(ctx context.Context, in BuyOrSellInput) (string, error) {
	return s.submit(ctx, in, models.OrderSideBuy)
}

// Sell places a sell order and returns its order number.
func (s *Service) Sell(ctx context.Context, in BuyOrSellInput) (string, error) {
	return s.submit(ctx, in, models.OrderSideSell)
}

func (s *Service) submit(ctx context.Context, in BuyOrSellInput, side models.OrderSide) (string, error) {
	req := models.OrderRequest{
		ProductCode: in.ProductCode,
		MarketCode:  in.MarketCode,
		Side:        side,
		Count:       in.Count,
		Price:       in.Price,
	}
	// Shape once up front so bad input never costs a login.
	if _, err := market.ShapeOrderRequest(in.Market, market.AccountFields(in.Market, ""), req); err != nil {
		return "", err
	}
	return withSession(ctx, s, in.LoginInput, "place_order", func(sess *models.Session) (string, error) {
		return s.orders.Submit(ctx, sess, req)
	})
}

// Cancel cancels in.Count shares of an open order.
func (s *Service) Cancel(ctx context.Context, in CancelInput) error {
	if _, err := market.ValidateMarketCode(in.Market, in.MarketCode); err != nil {
		return err
	}
	if in.OrderNum == "" {
		return apperrors.NewValidationError("order_num", in.OrderNum, "order number is required")
	}
	_, err := withSession(ctx, s, in.LoginInput, "cancel_order", func(sess *models.Session) (struct{}, error) {
		return struct{}{}, s.orders.Cancel(ctx, sess, models.CancelRequest{
			OrderNum:    in.OrderNum,
			Count:       in.Count,
			ProductCode: in.ProductCode,
			MarketCode:  in.MarketCode,
		})
	})
	return err
}

// CancelAll cancels every open order. Per-order failures are reported in
// the batch, not as the call error. Orders whose cancel failed on an expired
// session are retried once on a fresh session if they are still open.
func (s *Service) CancelAll(ctx context.Context, in CancelAllInput) (*orders.CancelBatch, error) {
	if _, err := market.ValidateMarketCode(in.Market, in.MarketCode); err != nil {
		return nil, err
	}
	var sess *models.Session
	batch, err := withSession(ctx, s, in.LoginInput, "cancel_all", func(current *models.Session) (*orders.CancelBatch, error) {
		sess = current
		return s.orders.CancelAll(ctx, current, in.MarketCode)
	})
	if err != nil {
		return nil, err
	}

	var done, expired []orders.CancelOutcome
	for _, o := range batch.Outcomes {
		if apperrors.Is(o.Err, apperrors.ErrSessionExpired) {
			expired = append(expired, o)
		} else {
			done = append(done, o)
		}
	}
	if len(expired) > 0 {
		logger := logging.WithOperation(logging.WithSession(logging.FromContext(ctx, s.logger), sess.Account, string(sess.Market)), "cancel_all")
		logger.Info().Int("orders", len(expired)).Msg("Session expired during cancel all, re-authenticating")

		s.sessions.Invalidate(sess.Account, sess.Market)
		fresh, err := s.sessions.GetSession(ctx, sess.Account, sess.Market)
		if err != nil {
			logger.Warn().Err(err).Msg("Re-authentication failed, keeping failed cancels")
			return batch, nil
		}
		sess = fresh
		retried, err := s.orders.Recancel(ctx, fresh, in.MarketCode, expired)
		if err != nil {
			logger.Warn().Err(err).Msg("Retrying cancels failed")
			if apperrors.Is(err, apperrors.ErrBrokerTimeout) {
				s.sessions.MarkStale(fresh.Key())
			}
			return batch, nil
		}
		batch = &orders.CancelBatch{Outcomes: append(done, retried.Outcomes...)}
	}

	// A per-order expiry or timeout still applies to the whole session.
	for _, o := range batch.Failed() {
		if apperrors.Is(o.Err, apperrors.ErrSessionExpired) {
			s.sessions.Invalidate(sess.Account, sess.Market)
			break
		}
		if apperrors.Is(o.Err, apperrors.ErrBrokerTimeout) {
			s.sessions.MarkStale(sess.Key())
			break
		}
	}
	return batch, nil
}

// UnprocessedOrders lists today's open orders.
func (s *Service) UnprocessedOrders(ctx context.Context, in OrdersInput) ([]models.Order, error) {
	if _, err := market.ValidateMarketCode(in.Market, in.MarketCode); err != nil {
		return nil, err
	}
	return withSession(ctx, s, in.LoginInput, "unprocessed_orders", func(sess *models.Session) ([]models.Order, error) {
		return s.orders.ListUnprocessed(ctx, sess, in.MarketCode)
	})
}

// ProcessedOrders lists orders executed since in.StartDate.
func (s *Service) ProcessedOrders(ctx context.Context, in ProcessedOrdersInput) ([]models.Order, error) {
	if _, err := market.ShapeOrderFilter(in.Market, in.MarketCode, market.StatusProcessed, in.StartDate, utils.Now()); err != nil {
		return nil, err
	}
	return withSession(ctx, s, in.LoginInput, "processed_orders", func(sess *models.Session) ([]models.Order, error) {
		return s.orders.ListProcessed(ctx, sess, in.MarketCode, in.StartDate)
	})
}

// GetChart returns intraday bars of a product.
func (s *Service) GetChart(ctx context.Context, in ChartInput) ([]models.ChartPoint, error) {
	req, err := market.ShapeQuoteRequest(in.Market, in.MarketCode, in.ProductCode, in.Interval)
	if err != nil {
		return nil, err
	}
	return withSession(ctx, s, in.LoginInput, "get_chart", func(sess *models.Session) ([]models.ChartPoint, error) {
		return read(ctx, s, "get_chart", func(ctx context.Context) ([]models.ChartPoint, error) {
			return s.broker.GetChart(ctx, sess, req)
		})
	})
}

// GetSpread returns the ask/bid ladder of a product.
func (s *Service) GetSpread(ctx context.Context, in SpreadInput) (*models.SpreadQuote, error) {
	req, err := market.ShapeQuoteRequest(in.Market, in.MarketCode, in.ProductCode, 0)
	if err != nil {
		return nil, err
	}
	return withSession(ctx, s, in.LoginInput, "get_spread", func(sess *models.Session) (*models.SpreadQuote, error) {
		return read(ctx, s, "get_spread", func(ctx context.Context) (*models.SpreadQuote, error) {
			return s.broker.GetSpread(ctx, sess, req)
		})
	})
}

// GetHistory returns daily bars of a product, newest first.
func (s *Service) GetHistory(ctx context.Context, in SpreadInput) ([]models.ProductHistory, error) {
	req, err := market.ShapeQuoteRequest(in.Market, in.MarketCode, in.ProductCode, 0)
	if err != nil {
		return nil, err
	}
	return withSession(ctx, s, in.LoginInput, "get_history", func(sess *models.Session) ([]models.ProductHistory, error) {
		return read(ctx, s, "get_history", func(ctx context.Context) ([]models.ProductHistory, error) {
			return s.broker.GetHistory(ctx, sess, req)
		})
	})
}

// ActiveSessions returns the number of live sessions.
func (s *Service) ActiveSessions() int {
	return s.sessions.Active()
}

// Health reports live sessions and the broker circuit.
type Health struct {
	Sessions int                             `json:"sessions"`
	Breaker  *resilience.CircuitBreakerStats `json:"breaker,omitempty"`
}

// Degraded reports whether broker calls are currently short-circuited.
func (h Health) Degraded() bool {
	return h.Breaker != nil && h.Breaker.State == resilience.CircuitOpen
}

// Health returns the current Health of the service.
func (s *Service) Health() Health {
	h := Health{Sessions: s.sessions.Active()}
	if stats, ok := s.guard.BreakerStats(); ok {
		h.Breaker = &stats
	}
	return h
}

// withSession runs fn on the caller's session. An expired session is
// replaced and fn runs once more; a timeout marks the session stale.
func withSession[T any](ctx context.Context, s *Service, in LoginInput, op string, fn func(sess *models.Session) (T, error)) (T, error) {
	var zero T

	sess, err := s.sessions.Acquire(ctx, in.Market, in.Account, in.Password)
	if err != nil {
		return zero, err
	}

	v, err := fn(sess)
	if apperrors.Is(err, apperrors.ErrSessionExpired) {
		logger := logging.WithOperation(logging.WithSession(logging.FromContext(ctx, s.logger), sess.Account, string(sess.Market)), op)
		logger.Info().Err(err).Msg("Session expired, re-authenticating")

		s.sessions.Invalidate(sess.Account, sess.Market)
		if sess, err = s.sessions.GetSession(ctx, sess.Account, sess.Market); err != nil {
			return zero, err
		}
		v, err = fn(sess)
	}
	if apperrors.Is(err, apperrors.ErrBrokerTimeout) {
		s.sessions.MarkStale(sess.Key())
	}
	if err != nil {
		return zero, err
	}
	return v, nil
}

func read[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return utils.RetryWithResult(ctx, s.retry, func() (T, error) {
		return resilience.Call(ctx, s.guard, op, fn)
	})
}
