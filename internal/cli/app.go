package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

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

// App holds the application dependencies.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Broker  broker.Broker
	Store   *store.SQLiteStore
	Service *trading.Service
}

// service wires the trading stack on first use. Commands that never talk
// to the broker leave it unbuilt.
func (a *App) service() (*trading.Service, error) {
	if a.Service != nil {
		return a.Service, nil
	}
	cfg := a.Config

	b, err := newBroker(cfg, a.Logger)
	if err != nil {
		return nil, err
	}
	a.Broker = b

	var journal orders.Journal
	if err := os.MkdirAll(filepath.Dir(cfg.Database.ConnStr), 0700); err != nil {
		a.Logger.Warn().Err(err).Msg("Cannot create journal directory, orders will not be persisted")
	} else if st, err := store.NewSQLiteStore(cfg.Database.ConnStr); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to open order journal, orders will not be persisted")
	} else {
		a.Store = st
		journal = st
		a.Logger.Debug().Str("path", cfg.Database.ConnStr).Msg("Order journal opened")
	}

	breaker := resilience.NewCircuitBreaker("broker", resilience.DefaultCircuitBreakerConfig())
	guard := resilience.NewGuard(cfg.Broker.Timeout, breaker, a.Logger)
	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Broker.ReadRetries
	retry.Retryable = apperrors.IsRetryableRead

	sessions := session.NewManager(b, cfg, cfg.Broker.AuthTimeout, a.Logger)
	tracker := orders.NewTracker(b, guard, retry, journal, a.Logger)
	valuator := portfolio.NewValuator(b, guard, retry, a.Logger)

	a.Service = trading.NewService(b, sessions, tracker, valuator, guard, retry, a.Logger)
	return a.Service, nil
}

// Close releases the journal.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

func newBroker(cfg *config.Config, logger zerolog.Logger) (broker.Broker, error) {
	if !cfg.IsPaperMode() {
		baseURL := cfg.Broker.BaseURL
		if cfg.Broker.VTS {
			baseURL = cfg.Broker.PaperBaseURL
		}
		logger.Debug().Str("base_url", baseURL).Bool("vts", cfg.Broker.VTS).Msg("REST broker initialized")
		return broker.NewRESTBroker(broker.RESTConfig{
			BaseURL:   baseURL,
			AppKey:    cfg.Broker.AppKey,
			AppSecret: cfg.Broker.AppSecret,
			Timeout:   cfg.Broker.Timeout,
			Paper:     cfg.Broker.VTS,
		}, logger), nil
	}

	deposits := make(map[models.Market]decimal.Decimal, len(cfg.Broker.PaperDeposit))
	for name, amount := range cfg.Broker.PaperDeposit {
		m, ok := models.ParseMarket(name)
		if !ok {
			return nil, fmt.Errorf("%w: paper_deposit market %q", apperrors.ErrConfigInvalid, name)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("%w: paper_deposit.%s: %v", apperrors.ErrConfigInvalid, name, err)
		}
		deposits[m] = d
	}

	// Config keys come back lower-cased.
	prices := make(map[string]decimal.Decimal, len(cfg.Broker.PaperPrices))
	for code, price := range cfg.Broker.PaperPrices {
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("%w: paper_prices.%s: %v", apperrors.ErrConfigInvalid, code, err)
		}
		prices[strings.ToUpper(code)] = d
	}

	logger.Debug().Int("products", len(prices)).Msg("Paper broker initialized")
	return broker.NewPaperBroker(broker.PaperBrokerConfig{
		Deposits: deposits,
		Prices:   prices,
	}), nil
}
