// Package session establishes and caches authenticated broker sessions.
package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"efriend-trader/internal/broker"
	"efriend-trader/internal/config"
	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/logging"
	"efriend-trader/internal/market"
	"efriend-trader/internal/models"
)

// Authenticator issues broker tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, creds market.Credentials) (*broker.AuthResult, error)
}

// AccountResolver supplies the default account of a market.
type AccountResolver interface {
	DefaultAccount(m models.Market) (config.Account, error)
}

type entry struct {
	session *models.Session
	stale   bool
}

// Manager caches at most one live session per (account, market).
//
// Authentication for a key is single-flight: concurrent callers that find
// no live session share one broker login.
type Manager struct {
	auth        Authenticator
	accounts    AccountResolver
	authTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[models.SessionKey]*entry
	creds    map[models.SessionKey]market.Credentials
	hooks    []func(models.SessionKey)

	flight singleflight.Group
}

// NewManager creates a session manager.
func NewManager(auth Authenticator, accounts AccountResolver, authTimeout time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		auth:        auth,
		accounts:    accounts,
		authTimeout: authTimeout,
		logger:      logger.With().Str("component", "session").Logger(),
		now:         time.Now,
		sessions:    make(map[models.SessionKey]*entry),
		creds:       make(map[models.SessionKey]market.Credentials),
	}
}

// OnInvalidate registers fn to run whenever a session is invalidated.
func (m *Manager) OnInvalidate(fn func(models.SessionKey)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Login authenticates fresh and replaces any cached session for the key.
// An empty account falls back to the configured default of mkt.
func (m *Manager) Login(ctx context.Context, mkt models.Market, account, password string) (*models.Session, error) {
	if err := market.ValidateMarket(mkt); err != nil {
		return nil, err
	}
	creds, err := m.resolve(mkt, account, password)
	if err != nil {
		return nil, err
	}
	return m.authenticate(ctx, creds, true)
}

// GetSession returns the live session for (account, market), authenticating
// when it is absent, expired or stale. Absent sessions use the credentials
// of the last Login, or the configured default account.
func (m *Manager) GetSession(ctx context.Context, account string, mkt models.Market) (*models.Session, error) {
	if err := market.ValidateMarket(mkt); err != nil {
		return nil, err
	}

	account = market.NormalizeAccount(account)
	if account == "" {
		def, err := m.accounts.DefaultAccount(mkt)
		if err != nil {
			return nil, err
		}
		account = market.NormalizeAccount(def.Account)
	}

	key := models.SessionKey{Account: account, Market: mkt}
	if sess := m.live(key); sess != nil {
		return sess, nil
	}

	m.mu.RLock()
	creds, ok := m.creds[key]
	m.mu.RUnlock()
	if !ok {
		def, err := m.accounts.DefaultAccount(mkt)
		if err != nil || market.NormalizeAccount(def.Account) != account {
			return nil, apperrors.Wrapf(apperrors.ErrAuthentication, "no credentials for account %s, login first", logging.Mask(account))
		}
		if creds, err = market.ShapeLoginRequest(mkt, def.Account, def.Password); err != nil {
			return nil, err
		}
	}

	return m.authenticate(ctx, creds, false)
}

// Acquire is GetSession for callers that carry their own credentials. A
// live session is reused only when password matches the one it was issued
// for; otherwise the broker checks account and password again. An empty
// password defers to GetSession, an empty account to the market default.
func (m *Manager) Acquire(ctx context.Context, mkt models.Market, account, password string) (*models.Session, error) {
	if password == "" {
		return m.GetSession(ctx, account, mkt)
	}
	if err := market.ValidateMarket(mkt); err != nil {
		return nil, err
	}
	creds, err := m.resolve(mkt, account, password)
	if err != nil {
		return nil, err
	}
	if sess := m.liveFor(creds); sess != nil {
		return sess, nil
	}
	return m.authenticate(ctx, creds, false)
}

// Invalidate drops the cached session and notifies hooks.
func (m *Manager) Invalidate(account string, mkt models.Market) {
	key := models.SessionKey{Account: market.NormalizeAccount(account), Market: mkt}

	m.mu.Lock()
	delete(m.sessions, key)
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()

	logger := logging.WithSession(m.logger, key.Account, string(key.Market))
	logger.Info().Msg("Session invalidated")
	for _, fn := range hooks {
		fn(key)
	}
}

// MarkStale forces the next use of key to re-authenticate.
func (m *Manager) MarkStale(key models.SessionKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[key]; ok {
		e.stale = true
		logger := logging.WithSession(m.logger, key.Account, string(key.Market))
		logger.Warn().Msg("Session marked stale")
	}
}

// Active returns the number of cached live sessions.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	n := 0
	for _, e := range m.sessions {
		if !e.stale && !e.session.Expired(now) {
			n++
		}
	}
	return n
}

func (m *Manager) live(key models.SessionKey) *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[key]
	if !ok || e.stale || e.session.Expired(m.now()) {
		return nil
	}
	return e.session
}

// liveFor is live restricted to sessions issued for creds.
func (m *Manager) liveFor(creds market.Credentials) *models.Session {
	key := models.SessionKey{Account: creds.Account, Market: creds.Market}
	m.mu.RLock()
	known, ok := m.creds[key]
	m.mu.RUnlock()
	if !ok || subtle.ConstantTimeCompare([]byte(known.Password), []byte(creds.Password)) != 1 {
		return nil
	}
	return m.live(key)
}

func (m *Manager) resolve(mkt models.Market, account, password string) (market.Credentials, error) {
	if market.NormalizeAccount(account) == "" {
		def, err := m.accounts.DefaultAccount(mkt)
		if err != nil {
			return market.Credentials{}, err
		}
		account = def.Account
		if password == "" {
			password = def.Password
		}
	}
	return market.ShapeLoginRequest(mkt, account, password)
}

// authenticate runs one login per key and password at a time, so a caller
// only ever shares a login made with its own credentials. The login itself
// runs on a context detached from ctx; a caller that gives up only stops
// waiting.
func (m *Manager) authenticate(ctx context.Context, creds market.Credentials, force bool) (*models.Session, error) {
	key := models.SessionKey{Account: creds.Account, Market: creds.Market}
	logger := logging.WithSession(logging.FromContext(ctx, m.logger), key.Account, string(key.Market))

	ch := m.flight.DoChan(flightKey(creds), func() (interface{}, error) {
		if !force {
			if sess := m.liveFor(creds); sess != nil {
				return sess, nil
			}
		}

		authCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.authTimeout)
		defer cancel()

		start := time.Now()
		res, err := m.auth.Authenticate(authCtx, creds)
		logging.LogBrokerCall(logger, "authenticate", time.Since(start), err)
		if err != nil {
			if errors.Is(authCtx.Err(), context.DeadlineExceeded) {
				return nil, &apperrors.TimeoutError{Op: "authenticate", After: m.authTimeout}
			}
			if !apperrors.Is(err, apperrors.ErrAuthentication) && !apperrors.IsRetryableRead(err) {
				err = fmt.Errorf("%w: %w", apperrors.ErrAuthentication, err)
			}
			return nil, err
		}

		sess := &models.Session{
			Account:   creds.Account,
			Market:    creds.Market,
			Token:     res.Token,
			IsPaper:   res.IsPaper,
			IssuedAt:  m.now(),
			ExpiresAt: res.ExpiresAt,
		}

		m.mu.Lock()
		m.sessions[key] = &entry{session: sess}
		m.creds[key] = creds
		m.mu.Unlock()

		logger.Info().
			Bool("is_paper", sess.IsPaper).
			Time("expires_at", sess.ExpiresAt).
			Msg("Session established")
		return sess, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*models.Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func flightKey(creds market.Credentials) string {
	sum := sha256.Sum256([]byte(creds.Password))
	key := models.SessionKey{Account: creds.Account, Market: creds.Market}
	return key.String() + "|" + hex.EncodeToString(sum[:8])
}
