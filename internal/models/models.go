// Package models provides domain models for the trading application.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Market represents the market an account trades on.
type Market string

const (
	Domestic Market = "domestic"
	Overseas Market = "overseas"
)

// Markets lists every supported market.
var Markets = []Market{Domestic, Overseas}

// ParseMarket parses a market name. Unknown names return ok=false.
func ParseMarket(s string) (Market, bool) {
	switch Market(strings.ToLower(strings.TrimSpace(s))) {
	case Domestic:
		return Domestic, true
	case Overseas:
		return Overseas, true
	default:
		return "", false
	}
}

// Valid reports whether m is a supported market.
func (m Market) Valid() bool {
	return m == Domestic || m == Overseas
}

// SessionKey identifies a broker session.
type SessionKey struct {
	Account string
	Market  Market
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s|%s", k.Account, k.Market)
}

// Session is an authenticated broker session for one account on one market.
type Session struct {
	Account   string
	Market    Market
	Token     string
	IsPaper   bool // VTS (simulated trading) account
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Key returns the cache key of the session.
func (s *Session) Key() SessionKey {
	return SessionKey{Account: s.Account, Market: s.Market}
}

// Expired reports whether the session is expired at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}
