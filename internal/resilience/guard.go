package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/logging"
)

// Guard runs broker calls with a deadline and breaker protection.
//
// A call runs on a context detached from the caller: cancelling the caller
// abandons the wait but leaves the broker request running until its own
// deadline, so an order that reached the broker is not cut off half way.
type Guard struct {
	timeout time.Duration
	breaker *CircuitBreaker
	logger  zerolog.Logger
}

// NewGuard creates a guard. A nil breaker disables breaker checks.
func NewGuard(timeout time.Duration, breaker *CircuitBreaker, logger zerolog.Logger) *Guard {
	return &Guard{timeout: timeout, breaker: breaker, logger: logger}
}

// BreakerStats reports the breaker of g. ok is false when g has none.
func (g *Guard) BreakerStats() (stats CircuitBreakerStats, ok bool) {
	if g.breaker == nil {
		return CircuitBreakerStats{}, false
	}
	return g.breaker.Stats(), true
}

// Timeout returns the per-call deadline.
func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

type result[T any] struct {
	value T
	err   error
}

// Call runs fn under g. A call that exceeds the deadline fails with a
// TimeoutError; a cancelled caller gets ctx.Err().
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if g.breaker != nil {
		if err := g.breaker.Allow(); err != nil {
			return zero, err
		}
	}

	logger := logging.FromContext(ctx, g.logger)
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)

	done := make(chan result[T], 1)
	go func() {
		defer cancel()
		start := time.Now()
		v, err := fn(callCtx)
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = &apperrors.TimeoutError{Op: op, After: g.timeout}
		}
		if g.breaker != nil {
			g.breaker.Record(err)
		}
		logging.LogBrokerCall(logger, op, time.Since(start), err)
		done <- result[T]{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-callCtx.Done():
		return zero, &apperrors.TimeoutError{Op: op, After: g.timeout}
	case <-ctx.Done():
		logger.Warn().Str("op", op).Msg("Caller gave up waiting; broker call continues")
		return zero, ctx.Err()
	}
}

// Do is Call for operations without a result value.
func Do(ctx context.Context, g *Guard, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
