package models

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "efriend-trader/internal/errors"
)

var allStates = []OrderState{OrderSubmitted, OrderUnprocessed, OrderProcessed, OrderCancelled}

// Property: for any sequence of requested transitions, an order only ever
// moves along SUBMITTED -> UNPROCESSED -> {PROCESSED, CANCELLED} and never
// leaves a terminal state.
func TestProperty_OrderStateMachine(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("transitions follow the lifecycle", prop.ForAll(
		func(steps []int) bool {
			o := &Order{OrderNum: "0000000001", State: OrderSubmitted}
			for _, s := range steps {
				from := o.State
				to := allStates[s%len(allStates)]
				err := o.TransitionTo(to)

				switch {
				case from == to:
					if err != nil || o.State != from {
						return false
					}
				case CanTransition(from, to):
					if err != nil || o.State != to {
						return false
					}
				default:
					if !errors.Is(err, apperrors.ErrInvalidState) || o.State != from {
						t.Logf("bad transition %s -> %s accepted (err=%v)", from, to, err)
						return false
					}
				}
				if from.Terminal() && o.State != from {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(allStates)-1)),
	))

	properties.TestingRun(t)
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]OrderState]bool{
		{OrderSubmitted, OrderUnprocessed}: true,
		{OrderUnprocessed, OrderProcessed}: true,
		{OrderUnprocessed, OrderCancelled}: true,
	}
	for _, from := range allStates {
		for _, to := range allStates {
			if got := CanTransition(from, to); got != allowed[[2]OrderState{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}
