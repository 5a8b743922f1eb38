package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"efriend-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "orders.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Property: saving an order any number of times leaves exactly its last
// version in the journal, and one event per distinct (state, remaining).
func TestProperty_OrderJournalKeepsLatestVersion(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	run := 0

	properties.Property("save then load returns the last saved version", prop.ForAll(
		func(remainings []int) bool {
			ctx := context.Background()
			run++
			key := models.SessionKey{Account: fmt.Sprintf("5005775%03d", run%1000), Market: models.Domestic}
			orderNum := fmt.Sprintf("%010d", run)

			order := &models.Order{
				OrderNum:    orderNum,
				ProductCode: "005930",
				Side:        models.OrderSideBuy,
				Count:       100,
				Price:       decimal.RequireFromString("70000"),
				OrderDate:   "20240515",
				State:       models.OrderUnprocessed,
			}

			wantEvents := 0
			last := -1
			for _, r := range remainings {
				order.Remaining = r
				if err := store.SaveOrder(ctx, key, order); err != nil {
					return false
				}
				if r != last {
					wantEvents++
					last = r
				}
			}

			loaded, err := store.LoadOrders(ctx, key)
			if err != nil {
				return false
			}
			var found *models.Order
			for i := range loaded {
				if loaded[i].OrderNum == orderNum {
					found = &loaded[i]
				}
			}
			if found == nil || found.Remaining != last || !found.Price.Equal(order.Price) || found.State != models.OrderUnprocessed {
				return false
			}

			events, err := store.History(ctx, key, orderNum)
			return err == nil && len(events) == wantEvents
		},
		gen.SliceOfN(5, gen.IntRange(0, 3)).SuchThat(func(v []int) bool { return len(v) > 0 }),
	))

	properties.TestingRun(t)
}

func TestSQLiteStore_LoadOrdersKeepsInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := models.SessionKey{Account: "5005775101", Market: models.Overseas}

	for _, num := range []string{"0000000003", "0000000001", "0000000002"} {
		o := &models.Order{OrderNum: num, ProductCode: "AAPL", MarketCode: "NASD", Side: models.OrderSideSell, Count: 1, Remaining: 1, Price: decimal.RequireFromString("190.25"), State: models.OrderUnprocessed}
		if err := store.SaveOrder(ctx, key, o); err != nil {
			t.Fatal(err)
		}
	}
	// An update must not move the row.
	o := &models.Order{OrderNum: "0000000003", ProductCode: "AAPL", MarketCode: "NASD", Side: models.OrderSideSell, Count: 1, Remaining: 0, Price: decimal.RequireFromString("190.25"), State: models.OrderCancelled}
	if err := store.SaveOrder(ctx, key, o); err != nil {
		t.Fatal(err)
	}

	orders, err := store.LoadOrders(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 3 {
		t.Fatalf("len = %d, want 3", len(orders))
	}
	if orders[0].OrderNum != "0000000003" || orders[0].State != models.OrderCancelled {
		t.Errorf("first order = %s/%s, want 0000000003/CANCELLED", orders[0].OrderNum, orders[0].State)
	}
	if orders[0].MarketCode != "NASD" {
		t.Errorf("market code = %q", orders[0].MarketCode)
	}

	if err := store.DeleteOrders(ctx, key); err != nil {
		t.Fatal(err)
	}
	orders, err = store.LoadOrders(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 0 {
		t.Errorf("orders after delete = %d", len(orders))
	}
}
