package broker

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"efriend-trader/internal/market"
	"efriend-trader/internal/models"
)

func newTestPaper(t *testing.T) (*PaperBroker, *models.Session) {
	t.Helper()
	pb := NewPaperBroker(PaperBrokerConfig{
		Deposits: map[models.Market]decimal.Decimal{models.Domestic: decimal.NewFromInt(100000000)},
		Prices:   map[string]decimal.Decimal{"005930": decimal.NewFromInt(70000)},
		Names:    map[string]string{"005930": "삼성전자"},
	})
	creds, err := market.ShapeLoginRequest(models.Domestic, "5005775101", "password")
	if err != nil {
		t.Fatal(err)
	}
	auth, err := pb.Authenticate(context.Background(), creds)
	if err != nil {
		t.Fatal(err)
	}
	return pb, &models.Session{Account: creds.Account, Market: models.Domestic, Token: auth.Token, IsPaper: auth.IsPaper}
}

// Property: market orders at an unchanged price never create or destroy
// value: deposit plus holdings at the table price stays constant.
func TestProperty_PaperFillsConserveValue(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("deposit + holdings value is invariant under fills", prop.ForAll(
		func(qtys []int, sells []bool) bool {
			pb, sess := newTestPaper(t)
			pb.SeedHolding(sess.Key(), "005930", "", 100)
			creds := market.Credentials{Market: models.Domestic, Account: sess.Account, CANO: sess.Account[:8], ProductCode: sess.Account[8:], Password: "password"}
			ctx := context.Background()
			price := decimal.NewFromInt(70000)
			initial := decimal.NewFromInt(100000000).Add(price.Mul(decimal.NewFromInt(100)))

			for i, qty := range qtys {
				side := models.OrderSideBuy
				if i < len(sells) && sells[i] {
					side = models.OrderSideSell
				}
				payload, err := market.ShapeOrderRequest(models.Domestic, creds, models.OrderRequest{
					ProductCode: "005930", Side: side, Count: qty,
				})
				if err != nil {
					return false
				}
				// Insufficient funds or quantity is a valid outcome.
				_, _ = pb.PlaceOrder(ctx, sess, payload)
			}

			deposit, err := pb.GetDeposit(ctx, sess)
			if err != nil {
				return false
			}
			holdings, err := pb.GetHoldings(ctx, sess, "")
			if err != nil {
				return false
			}
			total := deposit
			for _, h := range holdings {
				total = total.Add(h.Current.Mul(decimal.NewFromInt(int64(h.Count))))
			}
			return total.Equal(initial)
		},
		gen.SliceOf(gen.IntRange(1, 200)),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
