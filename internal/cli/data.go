package cli

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"efriend-trader/internal/market"
	"efriend-trader/internal/models"
	"efriend-trader/internal/trading"
	"efriend-trader/pkg/utils"
)

// addMarketDataCommands adds balance and quotation commands.
func addMarketDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newAmountCmd(app))
	rootCmd.AddCommand(newCurrencyCmd(app))
	rootCmd.AddCommand(newChartCmd(app))
	rootCmd.AddCommand(newSpreadCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
}

func newAmountCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amount",
		Short: "Show deposit, holdings and total account value",
		Example: `  efriend amount
  efriend amount --market overseas --market-code NASD`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			login, err := loginInput(cmd)
			if err != nil {
				return fail(output, "Amount", err)
			}
			marketCode, _ := cmd.Flags().GetString("market-code")

			svc, err := app.service()
			if err != nil {
				return fail(output, "Amount", err)
			}
			snap, err := svc.GetAmount(ctx, trading.OrdersInput{LoginInput: login, MarketCode: strings.ToUpper(marketCode)})
			if err != nil {
				return fail(output, "Amount", err)
			}

			if output.IsJSON() {
				return output.JSON(snap)
			}

			m := login.Market
			if len(snap.Positions) > 0 {
				table := NewTable(output, "PRODUCT", "NAME", "COUNT", "CURRENT", "VALUE")
				for _, p := range snap.Positions {
					table.AddRow(
						p.ProductCode,
						TruncateString(p.ProductName, 16),
						utils.FormatQuantity(int64(p.Count)),
						FormatMoney(m, p.Current),
						FormatMoney(m, p.Price),
					)
				}
				table.Render()
				output.Println()
			}

			output.Box("Account Value", []string{
				"Deposit: " + FormatMoney(m, snap.Deposit),
				"Holdings: " + strconv.Itoa(len(snap.Positions)),
				"Total:   " + FormatMoney(m, snap.TotalAmount),
			})
			return nil
		},
	}

	cmd.Flags().StringP("market-code", "e", "", "overseas exchange code")

	return cmd
}

func newCurrencyCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "currency",
		Short: "Show the KRW per USD exchange rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			login, err := loginInput(cmd)
			if err != nil {
				return fail(output, "Currency", err)
			}
			svc, err := app.service()
			if err != nil {
				return fail(output, "Currency", err)
			}
			rate, err := svc.GetCurrency(ctx, login)
			if err != nil {
				return fail(output, "Currency", err)
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"currency": rate.String()})
			}
			output.Printf("USD/KRW  %s\n", utils.FormatAmount(rate, market.Currency(models.Domestic)))
			return nil
		},
	}
}

func newChartCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart <product-code>",
		Short: "Show intraday bars of a product",
		Example: `  efriend chart 005930
  efriend chart AAPL --market overseas --market-code NASD --interval 300`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			login, err := loginInput(cmd)
			if err != nil {
				return fail(output, "Chart", err)
			}
			marketCode, _ := cmd.Flags().GetString("market-code")
			interval, _ := cmd.Flags().GetInt("interval")

			svc, err := app.service()
			if err != nil {
				return fail(output, "Chart", err)
			}
			points, err := svc.GetChart(ctx, trading.ChartInput{
				LoginInput:  login,
				ProductCode: strings.ToUpper(args[0]),
				MarketCode:  strings.ToUpper(marketCode),
				Interval:    interval,
			})
			if err != nil {
				return fail(output, "Chart", err)
			}

			if output.IsJSON() {
				return output.JSON(points)
			}

			m := login.Market
			table := NewTable(output, "DATE", "TIME", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME")
			for _, p := range points {
				table.AddRow(
					FormatBrokerDate(p.ExecutedDate),
					FormatBrokerTime(p.ExecutedTime),
					FormatMoney(m, p.Opening),
					FormatMoney(m, p.Maximum),
					FormatMoney(m, p.Minimum),
					FormatMoney(m, p.Current),
					utils.FormatQuantity(p.Volume),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringP("market-code", "e", "", "overseas exchange code")
	cmd.Flags().Int("interval", 0, "bar interval in seconds (default 60)")

	return cmd
}

func newSpreadCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spread <product-code>",
		Short: "Show the ask/bid ladder of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			login, err := loginInput(cmd)
			if err != nil {
				return fail(output, "Spread", err)
			}
			marketCode, _ := cmd.Flags().GetString("market-code")

			svc, err := app.service()
			if err != nil {
				return fail(output, "Spread", err)
			}
			quote, err := svc.GetSpread(ctx, trading.SpreadInput{
				LoginInput:  login,
				MarketCode:  strings.ToUpper(marketCode),
				ProductCode: strings.ToUpper(args[0]),
			})
			if err != nil {
				return fail(output, "Spread", err)
			}

			if output.IsJSON() {
				return output.JSON(quote)
			}

			m := login.Market
			output.Bold("%s  %s", quote.ProductCode, FormatBrokerTime(quote.AcceptedTime))
			table := NewTable(output, "ASK QTY", "PRICE", "BID QTY")
			for i := len(quote.Asks) - 1; i >= 0; i-- {
				a := quote.Asks[i]
				table.AddRow(utils.FormatQuantity(a.Count), output.ColoredString(ColorBlue, FormatMoney(m, a.Price)), "")
			}
			for _, b := range quote.Bids {
				table.AddRow("", output.ColoredString(ColorRed, FormatMoney(m, b.Price)), utils.FormatQuantity(b.Count))
			}
			table.AddRow(utils.FormatQuantity(quote.TotalAskCount), "TOTAL", utils.FormatQuantity(quote.TotalBidCount))
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringP("market-code", "e", "", "overseas exchange code")

	return cmd
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <product-code>",
		Short: "Show daily bars of a product, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			login, err := loginInput(cmd)
			if err != nil {
				return fail(output, "History", err)
			}
			marketCode, _ := cmd.Flags().GetString("market-code")
			limit, _ := cmd.Flags().GetInt("limit")

			svc, err := app.service()
			if err != nil {
				return fail(output, "History", err)
			}
			history, err := svc.GetHistory(ctx, trading.SpreadInput{
				LoginInput:  login,
				MarketCode:  strings.ToUpper(marketCode),
				ProductCode: strings.ToUpper(args[0]),
			})
			if err != nil {
				return fail(output, "History", err)
			}
			if limit > 0 && len(history) > limit {
				history = history[:limit]
			}

			if output.IsJSON() {
				return output.JSON(history)
			}

			m := login.Market
			table := NewTable(output, "DATE", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME")
			for _, h := range history {
				table.AddRow(
					FormatBrokerDate(h.StandardDate),
					FormatMoney(m, h.Opening),
					FormatMoney(m, h.Maximum),
					FormatMoney(m, h.Minimum),
					FormatMoney(m, h.Closing),
					utils.FormatQuantity(h.Volume),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringP("market-code", "e", "", "overseas exchange code")
	cmd.Flags().Int("limit", 20, "number of days to show (0 for all)")

	return cmd
}
