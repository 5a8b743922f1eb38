package cli

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/logging"
	"efriend-trader/internal/models"
	"efriend-trader/internal/trading"
)

// addTradingCommands adds order commands.
func addTradingCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newOrderCmd(app, models.OrderSideBuy))
	rootCmd.AddCommand(newOrderCmd(app, models.OrderSideSell))
	rootCmd.AddCommand(newCancelCmd(app))
	rootCmd.AddCommand(newCancelAllCmd(app))
	rootCmd.AddCommand(newOrdersCmd(app))
}

func newOrderCmd(app *App, side models.OrderSide) *cobra.Command {
	verb := strings.ToLower(string(side))
	cmd := &cobra.Command{
		Use:   verb + " <product-code> <count>",
		Short: "Place a " + verb + " order",
		Long: `Place a ` + verb + ` order for a product.

Without --price a domestic order is a market order. Overseas orders need a
limit price and an exchange code (NASD, NYSE, AMEX, ...).`,
		Example: `  efriend ` + verb + ` 005930 10
  efriend ` + verb + ` 005930 10 --price 70000
  efriend ` + verb + ` AAPL 5 --market overseas --market-code NASD --price 190.5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			login, err := loginInput(cmd)
			if err != nil {
				return fail(output, "Order", err)
			}
			count, err := parseCount(args[1])
			if err != nil {
				return fail(output, "Order", err)
			}
			price, err := parsePrice(cmd)
			if err != nil {
				return fail(output, "Order", err)
			}
			marketCode, _ := cmd.Flags().GetString("market-code")

			in := trading.BuyOrSellInput{
				LoginInput:  login,
				ProductCode: strings.ToUpper(args[0]),
				MarketCode:  strings.ToUpper(marketCode),
				Count:       count,
				Price:       price,
			}

			if !output.IsJSON() {
				output.Bold("Order Preview")
				output.Printf("  Product:  %s\n", in.ProductCode)
				if in.MarketCode != "" {
					output.Printf("  Exchange: %s\n", in.MarketCode)
				}
				output.Printf("  Side:     %s\n", output.Side(side))
				output.Printf("  Count:    %d\n", count)
				output.Printf("  Price:    %s\n", FormatPrice(login.Market, price))
				output.Println()
				if app.Config.IsPaperMode() {
					output.Warning("📝 PAPER TRADING MODE")
				}
			}

			svc, err := app.service()
			if err != nil {
				return fail(output, "Order", err)
			}
			place := svc.Buy
			if side == models.OrderSideSell {
				place = svc.Sell
			}
			orderNum, err := place(ctx, in)
			if err != nil {
				return fail(output, "Order", err)
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"order_num": orderNum})
			}
			output.Success("✓ Order placed")
			output.Printf("  Order Num: %s\n", orderNum)
			output.Println()
			output.Dim("Use 'efriend orders unprocessed' to check open orders")
			return nil
		},
	}

	cmd.Flags().StringP("price", "p", "", "limit price (empty for a domestic market order)")
	cmd.Flags().StringP("market-code", "e", "", "overseas exchange code (NASD, NYSE, AMEX, ...)")

	return cmd
}

func newCancelCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <order-num> <count>",
		Short: "Cancel shares of an open order",
		Example: `  efriend cancel 0000012345 10
  efriend cancel 30012 5 --market overseas --market-code NASD`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			login, err := loginInput(cmd)
			if err != nil {
				return fail(output, "Cancel", err)
			}
			count, err := parseCount(args[1])
			if err != nil {
				return fail(output, "Cancel", err)
			}
			marketCode, _ := cmd.Flags().GetString("market-code")
			product, _ := cmd.Flags().GetString("product")

			svc, err := app.service()
			if err != nil {
				return fail(output, "Cancel", err)
			}
			in := trading.CancelInput{
				LoginInput:  login,
				OrderNum:    args[0],
				Count:       count,
				MarketCode:  strings.ToUpper(marketCode),
				ProductCode: strings.ToUpper(product),
			}
			if err := svc.Cancel(ctx, in); err != nil {
				return fail(output, "Cancel", err)
			}
			logger := logging.WithOrderNum(app.Logger, in.OrderNum)
			logger.Debug().Int("count", count).Msg("Cancel confirmed")

			if output.IsJSON() {
				return output.JSON(map[string]string{"order_num": in.OrderNum})
			}
			output.Success("✓ Cancelled %d of order %s", count, in.OrderNum)
			return nil
		},
	}

	cmd.Flags().StringP("market-code", "e", "", "overseas exchange code")
	cmd.Flags().String("product", "", "product code (looked up from the order when empty)")

	return cmd
}

func newCancelAllCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel-all",
		Short: "Cancel every open order",
		Long: `Cancel every open order of the account. Each order is cancelled
independently; failures are listed and do not stop the rest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			login, err := loginInput(cmd)
			if err != nil {
				return fail(output, "Cancel all", err)
			}
			marketCode, _ := cmd.Flags().GetString("market-code")

			svc, err := app.service()
			if err != nil {
				return fail(output, "Cancel all", err)
			}
			batch, err := svc.CancelAll(ctx, trading.CancelAllInput{LoginInput: login, MarketCode: strings.ToUpper(marketCode)})
			if err != nil {
				return fail(output, "Cancel all", err)
			}

			if output.IsJSON() {
				results := make([]map[string]interface{}, 0, len(batch.Outcomes))
				for _, o := range batch.Outcomes {
					r := map[string]interface{}{
						"order_num":    o.OrderNum,
						"product_code": o.ProductCode,
						"count":        o.Count,
						"cancelled":    o.Err == nil,
					}
					if o.Err != nil {
						r["error"] = o.Err.Error()
					}
					results = append(results, r)
				}
				return output.JSON(results)
			}

			if len(batch.Outcomes) == 0 {
				output.Info("No open orders")
				return nil
			}

			table := NewTable(output, "ORDER", "PRODUCT", "COUNT", "RESULT")
			for _, o := range batch.Outcomes {
				result := output.Green("cancelled")
				if o.Err != nil {
					code, msg := apperrors.Reason(o.Err)
					if code == "" {
						msg = o.Err.Error()
					}
					result = output.Red("failed: " + TruncateString(msg, 40))
				}
				table.AddRow(o.OrderNum, o.ProductCode, strconv.Itoa(o.Count), result)
			}
			table.Render()
			output.Println()

			failed := len(batch.Failed())
			if failed > 0 {
				output.Warning("%d of %d orders could not be cancelled", failed, len(batch.Outcomes))
			} else {
				output.Success("✓ All %d orders cancelled", len(batch.Outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringP("market-code", "e", "", "overseas exchange code")

	return cmd
}

func newOrdersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List tracked orders",
	}

	unprocessed := &cobra.Command{
		Use:   "unprocessed",
		Short: "List today's open orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			login, err := loginInput(cmd)
			if err != nil {
				return fail(output, "Orders", err)
			}
			marketCode, _ := cmd.Flags().GetString("market-code")

			svc, err := app.service()
			if err != nil {
				return fail(output, "Orders", err)
			}
			list, err := svc.UnprocessedOrders(ctx, trading.OrdersInput{LoginInput: login, MarketCode: strings.ToUpper(marketCode)})
			if err != nil {
				return fail(output, "Orders", err)
			}
			return renderOrders(output, login.Market, list, false)
		},
	}
	unprocessed.Flags().StringP("market-code", "e", "", "overseas exchange code")

	processed := &cobra.Command{
		Use:   "processed",
		Short: "List executed orders",
		Example: `  efriend orders processed
  efriend orders processed --since 20261001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			login, err := loginInput(cmd)
			if err != nil {
				return fail(output, "Orders", err)
			}
			marketCode, _ := cmd.Flags().GetString("market-code")
			since, _ := cmd.Flags().GetString("since")

			svc, err := app.service()
			if err != nil {
				return fail(output, "Orders", err)
			}
			list, err := svc.ProcessedOrders(ctx, trading.ProcessedOrdersInput{
				OrdersInput: trading.OrdersInput{LoginInput: login, MarketCode: strings.ToUpper(marketCode)},
				StartDate:   since,
			})
			if err != nil {
				return fail(output, "Orders", err)
			}
			return renderOrders(output, login.Market, list, true)
		},
	}
	processed.Flags().StringP("market-code", "e", "", "overseas exchange code")
	processed.Flags().String("since", "", "first order date, YYYYMMDD or YYMMDD (default: today)")

	cmd.AddCommand(unprocessed, processed)
	return cmd
}

func renderOrders(output *Output, m models.Market, list []models.Order, executed bool) error {
	if output.IsJSON() {
		return output.JSON(list)
	}
	if len(list) == 0 {
		output.Info("No orders")
		return nil
	}

	priceHeader := "PRICE"
	if executed {
		priceHeader = "EXECUTED"
	}
	table := NewTable(output, "ORDER", "DATE", "PRODUCT", "NAME", "SIDE", "COUNT", "OPEN", priceHeader)
	for _, o := range list {
		price := FormatPrice(m, o.Price)
		if executed {
			price = FormatMoney(m, o.ExecutedPrice)
		}
		table.AddRow(
			o.OrderNum,
			FormatBrokerDate(o.OrderDate),
			o.ProductCode,
			TruncateString(o.ProductName, 16),
			output.Side(o.Side),
			strconv.Itoa(o.Count),
			strconv.Itoa(o.Remaining),
			price,
		)
	}
	table.Render()
	return nil
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, apperrors.NewValidationError("count", s, "must be a positive integer")
	}
	return n, nil
}

func parsePrice(cmd *cobra.Command) (decimal.Decimal, error) {
	raw, _ := cmd.Flags().GetString("price")
	if raw == "" {
		return decimal.Zero, nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperrors.NewValidationError("price", raw, "must be a number")
	}
	return price, nil
}
