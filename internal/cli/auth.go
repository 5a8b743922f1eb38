package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"efriend-trader/internal/logging"
	"efriend-trader/internal/models"
	"efriend-trader/pkg/utils"
)

// addAuthCommands adds authentication commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newLoginCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
}

func newLoginCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate an account with the broker",
		Long: `Authenticate an account with the broker and report whether it is a
simulated trading (VTS) account.

Without --account the configured default account of the market is used.`,
		Example: `  efriend login
  efriend login --market overseas
  efriend login --account 5005775101 --password ****`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), app.Config.Broker.AuthTimeout+5*time.Second)
			defer cancel()

			in, err := loginInput(cmd)
			if err != nil {
				return fail(output, "Login", err)
			}
			svc, err := app.service()
			if err != nil {
				return fail(output, "Login", err)
			}

			out, err := svc.Login(ctx, in)
			if err != nil {
				return fail(output, "Login", err)
			}

			if output.IsJSON() {
				return output.JSON(out)
			}

			output.Success("✓ Login successful")
			output.Printf("  Account: %s\n", logging.Mask(out.Account))
			output.Printf("  Market:  %s\n", out.Market)
			if out.IsVTS {
				output.Warning("  Simulated trading (VTS) account")
			}
			return nil
		},
	}
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show market session hours and trading mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			now := utils.Now()

			svc, err := app.service()
			if err != nil {
				return fail(output, "Status", err)
			}
			health := svc.Health()

			if output.IsJSON() {
				open := make(map[string]bool, len(models.Markets))
				for _, m := range models.Markets {
					open[string(m)] = utils.SessionOpen(m, now)
				}
				return output.JSON(map[string]interface{}{
					"mode":    app.Config.Trading.Mode,
					"time":    now,
					"open":    open,
					"breaker": health.Breaker,
				})
			}

			output.Bold("eFriend Trader")
			output.Printf("  Mode: %s\n", app.Config.Trading.Mode)
			output.Printf("  Time: %s\n", FormatDateTime(now))
			if b := health.Breaker; b != nil {
				state := output.Green(string(b.State))
				if health.Degraded() {
					state = output.Red(string(b.State))
				}
				output.Printf("  Broker: %s (%d calls, %d failed, %d rejected)\n", state, b.TotalRequests, b.TotalFailures, b.TotalRejected)
			}
			output.Println()

			table := NewTable(output, "MARKET", "HOURS", "STATUS")
			table.AddRow(string(models.Domestic), "09:00-15:30 KST", output.SessionStatus(utils.SessionOpen(models.Domestic, now)))
			table.AddRow(string(models.Overseas), "09:30-16:00 ET", output.SessionStatus(utils.SessionOpen(models.Overseas, now)))
			table.Render()
			return nil
		},
	}
}
