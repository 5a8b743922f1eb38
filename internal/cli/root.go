package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"efriend-trader/internal/config"
	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/logging"
	"efriend-trader/internal/models"
	"efriend-trader/internal/trading"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// NewRootCmd creates the root command for the CLI. A nil cfg is loaded
// from --config before any command runs.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "efriend",
		Short: "eFriend Trader - brokerage session and order lifecycle CLI",
		Long: `eFriend Trader places and tracks stock orders on the domestic (KRX) and
overseas markets through the broker's open API.

It keeps one authenticated session per account and market, tracks every order
it submits until it is executed or cancelled, and values the account.
Run 'efriend serve' to expose the same operations over HTTP.

Paper mode (the default) runs against an in-process simulator.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dir, _ := cmd.Flags().GetString("config"); dir != "" || app.Config == nil {
				loaded, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = loaded
				app.Logger = logging.NewLoggerWithConfig(loaded.LoggingConfig())
			}

			// Handle debug flag
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/efriend-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringP("market", "m", string(models.Domestic), "market: domestic or overseas")
	rootCmd.PersistentFlags().String("account", "", "account number (default: configured account of the market)")
	rootCmd.PersistentFlags().String("password", "", "account password")

	addCoreCommands(rootCmd, app)
	addAuthCommands(rootCmd, app)
	addTradingCommands(rootCmd, app)
	addMarketDataCommands(rootCmd, app)
	addServeCommand(rootCmd, app)

	return rootCmd
}

// loginInput reads the account selection flags.
func loginInput(cmd *cobra.Command) (trading.LoginInput, error) {
	name, _ := cmd.Flags().GetString("market")
	m, ok := models.ParseMarket(name)
	if !ok {
		return trading.LoginInput{}, apperrors.NewValidationError("market", name, "must be domestic or overseas")
	}
	account, _ := cmd.Flags().GetString("account")
	password, _ := cmd.Flags().GetString("password")
	return trading.LoginInput{Market: m, Account: account, Password: password}, nil
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("eFriend Trader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				output.JSON(map[string]string{"path": dir})
			} else {
				output.Println(dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

// redacted copies cfg with secrets blanked.
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	out.Broker.AppKey = mask(out.Broker.AppKey)
	out.Broker.AppSecret = mask(out.Broker.AppSecret)
	out.Accounts.Domestic.Password = mask(out.Accounts.Domestic.Password)
	out.Accounts.Overseas.Password = mask(out.Accounts.Overseas.Password)
	return out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading Configuration")
	output.Printf("  Mode:            %s\n", cfg.Trading.Mode)
	output.Println()

	output.Bold("Accounts")
	output.Printf("  Domestic:        %s\n", orNone(logging.Mask(cfg.Accounts.Domestic.Account)))
	output.Printf("  Overseas:        %s\n", orNone(logging.Mask(cfg.Accounts.Overseas.Account)))
	output.Println()

	output.Bold("Broker")
	output.Printf("  Base URL:        %s\n", cfg.Broker.BaseURL)
	output.Printf("  VTS URL:         %s\n", cfg.Broker.PaperBaseURL)
	output.Printf("  VTS:             %v\n", cfg.Broker.VTS)
	output.Printf("  App Key:         %s\n", orNone(mask(cfg.Broker.AppKey)))
	output.Printf("  Timeout:         %s\n", cfg.Broker.Timeout)
	output.Printf("  Auth Timeout:    %s\n", cfg.Broker.AuthTimeout)
	output.Printf("  Read Retries:    %d\n", cfg.Broker.ReadRetries)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Journal:         %s\n", cfg.Database.ConnStr)
	output.Println()

	output.Bold("Server")
	output.Printf("  Address:         %s\n", cfg.Server.Addr)
	output.Printf("  Log Level:       %s\n", cfg.Log.Level)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// fail prints err and hands it back to cobra.
func fail(output *Output, action string, err error) error {
	if output.IsJSON() {
		code, _ := apperrors.Reason(err)
		output.JSON(map[string]string{
			"error": err.Error(),
			"kind":  string(apperrors.KindOf(err)),
			"code":  code,
		})
		return err
	}
	output.Error("%s failed: %v", action, err)
	return fmt.Errorf("%s: %w", action, err)
}
