package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"efriend-trader/internal/api"
)

func addServeCommand(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newServeCmd(app))
}

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the trading API over HTTP",
		Long: `Serve the trading API over HTTP until interrupted.

Sessions and tracked orders live for the lifetime of the process; in paper
mode the simulator state does too.`,
		Example: `  efriend serve
  efriend serve --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			svc, err := app.service()
			if err != nil {
				return fail(output, "Serve", err)
			}

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.Config.Server.Addr
			}

			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           api.NewServer(svc, app.Logger).Router(),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       app.Config.Server.ReadTimeout,
				WriteTimeout:      app.Config.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				app.Logger.Info().Str("addr", addr).Str("mode", app.Config.Trading.Mode).Msg("API server listening")
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			stopCh := make(chan os.Signal, 1)
			signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
			defer signal.Stop(stopCh)

			select {
			case err, ok := <-errCh:
				if ok {
					return fail(output, "Serve", err)
				}
				return nil
			case sig := <-stopCh:
				app.Logger.Info().Str("signal", sig.String()).Msg("Shutting down API server")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				app.Logger.Warn().Err(err).Msg("Graceful shutdown incomplete")
				return err
			}
			app.Logger.Info().Int("sessions", svc.ActiveSessions()).Msg("API server stopped")
			return nil
		},
	}

	cmd.Flags().String("addr", "", "listen address (default: server.addr from config)")

	return cmd
}
