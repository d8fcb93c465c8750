package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cacp/internal/bootstrap/logging"
	"cacp/internal/errs"
	"cacp/internal/transport/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and inbound webhooks",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))
		cfg := svc.App.Config

		apiServer := httpapi.NewServer(
			svc.Orchestrator,
			svc.Approval,
			svc.Outcomes,
			svc.Consents,
			svc.App.DB,
			httpapi.Config{
				TwilioAuthToken: cfg.Twilio.AuthToken,
				PublicBaseURL:   cfg.Server.PublicBaseURL,
			},
		)

		httpServer := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           apiServer.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			serveErr <- httpServer.ListenAndServe()
		}()
		logging.Info(ctx, "http server listening", slog.String("addr", cfg.Server.Addr))

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return errs.Wrap(err, "shutdown http server")
			}
			logging.Info(ctx, "http server stopped")
			return nil
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return errs.Wrap(err, "serve http")
		}
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
