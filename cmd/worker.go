package cmd

import (
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cacp/internal/bootstrap"
	"cacp/internal/bootstrap/logging"
	"cacp/internal/errs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the plan execution worker",
	Long:  "Consumes approved plan ids from the queue and executes each plan through the runtime rails. Requires queue.url to be configured.",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))

		if svc.Queue == nil {
			return errors.New("queue.url is not configured, nothing to consume")
		}

		consumer, err := bootstrap.NewConsumer(svc.App.Config, svc.Queue, svc.Rails)
		if err != nil {
			return errs.Wrap(err, "build queue consumer")
		}

		if err := consumer.Run(ctx); err != nil {
			return errs.Wrap(err, "run queue consumer")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
