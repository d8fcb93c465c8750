package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"cacp/internal/bootstrap"
	"cacp/internal/bootstrap/logging"
	"cacp/internal/errs"
	"cacp/internal/ports"
	"cacp/internal/usecase/approval"
	"cacp/internal/usecase/orchestrator"
	"cacp/internal/usecase/outcomes"
	"cacp/internal/usecase/rails"
)

// services is the bundle commands pull out of the fx graph. Queue may be
// nil when no broker is configured.
type services struct {
	fx.In

	App          *bootstrap.App
	Orchestrator *orchestrator.Service
	Approval     *approval.Service
	Rails        *rails.Service
	Outcomes     *outcomes.Service
	Consents     ports.ConsentStore
	Queue        *nats.Conn `optional:"true"`
}

func withApp(run func(cmd *cobra.Command, svc services) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(
			cmd.Context(),
			slog.String("command", cmd.CommandPath()),
			slog.String("config_file", cfgFile),
		)

		var svc services
		fxApp := fx.New(
			bootstrap.Module,
			fx.Provide(func() context.Context { return ctx }),
			fx.Provide(
				fx.Annotate(
					func() string { return cfgFile },
					fx.ResultTags(`name:"configFile"`),
				),
			),
			fx.Populate(&svc),
		)

		startCtx, cancelStart := context.WithTimeout(ctx, 10*time.Second)
		defer cancelStart()
		if err := fxApp.Start(startCtx); err != nil {
			logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "start fx application")
		}

		defer func() {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelStop()
			if err := fxApp.Stop(stopCtx); err != nil {
				logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
			}
		}()

		if err := run(cmd, svc); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}
