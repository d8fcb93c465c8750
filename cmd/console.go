package cmd

import (
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"cacp/internal/bootstrap/logging"
	"cacp/internal/errs"
	"cacp/internal/usecase/opsconsole"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Terminal dashboard for proposals and outcomes",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		refreshSeconds, _ := cmd.Flags().GetInt("refresh")
		model := opsconsole.NewModel(ctx, svc.Orchestrator, svc.Outcomes, opsconsole.Options{
			RefreshInterval: time.Duration(refreshSeconds) * time.Second,
		})

		program := tea.NewProgram(model, tea.WithContext(ctx))
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run console")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().Int("refresh", 5, "Refresh interval in seconds")
}
