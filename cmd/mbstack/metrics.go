package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/mbstack/internal/app"
)

func newMetricsCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "metrics <file.csv>...",
		Short: "Summarize metrics CSV files from earlier master runs",
		Example: `  mbstack master read-holding --count 4 --repeat 1000 --interval 10ms --metrics-csv poll.csv
  mbstack metrics poll.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunMetricsReport(app.ReportOptions{
				Paths:   args,
				Session: session,
				Out:     cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Only rows recorded under this session label")
	return cmd
}
