package cli

import (
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/metrics"
)

func init() {
	report := &cobra.Command{
		Use:   "report",
		Short: "Summarize help desk activity",
	}

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Totals, deflection rate, tickets by tier and severity, common issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			s, err := metrics.NewReporter(db, nil).Summary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}

	trends := &cobra.Command{
		Use:   "trends",
		Short: "Daily activity for recent days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")

			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			points, err := metrics.NewReporter(db, nil).Trends(cmd.Context(), days)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), points)
		},
	}
	trends.Flags().Int("days", metrics.DefaultTrendDays, "Days to include, today counted")

	report.AddCommand(summary, trends)
	RootCmd.AddCommand(report)
}
