package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/dialpulse/cmd/dialpulse/commands"
	"github.com/teranos/dialpulse/logger"
)

var rootCmd = &cobra.Command{
	Use:   "dialpulse",
	Short: "dialpulse - outbound campaign scheduler and dialer",
	Long: `dialpulse - outbound calling campaign orchestration.

Schedules decide when campaigns run, executions track each sequence of an
occurrence, and the Pulse daemon drains the record queue at a shared
calls-per-second budget.

Available commands:
  am       - Show and change configuration
  pulse    - Run the Pulse daemon (monitor + control + dispatcher)
  schedule - Manage schedules and preview their occurrences
  campaign - Manage campaigns
  holiday  - Manage holidays excluded from every schedule
  queue    - Load records for a campaign execution
  control  - Send control signals to running executions
  stats    - Show campaign counters
  db       - Manage the database

Examples:
  dialpulse am show
  dialpulse schedule apply -f morning.yaml
  dialpulse schedule preview sch-1 --days 14
  dialpulse pulse start -v`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.CampaignCmd)
	rootCmd.AddCommand(commands.ControlCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.HolidayCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.QueueCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.StatsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
