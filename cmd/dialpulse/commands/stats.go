package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dialpulse/sym"
)

// StatsCmd shows campaign counters
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: sym.Pulse + " Show campaign counters",
	Long: sym.Pulse + ` stats - dialed, attempted, ring-timeout and failure counters.

Without --campaign, every campaign with events in the window is listed.

Examples:
  dialpulse stats                     # last 24 hours
  dialpulse stats --since 1h
  dialpulse stats --campaign camp-1   # all-time totals of one campaign`,
	RunE: runStats,
}

func init() {
	StatsCmd.Flags().Duration("since", 24*time.Hour, "Window to summarize")
	StatsCmd.Flags().String("campaign", "", "Show all-time totals for one campaign key")
}

func runStats(cmd *cobra.Command, args []string) error {
	since, _ := cmd.Flags().GetDuration("since")
	campaign, _ := cmd.Flags().GetString("campaign")

	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()
	ctx := cmd.Context()

	if campaign != "" {
		totals, err := svc.stats.Totals(ctx, campaign)
		if err != nil {
			return err
		}
		if len(totals) == 0 {
			fmt.Printf("%s No events for %s\n", sym.Pulse, campaign)
			return nil
		}
		counters := make([]string, 0, len(totals))
		for c := range totals {
			counters = append(counters, c)
		}
		sort.Strings(counters)
		data := pterm.TableData{{"COUNTER", "TOTAL"}}
		for _, c := range counters {
			data = append(data, []string{c, fmt.Sprint(totals[c])})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}

	rows, err := svc.stats.Summary(ctx, time.Now().Add(-since))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("%s No events in the last %s\n", sym.Pulse, since)
		return nil
	}
	data := pterm.TableData{{"CAMPAIGN", "COUNTER", "COUNT", "LAST"}}
	for _, r := range rows {
		data = append(data, []string{r.CampaignKey, r.Counter, fmt.Sprint(r.Count), r.Last.Local().Format("2006-01-02 15:04:05")})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
