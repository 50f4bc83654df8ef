package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/sym"
)

// CampaignCmd represents the campaign command
var CampaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: sym.Dial + " Manage campaigns",
	Long: sym.Dial + ` campaign - who calls and how fast.

A campaign owns schedules and carries the caller id and the campaign tier
of pacing.

Examples:
  dialpulse campaign apply -f renewals.yaml
  dialpulse campaign ls
  dialpulse campaign executions ce_...
  dialpulse campaign delete camp-1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var campaignApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or replace the campaigns in a manifest",
	RunE:  runCampaignApply,
}

var campaignLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List campaigns",
	RunE:  runCampaignLs,
}

var campaignDeleteCmd = &cobra.Command{
	Use:   "delete <campaign-id>",
	Short: "Delete a campaign and its schedules unless a live execution blocks it",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignDelete,
}

var campaignExecutionCmd = &cobra.Command{
	Use:   "execution <campaign-execution-id>",
	Short: "Show one campaign execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignExecution,
}

func init() {
	campaignApplyCmd.Flags().StringP("file", "f", "", "Manifest file (- for stdin)")

	CampaignCmd.AddCommand(campaignApplyCmd)
	CampaignCmd.AddCommand(campaignLsCmd)
	CampaignCmd.AddCommand(campaignDeleteCmd)
	CampaignCmd.AddCommand(campaignExecutionCmd)
}

func runCampaignApply(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	m, err := readManifest(path)
	if err != nil {
		return err
	}
	if len(m.Campaigns) == 0 {
		return errors.Wrap(errors.ErrInvalidRequest, "manifest has no campaigns")
	}
	if err := m.validate(); err != nil {
		return err
	}

	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	for i := range m.Campaigns {
		c := &m.Campaigns[i]
		if err := svc.store.SaveCampaign(cmd.Context(), c); err != nil {
			return err
		}
		pterm.Success.Printf("Applied campaign %s (%s)\n", c.ID, c.Name)
	}
	return nil
}

func runCampaignLs(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	campaigns, err := svc.store.ListCampaigns(cmd.Context())
	if err != nil {
		return err
	}
	if len(campaigns) == 0 {
		fmt.Printf("%s No campaigns\n", sym.Dial)
		return nil
	}

	data := pterm.TableData{{"ID", "NAME", "SOURCE", "MAX CPA", "UPDATED"}}
	for _, c := range campaigns {
		maxCPA := "-"
		if c.Pacing.MaxCPA != nil {
			maxCPA = fmt.Sprintf("%.2f", *c.Pacing.MaxCPA)
		}
		data = append(data, []string{c.ID, c.Name, c.SourcePhoneNumber, maxCPA, c.UpdatedAt.Format("2006-01-02 15:04")})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runCampaignDelete(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	plan, err := svc.manager.DeleteCampaign(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return reportDelete("campaign", args[0], plan)
}

func runCampaignExecution(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()
	ctx := cmd.Context()

	ce, err := svc.store.GetCampaignExecution(ctx, args[0])
	if err != nil {
		return err
	}
	queued, err := svc.queue.Pending(ctx, ce.ID)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", sym.Dial, ce.ID)
	fmt.Printf("  Campaign:   %s\n", ce.CampaignID)
	fmt.Printf("  Schedule:   %s (execution %s)\n", ce.ScheduleID, ce.ScheduleExecutionID)
	fmt.Printf("  Sequence:   %s (index %d, loop %d)\n", ce.SequenceName, ce.SequenceIndex, ce.SequenceLoop)
	fmt.Printf("  Status:     %s\n", ce.Status)
	fmt.Printf("  End by:     %s\n", ce.EndBy.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("  Attempted:  %d of %d\n", ce.RecordsAttempted, ce.RecordsToDial)
	fmt.Printf("  Queued:     %d\n", queued)
	fmt.Printf("  Postback:   %t\n", ce.HasReceivedPostback)
	return nil
}
