package commands

import (
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/internal/util"
	"github.com/teranos/dialpulse/pulse/control"
	"github.com/teranos/dialpulse/pulse/execution"
	"github.com/teranos/dialpulse/pulse/pacing"
	"github.com/teranos/dialpulse/sym"
)

// ControlCmd represents the control command
var ControlCmd = &cobra.Command{
	Use:   "control",
	Short: sym.Control + " Send control signals",
	Long: sym.Control + ` control - steer running executions.

Signals go through the shared control bus and are handled by whichever
Pulse instance picks them up first.

Examples:
  dialpulse control campaign pause ce_...
  dialpulse control campaign stop ce_... --release-cache
  dialpulse control schedule skip_sequence --schedule sch-1
  dialpulse control schedule update_runtime_parameters --execution se_... --max-cpa 1.5
  dialpulse control contact sim_... --campaign-execution ce_... --state ENDED`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var controlCampaignCmd = &cobra.Command{
	Use:       "campaign <start|stop|pause|resume> <campaign-execution-id>",
	Short:     "Signal one campaign execution",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"start", "stop", "pause", "resume"},
	RunE:      runControlCampaign,
}

var controlScheduleCmd = &cobra.Command{
	Use:   "schedule <resume|stop|pause|update_runtime_parameters|skip_sequence>",
	Short: "Signal a schedule or one of its executions",
	Args:  cobra.ExactArgs(1),
	RunE:  runControlSchedule,
}

var controlContactCmd = &cobra.Command{
	Use:   "contact <contact-id>",
	Short: "Apply a telephony postback for a placed call",
	Args:  cobra.ExactArgs(1),
	RunE:  runControlContact,
}

func init() {
	controlCampaignCmd.Flags().Bool("release-cache", false, "With stop: drop queued records now")

	controlScheduleCmd.Flags().String("schedule", "", "Target every live execution of this schedule")
	controlScheduleCmd.Flags().String("execution", "", "Target one schedule execution")
	controlScheduleCmd.Flags().Float64("max-cpa", -1, "Runtime max_cpa")
	controlScheduleCmd.Flags().Float64("initial-cpa", -1, "Runtime initial_cpa")
	controlScheduleCmd.Flags().Int("max-concurrent-calls", -1, "Runtime max_concurrent_calls")

	controlContactCmd.Flags().String("campaign-execution", "", "Campaign execution that placed the call")
	controlContactCmd.Flags().String("state", "", "CONNECTED or ENDED")

	ControlCmd.AddCommand(controlCampaignCmd)
	ControlCmd.AddCommand(controlScheduleCmd)
	ControlCmd.AddCommand(controlContactCmd)
}

func runControlCampaign(cmd *cobra.Command, args []string) error {
	release, _ := cmd.Flags().GetBool("release-cache")
	signal := control.CampaignSignal{
		Action:              control.CampaignAction(strings.ToUpper(args[0])),
		CampaignExecutionID: args[1],
		ReleaseCache:        release,
	}
	if err := signal.Validate(); err != nil {
		return err
	}

	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	if _, err := svc.store.GetCampaignExecution(cmd.Context(), signal.CampaignExecutionID); err != nil {
		return err
	}
	if err := svc.bus.PublishCampaign(cmd.Context(), signal); err != nil {
		return err
	}
	pterm.Success.Printf("Published %s for %s\n", signal.Action, signal.CampaignExecutionID)
	return nil
}

// runtimePacing reads the pacing flags; unset flags stay nil
func runtimePacing(cmd *cobra.Command) *pacing.Pacing {
	var p pacing.Pacing
	if v, _ := cmd.Flags().GetFloat64("max-cpa"); cmd.Flags().Changed("max-cpa") {
		p.MaxCPA = util.Ptr(v)
	}
	if v, _ := cmd.Flags().GetFloat64("initial-cpa"); cmd.Flags().Changed("initial-cpa") {
		p.InitialCPA = util.Ptr(v)
	}
	if v, _ := cmd.Flags().GetInt("max-concurrent-calls"); cmd.Flags().Changed("max-concurrent-calls") {
		p.MaxConcurrentCalls = util.Ptr(v)
	}
	if p.IsZero() {
		return nil
	}
	return &p
}

func runControlSchedule(cmd *cobra.Command, args []string) error {
	scheduleID, _ := cmd.Flags().GetString("schedule")
	executionID, _ := cmd.Flags().GetString("execution")
	c := control.ScheduleControl{
		Action:              control.ScheduleAction(strings.ToUpper(args[0])),
		ScheduleID:          scheduleID,
		ScheduleExecutionID: executionID,
		Pacing:              runtimePacing(cmd),
	}
	if err := c.Validate(); err != nil {
		return err
	}

	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.bus.PublishSchedule(cmd.Context(), c); err != nil {
		return err
	}
	target := c.ScheduleID
	if target == "" {
		target = c.ScheduleExecutionID
	}
	pterm.Success.Printf("Published %s for %s\n", c.Action, target)
	return nil
}

func runControlContact(cmd *cobra.Command, args []string) error {
	ceID, _ := cmd.Flags().GetString("campaign-execution")
	state, _ := cmd.Flags().GetString("state")
	if ceID == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "--campaign-execution is required")
	}

	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	err = svc.manager.HandleContactEvent(cmd.Context(), execution.ContactEvent{
		ContactID:           args[0],
		CampaignExecutionID: ceID,
		State:               strings.ToUpper(state),
	})
	if err != nil {
		return err
	}
	pterm.Success.Printf("Recorded %s for %s\n", strings.ToUpper(state), args[0])
	return nil
}
