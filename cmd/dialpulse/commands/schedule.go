package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/pulse/recurrence"
	"github.com/teranos/dialpulse/pulse/relation"
	"github.com/teranos/dialpulse/sym"
)

// ScheduleCmd represents the schedule command
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: sym.Calendar + " Manage schedules",
	Long: sym.Calendar + ` schedule - when campaigns run.

A schedule is a calendar (a single date or a recurrence rule in an IANA
zone), a window length, and the sequences each occurrence runs.

Examples:
  dialpulse schedule apply -f morning.yaml
  dialpulse schedule ls
  dialpulse schedule preview sch-1 --days 14 --include-disabled
  dialpulse schedule disable sch-1 --date 2024-06-05
  dialpulse schedule delete sch-1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var scheduleApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or replace the schedules in a manifest",
	RunE:  runScheduleApply,
}

var scheduleLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List schedules",
	RunE:  runScheduleLs,
}

var schedulePreviewCmd = &cobra.Command{
	Use:   "preview <schedule-id>",
	Short: "Show upcoming occurrences",
	Long: `Show the occurrences of a schedule in a date range, in the schedule's zone.

With --include-disabled, occurrences removed by a disabled date or a holiday
are listed too, with the reason.`,
	Args: cobra.ExactArgs(1),
	RunE: runSchedulePreview,
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <schedule-id>",
	Short: "Disable a schedule or one occurrence date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScheduleSetDisabled(cmd, args[0], true)
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <schedule-id>",
	Short: "Enable a schedule or one occurrence date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScheduleSetDisabled(cmd, args[0], false)
	},
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <schedule-id>",
	Short: "Delete a schedule unless a live execution blocks it",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDelete,
}

var scheduleExecutionsCmd = &cobra.Command{
	Use:   "executions <schedule-id>",
	Short: "List the materialized occurrences of a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleExecutions,
}

func init() {
	scheduleApplyCmd.Flags().StringP("file", "f", "", "Manifest file (- for stdin)")
	schedulePreviewCmd.Flags().String("from", "", "First date, YYYY-MM-DD in the schedule's zone (default today)")
	schedulePreviewCmd.Flags().Int("days", 7, "Number of days to show")
	schedulePreviewCmd.Flags().Bool("include-disabled", false, "Also list disabled and holiday occurrences")
	scheduleDisableCmd.Flags().String("date", "", "Occurrence date (YYYY-MM-DD) instead of the whole schedule")
	scheduleEnableCmd.Flags().String("date", "", "Occurrence date (YYYY-MM-DD) instead of the whole schedule")

	ScheduleCmd.AddCommand(scheduleApplyCmd)
	ScheduleCmd.AddCommand(scheduleLsCmd)
	ScheduleCmd.AddCommand(schedulePreviewCmd)
	ScheduleCmd.AddCommand(scheduleDisableCmd)
	ScheduleCmd.AddCommand(scheduleEnableCmd)
	ScheduleCmd.AddCommand(scheduleDeleteCmd)
	ScheduleCmd.AddCommand(scheduleExecutionsCmd)
}

func runScheduleApply(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	m, err := readManifest(path)
	if err != nil {
		return err
	}
	if len(m.Schedules) == 0 {
		return errors.Wrap(errors.ErrInvalidRequest, "manifest has no schedules")
	}
	if err := m.validate(); err != nil {
		return err
	}

	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	for i := range m.Schedules {
		sch := &m.Schedules[i]
		if existing, err := svc.store.GetSchedule(cmd.Context(), sch.ID); err == nil {
			sch.CreatedAt = existing.CreatedAt
		}
		if err := svc.store.SaveSchedule(cmd.Context(), sch); err != nil {
			return err
		}
		pterm.Success.Printf("Applied schedule %s (%s)\n", sch.ID, sch.Name)
	}
	return nil
}

func runScheduleLs(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	schedules, err := svc.store.ListSchedules(cmd.Context())
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		fmt.Printf("%s No schedules\n", sym.Calendar)
		return nil
	}

	data := pterm.TableData{{"ID", "CAMPAIGN", "NAME", "CALENDAR", "WINDOW", "LOOPS", "SEQUENCES", "STATE"}}
	for _, s := range schedules {
		calendar := s.Calendar.Single
		if s.Calendar.Recurring != nil {
			calendar = s.Calendar.Recurring.Rule + " from " + s.Calendar.Recurring.Start
		}
		state := "enabled"
		if s.Disabled {
			state = "disabled"
		}
		data = append(data, []string{
			s.ID, s.CampaignID, s.Name,
			calendar + " " + s.Calendar.Timezone,
			s.Duration().String(),
			fmt.Sprint(s.Loops),
			fmt.Sprint(len(s.Sequences)),
			state,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runSchedulePreview(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	days, _ := cmd.Flags().GetInt("days")
	includeDisabled, _ := cmd.Flags().GetBool("include-disabled")
	if days < 1 {
		return errors.Wrapf(errors.ErrInvalidRequest, "--days must be at least 1, got %d", days)
	}

	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()
	ctx := cmd.Context()

	sch, err := svc.store.GetSchedule(ctx, args[0])
	if err != nil {
		return err
	}
	exclusions, err := svc.store.HolidayExclusions(ctx)
	if err != nil {
		return err
	}
	loc, err := sch.Calendar.Location()
	if err != nil {
		return err
	}

	start := time.Now().In(loc)
	if from != "" {
		start, err = time.ParseInLocation(recurrence.DateLayout, from, loc)
		if err != nil {
			return errors.Wrapf(errors.ErrInvalidRequest, "--from %q is not a date (YYYY-MM-DD)", from)
		}
	}
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, days)

	occs, err := sch.TimesBetween(start, end, exclusions, recurrence.Options{Exclusive: true}, includeDisabled)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s: %s to %s (%s)\n", sym.Calendar, sch.ID,
		start.Format(recurrence.DateLayout), end.Format(recurrence.DateLayout), loc)
	if sch.Disabled {
		pterm.Warning.Println("Schedule is disabled; nothing will run")
	}
	if len(occs) == 0 {
		fmt.Println("No occurrences in range")
		return nil
	}

	data := pterm.TableData{{"DATE", "START", "END", "STATUS"}}
	for _, occ := range occs {
		status := "runs"
		if occ.Disabled {
			status = occ.DisabledReason
			if occ.DisablingEntityName != "" {
				status += " (" + occ.DisablingEntityName + ")"
			}
		}
		s, e := occ.Start.In(loc), occ.End.In(loc)
		data = append(data, []string{
			s.Format("Mon " + recurrence.DateLayout),
			s.Format("15:04 MST"),
			e.Format("15:04 MST"),
			status,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runScheduleSetDisabled(cmd *cobra.Command, id string, disabled bool) error {
	date, _ := cmd.Flags().GetString("date")

	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	sch, err := svc.store.GetSchedule(cmd.Context(), id)
	if err != nil {
		return err
	}
	if msg := sch.SetDisabled(disabled, date); msg != "" {
		pterm.Warning.Println(msg)
		return nil
	}
	if err := svc.store.SaveSchedule(cmd.Context(), sch); err != nil {
		return err
	}

	verb := "Enabled"
	if disabled {
		verb = "Disabled"
	}
	if date != "" && !sch.Calendar.IsSingle() {
		pterm.Success.Printf("%s %s on %s\n", verb, id, date)
	} else {
		pterm.Success.Printf("%s %s\n", verb, id)
	}
	return nil
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	plan, err := svc.manager.DeleteSchedule(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return reportDelete("schedule", args[0], plan)
}

// reportDelete prints a delete plan; a blocked plan is a conflict
func reportDelete(kind, id string, plan relation.Plan) error {
	if !plan.Allowed() {
		fmt.Printf("Cannot delete %s %s; blocked by:\n", kind, id)
		for _, ref := range plan.Blocking {
			fmt.Printf("  %s %s %s\n", ref.Type, ref.ID, ref.Name)
		}
		return errors.Wrapf(errors.ErrConflict, "%s %s has live dependents", kind, id)
	}
	pterm.Success.Printf("Deleted %s %s\n", kind, id)
	for _, ref := range plan.Cascade {
		fmt.Printf("  also deleted %s %s\n", ref.Type, ref.ID)
	}
	return nil
}

func runScheduleExecutions(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()
	ctx := cmd.Context()

	ses, err := svc.store.ListScheduleExecutions(ctx, args[0])
	if err != nil {
		return err
	}
	if len(ses) == 0 {
		fmt.Printf("%s No executions for %s\n", sym.Calendar, args[0])
		return nil
	}

	data := pterm.TableData{{"EXECUTION", "OCCURRENCE", "END BY", "STATUS", "SEQUENCE", "LOOP", "CAMPAIGN EXECUTION"}}
	for _, se := range ses {
		data = append(data, []string{
			se.ID,
			se.OccurrenceStart.UTC().Format(time.RFC3339),
			se.EndBy().UTC().Format(time.RFC3339),
			string(se.Status),
			fmt.Sprint(se.CurrentSequenceIndex),
			fmt.Sprint(se.CurrentSequenceLoop),
			se.CurrentCampaignExecutionID,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
