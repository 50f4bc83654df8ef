package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/pulse/execution"
	"github.com/teranos/dialpulse/sym"
)

// HolidayCmd represents the holiday command
var HolidayCmd = &cobra.Command{
	Use:   "holiday",
	Short: sym.Calendar + " Manage holidays",
	Long: sym.Calendar + ` holiday - dates on which no schedule runs.

Occurrences falling on a holiday are skipped and reported by
'schedule preview --include-disabled' with reason "holiday".

Examples:
  dialpulse holiday add h-july4 2024-07-04 --name "Independence Day"
  dialpulse holiday apply -f holidays.yaml
  dialpulse holiday ls
  dialpulse holiday rm h-july4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var holidayAddCmd = &cobra.Command{
	Use:   "add <id> <YYYY-MM-DD>",
	Short: "Add or replace a holiday",
	Args:  cobra.ExactArgs(2),
	RunE:  runHolidayAdd,
}

var holidayApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Add or replace the holidays in a manifest",
	RunE:  runHolidayApply,
}

var holidayLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List holidays",
	RunE:  runHolidayLs,
}

var holidayRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a holiday",
	Args:  cobra.ExactArgs(1),
	RunE:  runHolidayRm,
}

func init() {
	holidayAddCmd.Flags().String("name", "", "Display name")
	holidayApplyCmd.Flags().StringP("file", "f", "", "Manifest file (- for stdin)")

	HolidayCmd.AddCommand(holidayAddCmd)
	HolidayCmd.AddCommand(holidayApplyCmd)
	HolidayCmd.AddCommand(holidayLsCmd)
	HolidayCmd.AddCommand(holidayRmCmd)
}

func saveHolidays(cmd *cobra.Command, holidays []execution.Holiday) error {
	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	for _, h := range holidays {
		if err := svc.store.SaveHoliday(cmd.Context(), h); err != nil {
			return err
		}
		pterm.Success.Printf("Saved holiday %s on %s\n", h.ID, h.ISODate)
	}
	return nil
}

func runHolidayAdd(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	m := manifest{Holidays: []execution.Holiday{{ID: args[0], Name: name, ISODate: args[1]}}}
	if err := m.validate(); err != nil {
		return err
	}
	return saveHolidays(cmd, m.Holidays)
}

func runHolidayApply(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	m, err := readManifest(path)
	if err != nil {
		return err
	}
	if len(m.Holidays) == 0 {
		return errors.Wrap(errors.ErrInvalidRequest, "manifest has no holidays")
	}
	if err := m.validate(); err != nil {
		return err
	}
	return saveHolidays(cmd, m.Holidays)
}

func runHolidayLs(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	holidays, err := svc.store.ListHolidays(cmd.Context())
	if err != nil {
		return err
	}
	if len(holidays) == 0 {
		fmt.Printf("%s No holidays\n", sym.Calendar)
		return nil
	}
	data := pterm.TableData{{"ID", "DATE", "NAME"}}
	for _, h := range holidays {
		data = append(data, []string{h.ID, h.ISODate, h.Name})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runHolidayRm(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.store.DeleteHoliday(cmd.Context(), args[0]); err != nil {
		return err
	}
	pterm.Success.Printf("Removed holiday %s\n", args[0])
	return nil
}
