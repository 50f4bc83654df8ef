package commands

import (
	"fmt"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/sym"
)

// QueueCmd represents the queue command
var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: sym.Dial + " Load and inspect the record queue",
	Long: sym.Dial + ` queue - records waiting to be dialed.

Records belong to a campaign execution. Loading records also raises that
execution's quota (records_to_dial) by the number loaded.

Examples:
  dialpulse queue load -f records.yaml --campaign-execution ce_...
  dialpulse queue pending ce_...
  dialpulse queue release ce_...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var queueLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Enqueue the records in a manifest",
	RunE:  runQueueLoad,
}

var queuePendingCmd = &cobra.Command{
	Use:   "pending <campaign-execution-id>",
	Short: "Count queued records of a campaign execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueuePending,
}

var queueReleaseCmd = &cobra.Command{
	Use:   "release <campaign-execution-id>",
	Short: "Drop every queued record of a campaign execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRelease,
}

func init() {
	queueLoadCmd.Flags().StringP("file", "f", "", "Manifest file with a records list (- for stdin)")
	queueLoadCmd.Flags().String("campaign-execution", "", "Assign every record to this campaign execution")

	QueueCmd.AddCommand(queueLoadCmd)
	QueueCmd.AddCommand(queuePendingCmd)
	QueueCmd.AddCommand(queueReleaseCmd)
}

func runQueueLoad(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	ceID, _ := cmd.Flags().GetString("campaign-execution")

	m, err := readManifest(path)
	if err != nil {
		return err
	}
	if len(m.Records) == 0 {
		return errors.Wrap(errors.ErrInvalidRequest, "manifest has no records")
	}
	counts, err := groupRecords(m.Records, ceID)
	if err != nil {
		return err
	}

	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()
	ctx := cmd.Context()

	ids := make([]string, 0, len(counts))
	for id := range counts {
		if _, err := svc.store.GetCampaignExecution(ctx, id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	n, err := svc.queue.Enqueue(ctx, m.Records)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := svc.store.AddRecordsToDial(ctx, id, counts[id]); err != nil {
			return err
		}
		fmt.Printf("  %s: +%d\n", id, counts[id])
	}
	pterm.Success.Printf("Enqueued %d record(s)\n", n)
	return nil
}

func runQueuePending(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	n, err := svc.queue.Pending(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

func runQueueRelease(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()

	n, err := svc.queue.Release(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	pterm.Success.Printf("Released %d record(s) of %s\n", n, args[0])
	return nil
}
