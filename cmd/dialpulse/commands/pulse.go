package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/dialpulse/am"
	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/logger"
	"github.com/teranos/dialpulse/pulse/budget"
	"github.com/teranos/dialpulse/pulse/dispatch"
	"github.com/teranos/dialpulse/pulse/execution"
	"github.com/teranos/dialpulse/pulse/membership"
	"github.com/teranos/dialpulse/sym"
	"github.com/teranos/dialpulse/telephony"
)

// PulseCmd represents the pulse command - the dialer daemon
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the Pulse daemon",
	Long: sym.Pulse + ` Pulse daemon - schedules in, calls out.

One process runs:
- the occurrence monitor (materializes running schedule occurrences)
- the control subscriber (campaign and schedule signals)
- the instance heartbeat (fair share of the global CPS budget)
- the dispatcher (dequeue, placement and ring-timeout loops)

Several instances may share one database; dialer.global_cps is split
between them.

Example:
  dialpulse pulse start          # Start daemon in foreground
  dialpulse pulse status         # Show queue and control backlog`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the daemon
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	Long: `Start the Pulse daemon in foreground mode.

Runs until interrupted (Ctrl+C). On shutdown in-flight placements finish,
buffered records go back on the queue and the instance leaves the
membership table.`,
	RunE: runPulseStart,
}

var pulseStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue, ringing and control backlog",
	RunE:  runPulseStatus,
}

func init() {
	PulseCmd.AddCommand(PulseStartCmd)
	PulseCmd.AddCommand(pulseStatusCmd)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func newExecutor(cfg *am.Config) (telephony.Executor, error) {
	if cfg.Telephony.Simulate {
		return telephony.NewSimulator(logger.Logger), nil
	}
	return telephony.NewClient(telephony.ClientConfig{
		BaseURL:              cfg.Telephony.BaseURL,
		APIKey:               cfg.Telephony.APIKey,
		Timeout:              seconds(cfg.Telephony.TimeoutSeconds),
		MaxRequestsPerSecond: cfg.Telephony.MaxRequestsPerSecond,
	}, logger.Logger)
}

// watchGlobalCPS hot-reloads dialer.global_cps into cps. It returns nil
// when there is no config file to watch.
func watchGlobalCPS(cps *budget.CPS) (*am.ConfigWatcher, error) {
	paths := am.ConfigPaths()
	if len(paths) == 0 {
		return nil, nil
	}
	watcher, err := am.NewConfigWatcher(paths...)
	if err != nil {
		return nil, err
	}
	watcher.OnReload(func(cfg *am.Config) error {
		before := cps.Global()
		if err := cps.Set(cfg.Dialer.GlobalCPS); err != nil {
			return err
		}
		if before != cfg.Dialer.GlobalCPS {
			logger.PulseInfow("Global CPS changed",
				"from", before, logger.FieldGlobalCPS, cfg.Dialer.GlobalCPS)
		}
		return nil
	})
	watcher.Start()
	am.SetGlobalWatcher(watcher)
	return watcher, nil
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	instanceID := cfg.Membership.InstanceID
	if instanceID == "" {
		instanceID = membership.NewInstanceID()
	}
	svc, err := openServices(instanceID)
	if err != nil {
		return err
	}
	defer svc.Close()
	members := membership.New(svc.db, instanceID, seconds(cfg.Membership.ExpirySeconds), logger.Logger)

	cps, err := budget.NewCPS(cfg.Dialer.GlobalCPS)
	if err != nil {
		return errors.Wrap(err, "dialer.global_cps")
	}
	watcher, err := watchGlobalCPS(cps)
	if err != nil {
		logger.Warnw("Config hot reload disabled", logger.FieldError, err)
	}
	if watcher != nil {
		defer watcher.Stop()
	}

	executor, err := newExecutor(cfg)
	if err != nil {
		return err
	}
	dcfg, err := dispatch.ConfigFromDialer(cfg.Dialer, cfg.Telephony.SourcePhoneNumber)
	if err != nil {
		return err
	}
	dispatcher, err := dispatch.New(dcfg, dispatch.Deps{
		Queue:      svc.queue,
		States:     svc.manager,
		Executor:   executor,
		Contacts:   svc.contacts,
		Stats:      svc.stats,
		Membership: members,
		Budget:     cps,
	}, logger.Logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view, err := members.Heartbeat(ctx)
	if err != nil {
		return errors.Wrap(err, "join membership")
	}

	fmt.Printf("%s Pulse daemon started\n", sym.Pulse)
	fmt.Printf("  Instance:   %s (%d of %d)\n", members.InstanceID(), view.Position+1, view.Instances)
	fmt.Printf("  Database:   %s\n", cfg.GetDatabasePath())
	fmt.Printf("  Global CPS: %d\n", cps.Global())
	fmt.Printf("  Telephony:  %s\n", executorName(cfg))
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return members.Run(gctx, seconds(cfg.Membership.HeartbeatSeconds))
	})
	g.Go(func() error {
		return svc.bus.Run(gctx, time.Duration(cfg.Control.PollMS)*time.Millisecond, svc.manager)
	})
	if cfg.Monitor.IntervalSeconds > 0 {
		monitor := execution.NewMonitor(svc.manager, seconds(cfg.Monitor.IntervalSeconds), logger.Logger)
		g.Go(func() error { return monitor.Run(gctx) })
	}
	g.Go(func() error { return dispatcher.Run(gctx) })

	err = g.Wait()
	fmt.Printf("\n%s Pulse daemon stopped\n", sym.Pulse)
	return err
}

func executorName(cfg *am.Config) string {
	if cfg.Telephony.Simulate {
		return "simulator"
	}
	return cfg.Telephony.BaseURL
}

func runPulseStatus(cmd *cobra.Command, args []string) error {
	svc, err := openServices(cliInstanceID)
	if err != nil {
		return err
	}
	defer svc.Close()
	ctx := cmd.Context()

	queued, err := svc.queue.Len(ctx)
	if err != nil {
		return err
	}
	ringing, err := svc.contacts.Count(ctx)
	if err != nil {
		return err
	}
	backlog, err := svc.bus.Pending(ctx)
	if err != nil {
		return err
	}

	return pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Queued records", "Ringing calls", "Unacked control messages"},
		{fmt.Sprint(queued), fmt.Sprint(ringing), fmt.Sprint(backlog)},
	}).Render()
}
