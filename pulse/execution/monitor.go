package execution

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/logger"
	"github.com/teranos/dialpulse/pulse/recurrence"
)

// Monitor periodically materializes running occurrences and sweeps campaign
// executions that may be done
type Monitor struct {
	manager  *Manager
	interval time.Duration
	timeNow  func() time.Time
	logger   *zap.SugaredLogger
}

// TickResult summarizes one monitor pass
type TickResult struct {
	Started int
	Swept   int
}

// NewMonitor creates a monitor that ticks every interval (at least one second)
func NewMonitor(manager *Manager, interval time.Duration, log *zap.SugaredLogger) *Monitor {
	if interval < time.Second {
		interval = time.Second
	}
	return &Monitor{
		manager:  manager,
		interval: interval,
		timeNow:  time.Now,
		logger:   logger.AddCalendarSymbol(log),
	}
}

// Tick runs one pass
func (m *Monitor) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult
	now := m.timeNow()
	store := m.manager.Store()

	schedules, err := store.ListSchedules(ctx)
	if err != nil {
		return result, err
	}
	exclusions, err := store.HolidayExclusions(ctx)
	if err != nil {
		return result, err
	}

	for _, sch := range schedules {
		if problems := recurrence.Validate(sch.Schedule); len(problems) > 0 {
			m.logger.Warnw("Skipping invalid schedule",
				logger.FieldScheduleID, sch.ID, "problems", problems)
			continue
		}
		occ, running, err := sch.RunningTimeAt(now, exclusions)
		if err != nil {
			m.logger.Warnw("Failed to evaluate schedule",
				logger.FieldScheduleID, sch.ID, logger.FieldError, err)
			continue
		}
		if !running {
			continue
		}

		_, err = m.manager.StartOccurrence(ctx, sch, occ)
		switch {
		case errors.Is(err, errors.ErrConflict):
			// already covered
		case err != nil:
			m.logger.Warnw("Failed to start occurrence",
				logger.FieldScheduleID, sch.ID, logger.FieldError, err)
		default:
			result.Started++
		}
	}

	finishable, err := store.ListFinishableCampaignExecutions(ctx, now)
	if err != nil {
		return result, err
	}
	if len(finishable) > 0 {
		ids := make([]string, len(finishable))
		for i, ce := range finishable {
			ids[i] = ce.ID
		}
		result.Swept = len(ids)
		if err := m.manager.CheckEndState(ctx, ids...); err != nil {
			return result, err
		}
	}

	if result.Started > 0 || result.Swept > 0 {
		m.logger.Infow("Monitor pass", "started", result.Started, "swept", result.Swept)
	}
	return result, nil
}

// Run ticks once immediately, then on an @every schedule until ctx is done.
// A pass still running when the next one is due is skipped.
func (m *Monitor) Run(ctx context.Context) error {
	tick := func() {
		if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warnw("Monitor pass failed", logger.FieldError, err)
		}
	}
	tick()

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc("@every "+m.interval.String(), tick); err != nil {
		return errors.Wrap(err, "schedule monitor")
	}
	c.Start()
	m.logger.Infow("Monitor started", "interval", m.interval)

	<-ctx.Done()
	<-c.Stop().Done()
	m.logger.Infow("Monitor stopped")
	return nil
}
