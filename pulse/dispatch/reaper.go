package dispatch

import (
	"context"
	"time"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/logger"
	"github.com/teranos/dialpulse/pulse/contacts"
	"github.com/teranos/dialpulse/pulse/stats"
	"github.com/teranos/dialpulse/sym"
	"github.com/teranos/dialpulse/telephony"
)

// startupPurgeAge is how old a ringing record must be to be purged when the
// reaper first runs after a restart
const startupPurgeAge = 60 * time.Second

// ReapResult summarizes one reaper tick
type ReapResult struct {
	Purged     int // first run only
	Terminated int
	Released   int // answered or already gone; tracking removed, no hangup
}

// ReapTick hangs up calls ringing longer than the max ring time, oldest
// first and at most MaxRingTimeoutHangupsPerLoop per tick. The first tick
// after start only purges tracking left over from a previous process.
func (d *Dispatcher) ReapTick(ctx context.Context) (ReapResult, error) {
	var result ReapResult
	now := d.timeNow()

	if !d.reaperPrimed.Load() {
		n, err := d.deps.Contacts.PurgeOlderThan(ctx, now.Add(-startupPurgeAge))
		if err != nil {
			return result, errors.Wrap(err, "purge stale ringing contacts")
		}
		d.reaperPrimed.Store(true)
		result.Purged = n
		if n > 0 {
			d.reaperLog.Infow(sym.PulseOpen+" Purged stale ringing contacts", logger.FieldCount, n)
		}
		return result, nil
	}

	ringing, err := d.deps.Contacts.OlderThan(ctx, now.Add(-d.cfg.MaxRingTime), d.cfg.MaxRingTimeoutHangupsPerLoop)
	if err != nil {
		return result, errors.Wrap(err, "find ring timeouts")
	}

	for _, r := range ringing {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if d.cfg.CheckContactBeforeCompletion {
			stillRinging, err := d.confirmRinging(ctx, r)
			if err != nil {
				d.reaperLog.Warnw("Failed to describe contact",
					logger.FieldContactID, r.ContactID, logger.FieldError, err)
				continue
			}
			if !stillRinging {
				d.untrack(ctx, r)
				result.Released++
				continue
			}
		}

		if err := d.deps.Executor.StopCall(ctx, r.ContactID); err != nil {
			d.reaperLog.Warnw("Failed to stop ring-timeout contact",
				logger.FieldContactID, r.ContactID, logger.FieldError, err)
			continue
		}

		key := r.CampaignID
		if key == "" {
			key = r.CampaignExecutionID
		}
		if err := d.deps.Stats.Record(ctx, key, []string{stats.CounterAbandonedIVR}, now, r.ContactID, stats.SourceReaper); err != nil {
			d.reaperLog.Warnw("Failed to record ring timeout",
				logger.FieldContactID, r.ContactID, logger.FieldError, err)
		}
		d.untrack(ctx, r)
		result.Terminated++
	}

	if result.Terminated > 0 {
		d.reaperLog.Infow("Terminated ring-timeout contacts",
			logger.FieldCount, result.Terminated,
			"max_ring_time", d.cfg.MaxRingTime)
	}
	return result, nil
}

// confirmRinging asks the backend whether a contact is still unanswered
func (d *Dispatcher) confirmRinging(ctx context.Context, r contacts.Ringing) (bool, error) {
	call, err := d.deps.Executor.DescribeCall(ctx, r.ContactID)
	switch {
	case errors.IsNotFoundError(err):
		return false, nil
	case err != nil:
		return false, err
	}
	return !call.Live() && call.State != telephony.StateEnded, nil
}

func (d *Dispatcher) untrack(ctx context.Context, r contacts.Ringing) {
	if _, err := d.deps.Contacts.Remove(ctx, r.ContactID); err != nil {
		d.reaperLog.Warnw("Failed to remove ringing contact",
			logger.FieldContactID, r.ContactID, logger.FieldError, err)
	}
}
