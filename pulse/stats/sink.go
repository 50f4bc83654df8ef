// Package stats is the counter sink. Each recorded counter becomes one event
// row; totals are derived by counting. Derived or historical statistics are
// computed elsewhere from these events.
package stats

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/dialpulse/errors"
)

// Counter names
const (
	CounterDialed          = "dialed"
	CounterAttempted       = "attempted"
	CounterAbandonedIVR    = "abandoned_ivr"
	CounterPlacementFailed = "placement_failed"

	// CounterReset marks the point from which Totals start counting again
	CounterReset = "stats_reset"
)

// Sources
const (
	SourceDispatch  = "dispatch"
	SourceReaper    = "reaper"
	SourceExecution = "execution"
)

// Sink writes counter events to SQLite
type Sink struct {
	db *sql.DB
}

// NewSink creates a new stats sink
func NewSink(db *sql.DB) *Sink {
	return &Sink{db: db}
}

// Record stores one event per counter, all with the same timestamp and
// correlation id
func (s *Sink) Record(ctx context.Context, campaignKey string, counters []string, at time.Time, correlationID, source string) error {
	if campaignKey == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "stats event needs a campaign key")
	}
	if len(counters) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin stats record")
	}
	defer tx.Rollback()

	for _, counter := range counters {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stat_events (campaign_key, counter, occurred_at, correlation_id, source)
			VALUES (?, ?, ?, ?, ?)`,
			campaignKey, counter, at.UnixMilli(), correlationID, source)
		if err != nil {
			return errors.Wrapf(err, "record %s for %s", counter, campaignKey)
		}
	}
	return errors.Wrap(tx.Commit(), "commit stats record")
}

// Totals returns counter totals for one campaign key, counted from its most
// recent reset marker
func (s *Sink) Totals(ctx context.Context, campaignKey string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT counter, COUNT(*) FROM stat_events
		WHERE campaign_key = ? AND counter != ?
		  AND occurred_at >= COALESCE((
			SELECT MAX(occurred_at) FROM stat_events
			WHERE campaign_key = ? AND counter = ?), 0)
		GROUP BY counter`, campaignKey, CounterReset, campaignKey, CounterReset)
	if err != nil {
		return nil, errors.Wrapf(err, "query totals for %s", campaignKey)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var counter string
		var n int64
		if err := rows.Scan(&counter, &n); err != nil {
			return nil, errors.Wrap(err, "scan total")
		}
		totals[counter] = n
	}
	return totals, errors.Wrap(rows.Err(), "iterate totals")
}

// Row is one (campaign, counter) total
type Row struct {
	CampaignKey string
	Counter     string
	Count       int64
	Last        time.Time
}

// Summary returns totals for every campaign key with events since the cutoff
func (s *Sink) Summary(ctx context.Context, since time.Time) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT campaign_key, counter, COUNT(*), MAX(occurred_at) FROM stat_events
		WHERE occurred_at >= ?
		GROUP BY campaign_key, counter
		ORDER BY campaign_key, counter`, since.UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "query stats summary")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var last int64
		if err := rows.Scan(&r.CampaignKey, &r.Counter, &r.Count, &last); err != nil {
			return nil, errors.Wrap(err, "scan summary row")
		}
		r.Last = time.UnixMilli(last).UTC()
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate summary")
}
