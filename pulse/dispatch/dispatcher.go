// Package dispatch drains the shared record queue at this instance's fair
// share of the global CPS budget and places calls through the telephony
// executor.
//
// Three loops run side by side: the dequeue loop pulls records and buffers the
// eligible ones, the placement loop pops the newest buffered record and dials
// it, and the reaper hangs up calls that have rung too long. The loops share
// only the buffer and the pending set.
package dispatch

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/dialpulse/am"
	"github.com/teranos/dialpulse/am/geotime"
	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/logger"
	"github.com/teranos/dialpulse/pulse/budget"
	"github.com/teranos/dialpulse/pulse/contacts"
	"github.com/teranos/dialpulse/pulse/execution"
	"github.com/teranos/dialpulse/pulse/membership"
	"github.com/teranos/dialpulse/pulse/queue"
	"github.com/teranos/dialpulse/telephony"
)

const (
	// placementTimeout bounds one placement, which outlives loop cancellation
	placementTimeout = 30 * time.Second
	drainTimeout     = 5 * time.Second
)

// Queue is the shared ordered queue of executable records
type Queue interface {
	Dequeue(ctx context.Context, n int) ([]queue.Record, error)
	Enqueue(ctx context.Context, records []queue.Record) (int, error)
}

// StateMachine is the execution side the dispatcher reports to
type StateMachine interface {
	DialProfile(ctx context.Context, ceID string) (execution.DialProfile, error)
	CheckEndState(ctx context.Context, ids ...string) error
	IncrementAttempted(ctx context.Context, ceID string) error
	RecordPlacement(ctx context.Context, o execution.PlacementOutcome) error
}

// ContactStore tracks placed calls that are still ringing
type ContactStore interface {
	Track(ctx context.Context, r contacts.Ringing) error
	Remove(ctx context.Context, contactID string) (bool, error)
	OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]contacts.Ringing, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// StatsRecorder is the counter sink
type StatsRecorder interface {
	Record(ctx context.Context, campaignKey string, counters []string, at time.Time, correlationID, source string) error
}

// Membership supplies the active instance count and this instance's ordinal
type Membership interface {
	View() membership.View
}

// Config tunes the loops
type Config struct {
	DequeueFrequency             time.Duration
	RingTimeoutCheckFrequency    time.Duration
	MaxRingTimeoutHangupsPerLoop int
	CheckContactBeforeCompletion bool
	MaxRingTime                  time.Duration
	PlacementPoll                time.Duration
	Upstream                     *time.Location // zone of record deadlines
	SourcePhoneNumber            string         // used when the campaign has none
}

// ConfigFromDialer builds a Config from the dialer section
func ConfigFromDialer(c am.DialerConfig, sourcePhoneNumber string) (Config, error) {
	loc, err := geotime.LoadLocation(c.UpstreamTimezone)
	if err != nil {
		return Config{}, errors.Wrap(err, "dialer.upstream_timezone")
	}
	return Config{
		DequeueFrequency:             c.DequeueFrequency(),
		RingTimeoutCheckFrequency:    c.RingTimeoutCheckFrequency(),
		MaxRingTimeoutHangupsPerLoop: c.MaxRingTimeoutHangupsPerLoop,
		CheckContactBeforeCompletion: c.CheckContactBeforeCompletion,
		MaxRingTime:                  c.MaxRingTime(),
		PlacementPoll:                c.PlacementPoll(),
		Upstream:                     loc,
		SourcePhoneNumber:            sourcePhoneNumber,
	}, nil
}

func (c *Config) applyDefaults() {
	if c.DequeueFrequency <= 0 {
		c.DequeueFrequency = time.Second
	}
	if c.RingTimeoutCheckFrequency <= 0 {
		c.RingTimeoutCheckFrequency = 5 * time.Second
	}
	if c.MaxRingTime <= 0 {
		c.MaxRingTime = time.Minute
	}
	if c.PlacementPoll <= 0 {
		c.PlacementPoll = time.Millisecond
	}
	if c.Upstream == nil {
		c.Upstream = time.UTC
	}
}

// Deps are the collaborators a Dispatcher drives
type Deps struct {
	Queue      Queue
	States     StateMachine
	Executor   telephony.Executor
	Contacts   ContactStore
	Stats      StatsRecorder
	Membership Membership
	Budget     *budget.CPS
}

func (d Deps) validate() error {
	switch {
	case d.Queue == nil:
		return errors.New("dispatch: queue is required")
	case d.States == nil:
		return errors.New("dispatch: state machine is required")
	case d.Executor == nil:
		return errors.New("dispatch: telephony executor is required")
	case d.Contacts == nil:
		return errors.New("dispatch: contact store is required")
	case d.Stats == nil:
		return errors.New("dispatch: stats recorder is required")
	case d.Membership == nil:
		return errors.New("dispatch: membership is required")
	case d.Budget == nil:
		return errors.New("dispatch: cps budget is required")
	}
	return nil
}

// Dispatcher runs the dequeue, placement and reaper loops of one instance
type Dispatcher struct {
	cfg     Config
	deps    Deps
	buffer  *Buffer
	pending *PendingSet
	limiter *budget.Limiter
	timeNow func() time.Time

	// dequeue loop state
	mu       sync.Mutex
	lastTick time.Time
	carry    float64

	profilesMu sync.RWMutex
	profiles   map[string]execution.DialProfile

	placements   sync.WaitGroup
	reaperPrimed atomic.Bool

	logger    *zap.SugaredLogger
	dialLog   *zap.SugaredLogger
	reaperLog *zap.SugaredLogger
}

// New creates a dispatcher
func New(cfg Config, deps Deps, log *zap.SugaredLogger) (*Dispatcher, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Dispatcher{
		cfg:       cfg,
		deps:      deps,
		buffer:    &Buffer{},
		pending:   NewPendingSet(),
		limiter:   budget.NewLimiter(1, time.Second),
		timeNow:   time.Now,
		profiles:  make(map[string]execution.DialProfile),
		logger:    logger.AddPulseSymbol(log),
		dialLog:   logger.AddDialSymbol(log),
		reaperLog: logger.AddReaperSymbol(log),
	}, nil
}

// Pending exposes the pending set
func (d *Dispatcher) Pending() *PendingSet {
	return d.pending
}

// Buffered returns how many eligible records wait for placement
func (d *Dispatcher) Buffered() int {
	return d.buffer.Len()
}

// LocalCPS returns this instance's current share of the global budget
func (d *Dispatcher) LocalCPS() (int, membership.View) {
	view := d.deps.Membership.View()
	return d.deps.Budget.Local(view.Instances, view.Position), view
}

// placementInterval is the gap between placements at a given local CPS
func placementInterval(localCPS int) time.Duration {
	if localCPS <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(localCPS)
}

// Run starts the three loops and blocks until ctx is done. In-flight
// placements finish; records still buffered go back on the queue.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.lastTick = d.timeNow()
	d.mu.Unlock()

	local, view := d.LocalCPS()
	d.logger.Infow("Dispatcher started",
		logger.FieldLocalCPS, local,
		logger.FieldGlobalCPS, d.deps.Budget.Global(),
		logger.FieldInstances, view.Instances,
		logger.FieldOrdinal, view.Position)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.runDequeue(gctx) })
	g.Go(func() error { return d.runPlacement(gctx) })
	g.Go(func() error { return d.runReaper(gctx) })
	err := g.Wait()

	d.placements.Wait()
	d.drain()
	d.logger.Infow("Dispatcher stopped")
	return err
}

func (d *Dispatcher) runDequeue(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.DequeueFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.DequeueTick(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warnw("Dequeue tick failed", logger.FieldError, err)
			}
		}
	}
}

func (d *Dispatcher) runPlacement(ctx context.Context) error {
	timer := time.NewTimer(d.cfg.PlacementPoll)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			timer.Reset(d.PlaceNext(ctx))
		}
	}
}

func (d *Dispatcher) runReaper(ctx context.Context) error {
	reap := func() {
		if _, err := d.ReapTick(ctx); err != nil && ctx.Err() == nil {
			d.reaperLog.Warnw("Reaper tick failed", logger.FieldError, err)
		}
	}
	reap()

	ticker := time.NewTicker(d.cfg.RingTimeoutCheckFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reap()
		}
	}
}

// drain returns buffered records to the queue and clears their pending entries
func (d *Dispatcher) drain() {
	items := d.buffer.Drain()
	if len(items) == 0 {
		return
	}
	records := make([]queue.Record, len(items))
	for i, it := range items {
		d.pending.Remove(it.key)
		records[i] = it.record
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	d.requeue(ctx, records)
}

func (d *Dispatcher) requeue(ctx context.Context, records []queue.Record) {
	if _, err := d.deps.Queue.Enqueue(ctx, records); err != nil {
		d.logger.Warnw("Failed to requeue records",
			logger.FieldCount, len(records), logger.FieldError, err)
	}
}

// profile returns the cached dial profile of a campaign execution
func (d *Dispatcher) profile(ceID string) (execution.DialProfile, bool) {
	d.profilesMu.RLock()
	defer d.profilesMu.RUnlock()
	p, ok := d.profiles[ceID]
	return p, ok
}

// refreshProfiles reloads profiles. Unknown executions are evicted; ids whose
// lookup failed for another reason are returned and keep their old entry.
func (d *Dispatcher) refreshProfiles(ctx context.Context, ids []string) map[string]bool {
	failed := make(map[string]bool)
	for _, id := range ids {
		p, err := d.deps.States.DialProfile(ctx, id)
		d.profilesMu.Lock()
		switch {
		case errors.IsNotFoundError(err):
			delete(d.profiles, id)
		case err != nil:
			failed[id] = true
		default:
			d.profiles[id] = p
		}
		d.profilesMu.Unlock()

		if err != nil && !errors.IsNotFoundError(err) {
			d.logger.Warnw("Failed to load dial profile",
				logger.FieldCampaignExecutionID, id, logger.FieldError, err)
		}
	}
	return failed
}

// pruneProfiles forgets executions with nothing pending
func (d *Dispatcher) pruneProfiles() {
	d.profilesMu.Lock()
	defer d.profilesMu.Unlock()
	for id := range d.profiles {
		if !d.pending.Has(id) {
			delete(d.profiles, id)
		}
	}
}

// eligible applies the dispatch predicate to a record under profile p
func (d *Dispatcher) eligible(rec queue.Record, p execution.DialProfile, known bool, t time.Time) bool {
	return known && p.Callable(t) && IsRecordCallableAt(rec, p.EndBy, t, d.cfg.Upstream)
}

// DequeueResult summarizes one dequeue tick
type DequeueResult struct {
	LocalCPS   int
	Target     int
	Dequeued   int
	Eligible   int
	Ineligible int
	Deferred   int
}

// DequeueTick pulls this tick's share of records. The target is
// localCPS*elapsed rounded, with the rounding error carried into the next
// tick. Ineligible records are dropped and their executions get one batched
// end-state check; their shortfall is pulled again until the tick period
// runs out.
func (d *Dispatcher) DequeueTick(ctx context.Context) (DequeueResult, error) {
	now := d.timeNow()
	local, _ := d.LocalCPS()

	d.mu.Lock()
	elapsed := d.cfg.DequeueFrequency
	if !d.lastTick.IsZero() {
		elapsed = now.Sub(d.lastTick)
	}
	d.lastTick = now
	exact := float64(local)*elapsed.Seconds() + d.carry
	target := int(math.Round(exact))
	if target < 0 {
		target = 0
	}
	d.carry = exact - float64(target)
	d.mu.Unlock()

	d.limiter.SetMax(max(local, 1))
	result := DequeueResult{LocalCPS: local, Target: target}

	// Status changes of executions that still have buffered records
	d.refreshProfiles(ctx, d.pending.CampaignExecutions())
	defer d.pruneProfiles()

	ineligible := make(map[string]struct{})
	topUpBy := now.Add(d.cfg.DequeueFrequency)
	want := target
	for want > 0 {
		records, err := d.deps.Queue.Dequeue(ctx, want)
		if err != nil {
			return result, errors.Wrap(err, "dequeue records")
		}
		result.Dequeued += len(records)
		if len(records) == 0 {
			break
		}

		admitted, missed, deferred := d.admit(ctx, records, ineligible)
		result.Eligible += admitted
		result.Ineligible += missed
		result.Deferred += deferred

		if missed == 0 || len(records) < want || d.timeNow().After(topUpBy) {
			break
		}
		want = missed
	}

	if len(ineligible) > 0 {
		ids := make([]string, 0, len(ineligible))
		for id := range ineligible {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if err := d.deps.States.CheckEndState(ctx, ids...); err != nil {
			d.logger.Warnw("End-state check failed",
				logger.FieldCount, len(ids), logger.FieldError, err)
		}
	}

	if result.Dequeued > 0 {
		d.logger.Debugw("Dequeue tick",
			logger.FieldLocalCPS, local,
			logger.FieldElapsedMS, elapsed.Milliseconds(),
			"target", target,
			"eligible", result.Eligible,
			"ineligible", result.Ineligible)
	}
	return result, nil
}

// admit partitions a batch: eligible records enter the pending set and the
// buffer, ineligible ones are dropped and their executions noted. Records
// whose execution could not be looked up go back on the queue.
func (d *Dispatcher) admit(ctx context.Context, records []queue.Record, ineligible map[string]struct{}) (admitted, missed, deferred int) {
	var unseen []string
	seen := make(map[string]bool)
	for _, rec := range records {
		id := rec.CampaignExecutionID
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := d.profile(id); !ok {
			unseen = append(unseen, id)
		}
	}
	failed := d.refreshProfiles(ctx, unseen)

	now := d.timeNow()
	var items []buffered
	var retry []queue.Record
	for _, rec := range records {
		if failed[rec.CampaignExecutionID] {
			retry = append(retry, rec)
			continue
		}
		p, known := d.profile(rec.CampaignExecutionID)
		if !d.eligible(rec, p, known, now) {
			ineligible[rec.CampaignExecutionID] = struct{}{}
			missed++
			continue
		}
		key := PendingKey{
			CampaignExecutionID: rec.CampaignExecutionID,
			RecordID:            rec.RecordID,
			PhoneNumber:         selectPhone(rec.Phones, p.Behavior.PhoneFields),
		}
		d.pending.Add(key)
		items = append(items, buffered{record: rec, key: key})
	}
	d.buffer.Push(items...)

	if len(retry) > 0 {
		d.requeue(ctx, retry)
	}
	return len(items), missed, len(retry)
}

// PlaceNext pops buffered records until one can be placed, starts its
// placement, and returns how long to wait before the next call. Stale records
// are dropped and records of paused executions go back on the queue, both
// without waiting.
func (d *Dispatcher) PlaceNext(ctx context.Context) time.Duration {
	for {
		it, ok := d.buffer.Pop()
		if !ok {
			return d.cfg.PlacementPoll
		}

		now := d.timeNow()
		p, known := d.profile(it.key.CampaignExecutionID)
		if !d.eligible(it.record, p, known, now) {
			d.pending.Remove(it.key)
			d.dialLog.Debugw("Dropped stale record",
				logger.FieldCampaignExecutionID, it.key.CampaignExecutionID,
				logger.FieldRecordID, it.key.RecordID)
			continue
		}
		if p.Status == execution.CampaignPaused || p.Status == execution.CampaignStarting {
			d.pending.Remove(it.key)
			d.requeue(ctx, []queue.Record{it.record})
			continue
		}

		if err := d.limiter.Allow(); err != nil {
			d.buffer.Push(it)
			return d.cfg.PlacementPoll
		}

		d.placements.Add(1)
		go func() {
			defer d.placements.Done()
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), placementTimeout)
			defer cancel()
			d.place(pctx, it, p)
		}()

		local, _ := d.LocalCPS()
		return placementInterval(local)
	}
}

// place dials one record. Its pending entry is released on every path.
func (d *Dispatcher) place(ctx context.Context, it buffered, p execution.DialProfile) {
	defer d.pending.Remove(it.key)
	rec := it.record

	if err := d.deps.States.IncrementAttempted(ctx, rec.CampaignExecutionID); err != nil {
		d.dialLog.Warnw("Failed to increment attempted",
			logger.FieldCampaignExecutionID, rec.CampaignExecutionID, logger.FieldError, err)
	}

	outcome := execution.PlacementOutcome{
		CampaignExecutionID: rec.CampaignExecutionID,
		CampaignID:          p.CampaignID,
		RecordID:            rec.RecordID,
		PhoneNumber:         it.key.PhoneNumber,
	}
	if it.key.PhoneNumber == "" {
		outcome.Err = errors.Wrapf(errors.ErrInvalidRequest, "record %s has no phone number", rec.RecordID)
	} else {
		source := p.SourcePhoneNumber
		if source == "" {
			source = d.cfg.SourcePhoneNumber
		}
		outcome.ContactID, outcome.Err = d.deps.Executor.PlaceCall(ctx, callRequest(rec, it.key.PhoneNumber, source, p.Behavior))
	}

	if outcome.Err == nil {
		err := d.deps.Contacts.Track(ctx, contacts.Ringing{
			ContactID:           outcome.ContactID,
			CampaignExecutionID: rec.CampaignExecutionID,
			CampaignID:          p.CampaignID,
			RecordID:            rec.RecordID,
			PhoneNumber:         it.key.PhoneNumber,
			StartedAt:           d.timeNow(),
		})
		if err != nil {
			d.dialLog.Warnw("Failed to track ringing contact",
				logger.FieldContactID, outcome.ContactID, logger.FieldError, err)
		}
	}

	if err := d.deps.States.RecordPlacement(ctx, outcome); err != nil {
		d.dialLog.Warnw("Failed to record placement",
			logger.FieldCampaignExecutionID, rec.CampaignExecutionID,
			logger.FieldRecordID, rec.RecordID,
			logger.FieldError, err)
	}
}

// callRequest builds the backend request for one record under a sequence's
// behavior. The machine flow only travels with ROUTE.
func callRequest(rec queue.Record, destination, source string, b execution.Behavior) telephony.CallRequest {
	req := telephony.CallRequest{
		Destination:     destination,
		Source:          source,
		FlowID:          b.LivePartyFlowID,
		Attributes:      callAttributes(rec),
		MachineHandling: b.MachineHandling,
	}
	if req.MachineHandling == "" {
		req.MachineHandling = execution.MachineHangup
	}
	if req.MachineHandling == execution.MachineRoute {
		req.MachineFlowID = b.MachineFlowID
	}
	return req
}

// callAttributes are the record's attributes plus the ids a postback needs
func callAttributes(rec queue.Record) map[string]string {
	attrs := make(map[string]string, len(rec.Attributes)+2)
	for k, v := range rec.Attributes {
		attrs[k] = v
	}
	attrs["record_id"] = rec.RecordID
	attrs["campaign_execution_id"] = rec.CampaignExecutionID
	return attrs
}
