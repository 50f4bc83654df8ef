package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/logger"
	"github.com/teranos/dialpulse/pulse/control"
	"github.com/teranos/dialpulse/pulse/pacing"
	"github.com/teranos/dialpulse/pulse/recurrence"
	"github.com/teranos/dialpulse/pulse/relation"
	"github.com/teranos/dialpulse/pulse/stats"
)

// Publisher sends campaign signals to every instance
type Publisher interface {
	PublishCampaign(ctx context.Context, s control.CampaignSignal) error
}

// RecordCache is the queue of records waiting to be dialed for an execution
type RecordCache interface {
	Release(ctx context.Context, ceID string) (int, error)
	Pending(ctx context.Context, ceID string) (int, error)
}

// ContactTracker tracks placed calls that are still ringing
type ContactTracker interface {
	Remove(ctx context.Context, contactID string) (bool, error)
}

// StatsRecorder is the counter sink
type StatsRecorder interface {
	Record(ctx context.Context, campaignKey string, counters []string, at time.Time, correlationID, source string) error
}

// Collaborators are the outside services the manager drives
type Collaborators struct {
	Publisher Publisher
	Records   RecordCache
	Contacts  ContactTracker
	Stats     StatsRecorder
}

// Manager owns every state transition of schedule and campaign executions.
// Transitions are serialized within a process; across processes the store's
// uniqueness and delete-once semantics decide who wins.
type Manager struct {
	store        *Store
	registry     *relation.Registry
	collab       Collaborators
	globalMaxCPA float64
	timeNow      func() time.Time
	mu           sync.Mutex
	logger       *zap.SugaredLogger
}

// NewManager creates a manager. globalMaxCPA is the lowest pacing tier.
func NewManager(store *Store, registry *relation.Registry, collab Collaborators, globalMaxCPA float64, log *zap.SugaredLogger) *Manager {
	return &Manager{
		store:        store,
		registry:     registry,
		collab:       collab,
		globalMaxCPA: globalMaxCPA,
		timeNow:      time.Now,
		logger:       logger.AddPulseSymbol(log),
	}
}

// Store exposes the underlying store for read paths (CLI, monitor)
func (m *Manager) Store() *Store {
	return m.store
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// StartOccurrence materializes a running occurrence and starts its first
// sequence. It fails with ErrConflict when the occurrence is already covered.
func (m *Manager) StartOccurrence(ctx context.Context, sch *Schedule, occ recurrence.Occurrence) (*ScheduleExecution, error) {
	campaign, err := m.store.GetCampaign(ctx, sch.CampaignID)
	if err != nil {
		return nil, err
	}

	se := &ScheduleExecution{
		ID:                   newID("se"),
		ScheduleID:           sch.ID,
		CampaignID:           sch.CampaignID,
		Status:               StatusRunning,
		CurrentSequenceIndex: -1,
		History:              []string{},
		Pacing:               pacing.Generate(m.globalMaxCPA, campaign.Pacing, sch.Pacing, pacing.Pacing{}),
		OccurrenceStart:      occ.Start,
		DurationMinutes:      sch.DurationMinutes,
		Timezone:             sch.Calendar.Timezone,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.CreateScheduleExecution(ctx, se); err != nil {
		return nil, err
	}
	m.logger.Infow("Occurrence started",
		logger.FieldScheduleID, sch.ID,
		logger.FieldScheduleExecutionID, se.ID,
		"occurrence_start", occ.Start,
		"end_by", se.EndBy())

	if err := m.advanceLocked(ctx, se, sch); err != nil {
		return se, err
	}
	return se, nil
}

// Advance moves a schedule execution to its next sequence, or finishes it
func (m *Manager) Advance(ctx context.Context, seID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	se, err := m.store.GetScheduleExecution(ctx, seID)
	if err != nil {
		return err
	}
	return m.advanceLocked(ctx, se, nil)
}

func (m *Manager) advanceLocked(ctx context.Context, se *ScheduleExecution, sch *Schedule) error {
	if sch == nil {
		var err error
		sch, err = m.store.GetSchedule(ctx, se.ScheduleID)
		if errors.IsNotFoundError(err) {
			se.Status = StatusStopping
			return m.finishLocked(ctx, se)
		}
		if err != nil {
			return err
		}
	}

	seq := se.NextSequence(sch)
	if seq == nil || m.timeNow().After(se.EndBy()) {
		return m.finishLocked(ctx, se)
	}

	ce := &CampaignExecution{
		ID:                  newID("ce"),
		ScheduleExecutionID: se.ID,
		ScheduleID:          se.ScheduleID,
		CampaignID:          se.CampaignID,
		SequenceIndex:       se.CurrentSequenceIndex,
		SequenceLoop:        se.CurrentSequenceLoop,
		SequenceName:        seq.Name,
		Status:              CampaignStarting,
		Pacing:              se.Pacing,
		EndBy:               se.EndBy(),
		ClearStats:          seq.ClearStats,
	}
	if seq.Pacing != nil {
		ce.Pacing = pacing.Merge(se.Pacing, *seq.Pacing)
	}

	if err := m.store.CreateCampaignExecution(ctx, ce); err != nil {
		return err
	}
	se.CurrentCampaignExecutionID = ce.ID
	se.History = append(se.History, ce.ID)
	if err := m.store.UpdateScheduleExecution(ctx, se); err != nil {
		return err
	}

	m.logger.Infow("Sequence advanced",
		logger.FieldScheduleExecutionID, se.ID,
		logger.FieldCampaignExecutionID, ce.ID,
		"sequence", ce.SequenceName,
		"index", ce.SequenceIndex,
		"loop", ce.SequenceLoop)

	if ce.ClearStats {
		m.resetStats(ctx, ce)
	}
	m.announceStart(ctx, ce)
	return nil
}

// resetStats marks the campaign's counters as starting over with this sequence
func (m *Manager) resetStats(ctx context.Context, ce *CampaignExecution) {
	if m.collab.Stats == nil {
		return
	}
	err := m.collab.Stats.Record(ctx, ce.CampaignID, []string{stats.CounterReset}, m.timeNow(), ce.ID, stats.SourceExecution)
	if err != nil {
		m.logger.Warnw("Failed to reset campaign stats",
			logger.FieldCampaignExecutionID, ce.ID, logger.FieldError, err)
	}
}

// announceStart publishes START; if the bus is unavailable the execution is
// started in place
func (m *Manager) announceStart(ctx context.Context, ce *CampaignExecution) {
	if m.collab.Publisher != nil {
		err := m.collab.Publisher.PublishCampaign(ctx, control.CampaignSignal{
			Action:              control.CampaignStart,
			CampaignExecutionID: ce.ID,
		})
		if err == nil {
			return
		}
		m.logger.Warnw("Failed to publish START, starting in place",
			logger.FieldCampaignExecutionID, ce.ID, logger.FieldError, err)
	}
	if err := m.startLocked(ctx, ce); err != nil {
		m.logger.Warnw("Failed to start campaign execution",
			logger.FieldCampaignExecutionID, ce.ID, logger.FieldError, err)
	}
}

// finishLocked ends the run: the schedule execution is destroyed once none of
// its campaign executions remain
func (m *Manager) finishLocked(ctx context.Context, se *ScheduleExecution) error {
	remaining, err := m.store.ListCampaignExecutions(ctx, se.ID)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		se.Status = StatusStopping
		return m.store.UpdateScheduleExecution(ctx, se)
	}

	deleted, err := m.store.DeleteScheduleExecution(ctx, se.ID)
	if err != nil {
		return err
	}
	if deleted {
		m.logger.Infow("Schedule execution finished",
			logger.FieldScheduleID, se.ScheduleID,
			logger.FieldScheduleExecutionID, se.ID,
			"sequences_run", len(se.History))
	}
	return nil
}

// CheckEndState finalizes each campaign execution that is done: stopping,
// past its end-by, or with its whole quota attempted and nothing left queued.
// Unknown ids are skipped.
func (m *Manager) CheckEndState(ctx context.Context, ids ...string) error {
	var errs []error
	for _, id := range ids {
		if err := m.checkEndState(ctx, id); err != nil {
			errs = append(errs, errors.Wrapf(err, "check end state of %s", id))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) checkEndState(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ce, err := m.store.GetCampaignExecution(ctx, id)
	if errors.IsNotFoundError(err) {
		return nil
	}
	if err != nil {
		return err
	}

	done, reason, err := m.isDone(ctx, ce)
	if err != nil || !done {
		return err
	}
	m.logger.Debugw("Campaign execution is done",
		logger.FieldCampaignExecutionID, ce.ID, logger.FieldReason, reason)
	return m.finalizeLocked(ctx, ce)
}

func (m *Manager) isDone(ctx context.Context, ce *CampaignExecution) (bool, string, error) {
	switch {
	case ce.Status == CampaignStopping:
		return true, "stopped", nil
	case ce.ShouldBeFinishedAt(m.timeNow()):
		return true, "end_by passed", nil
	case ce.QuotaReached():
		if m.collab.Records == nil {
			return true, "quota attempted", nil
		}
		pending, err := m.collab.Records.Pending(ctx, ce.ID)
		if err != nil {
			return false, "", err
		}
		return pending == 0, "quota attempted", nil
	}
	return false, "", nil
}

// finalizeLocked releases the record cache, destroys the campaign execution
// and advances its schedule execution
func (m *Manager) finalizeLocked(ctx context.Context, ce *CampaignExecution) error {
	if m.collab.Records != nil && !ce.CacheReleased {
		released, err := m.collab.Records.Release(ctx, ce.ID)
		if err != nil {
			return errors.Wrap(err, "release record cache")
		}
		ce.CacheReleased = true
		if released > 0 {
			m.logger.Infow("Released queued records",
				logger.FieldCampaignExecutionID, ce.ID, logger.FieldCount, released)
		}
	}

	deleted, err := m.store.DeleteCampaignExecution(ctx, ce.ID)
	if err != nil || !deleted {
		return err
	}
	m.logger.Infow("Campaign execution finished",
		logger.FieldCampaignExecutionID, ce.ID,
		"sequence", ce.SequenceName,
		"records_to_dial", ce.RecordsToDial,
		"records_attempted", ce.RecordsAttempted)

	se, err := m.store.GetScheduleExecution(ctx, ce.ScheduleExecutionID)
	if errors.IsNotFoundError(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if se.CurrentCampaignExecutionID != ce.ID {
		if se.Status == StatusStopping {
			return m.finishLocked(ctx, se)
		}
		return nil
	}
	se.CurrentCampaignExecutionID = ""
	return m.advanceLocked(ctx, se, nil)
}

func (m *Manager) startLocked(ctx context.Context, ce *CampaignExecution) error {
	if ce.Status != CampaignStarting {
		return nil
	}
	ce.Status = CampaignRunning
	se, err := m.store.GetScheduleExecution(ctx, ce.ScheduleExecutionID)
	if err == nil && se.Status == StatusPaused {
		ce.Status = CampaignPaused
	}
	return m.store.UpdateCampaignExecution(ctx, ce)
}

// HandleCampaignSignal applies a START/STOP/PAUSE/RESUME. Signals for unknown
// executions are ignored so redelivery is harmless.
func (m *Manager) HandleCampaignSignal(ctx context.Context, s control.CampaignSignal) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ce, err := m.store.GetCampaignExecution(ctx, s.CampaignExecutionID)
	if errors.IsNotFoundError(err) {
		m.logger.Debugw("Signal for unknown campaign execution",
			logger.FieldCampaignExecutionID, s.CampaignExecutionID, "action", s.Action)
		return nil
	}
	if err != nil {
		return err
	}

	log := logger.AddControlSymbol(m.logger).With(
		logger.FieldCampaignExecutionID, ce.ID, "action", s.Action, logger.FieldStatus, ce.Status)

	switch s.Action {
	case control.CampaignStart:
		err = m.startLocked(ctx, ce)
	case control.CampaignPause:
		if ce.Status == CampaignRunning || ce.Status == CampaignStarting {
			ce.Status = CampaignPaused
			err = m.store.UpdateCampaignExecution(ctx, ce)
		}
	case control.CampaignResume:
		if ce.Status == CampaignPaused {
			ce.Status = CampaignRunning
			err = m.store.UpdateCampaignExecution(ctx, ce)
		}
	case control.CampaignStop:
		err = m.stopLocked(ctx, ce, s.ReleaseCache)
	default:
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown campaign action %q", s.Action)
	}
	if err != nil {
		return err
	}
	log.Infow("Campaign signal applied", "new_status", ce.Status)
	return nil
}

// stopLocked marks the execution STOPPING. With releaseCache it is finalized
// now; otherwise the dispatcher drains it and the end-state check finishes it.
func (m *Manager) stopLocked(ctx context.Context, ce *CampaignExecution, releaseCache bool) error {
	if ce.Status != CampaignStopping {
		ce.Status = CampaignStopping
		if err := m.store.UpdateCampaignExecution(ctx, ce); err != nil {
			return err
		}
	}
	if releaseCache {
		return m.finalizeLocked(ctx, ce)
	}
	return nil
}

// HandleScheduleControl applies a schedule-level control message to one
// schedule execution or to every live execution of a schedule
func (m *Manager) HandleScheduleControl(ctx context.Context, c control.ScheduleControl) error {
	if err := c.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var targets []*ScheduleExecution
	if c.ScheduleExecutionID != "" {
		se, err := m.store.GetScheduleExecution(ctx, c.ScheduleExecutionID)
		if errors.IsNotFoundError(err) {
			m.logger.Debugw("Control for unknown schedule execution",
				logger.FieldScheduleExecutionID, c.ScheduleExecutionID, "action", c.Action)
			return nil
		}
		if err != nil {
			return err
		}
		targets = append(targets, se)
	} else {
		var err error
		targets, err = m.store.ListScheduleExecutions(ctx, c.ScheduleID)
		if err != nil {
			return err
		}
	}

	var errs []error
	for _, se := range targets {
		if err := m.applyScheduleControlLocked(ctx, se, c); err != nil {
			errs = append(errs, errors.Wrapf(err, "%s on %s", c.Action, se.ID))
			continue
		}
		logger.AddControlSymbol(m.logger).Infow("Schedule control applied",
			logger.FieldScheduleExecutionID, se.ID, "action", c.Action)
	}
	return errors.Join(errs...)
}

func (m *Manager) applyScheduleControlLocked(ctx context.Context, se *ScheduleExecution, c control.ScheduleControl) error {
	var current *CampaignExecution
	if se.CurrentCampaignExecutionID != "" {
		ce, err := m.store.GetCampaignExecution(ctx, se.CurrentCampaignExecutionID)
		if err != nil && !errors.IsNotFoundError(err) {
			return err
		}
		current = ce
	}

	switch c.Action {
	case control.SchedulePause:
		if se.Status != StatusRunning {
			return nil
		}
		se.Status = StatusPaused
		if err := m.store.UpdateScheduleExecution(ctx, se); err != nil {
			return err
		}
		if current != nil && (current.Status == CampaignRunning || current.Status == CampaignStarting) {
			current.Status = CampaignPaused
			return m.store.UpdateCampaignExecution(ctx, current)
		}

	case control.ScheduleResume:
		if se.Status != StatusPaused {
			return nil
		}
		se.Status = StatusRunning
		if err := m.store.UpdateScheduleExecution(ctx, se); err != nil {
			return err
		}
		if current != nil && current.Status == CampaignPaused {
			current.Status = CampaignRunning
			return m.store.UpdateCampaignExecution(ctx, current)
		}

	case control.ScheduleStop:
		se.Status = StatusStopping
		if err := m.store.UpdateScheduleExecution(ctx, se); err != nil {
			return err
		}
		if current == nil {
			return m.finishLocked(ctx, se)
		}
		return m.stopLocked(ctx, current, true)

	case control.ScheduleSkipSequence:
		if current == nil {
			return m.advanceLocked(ctx, se, nil)
		}
		return m.stopLocked(ctx, current, true)

	case control.ScheduleUpdateRuntime:
		se.Pacing = pacing.Merge(se.Pacing, *c.Pacing)
		if err := m.store.UpdateScheduleExecution(ctx, se); err != nil {
			return err
		}
		if current != nil {
			current.Pacing = pacing.Merge(current.Pacing, *c.Pacing)
			return m.store.UpdateCampaignExecution(ctx, current)
		}
	}
	return nil
}

// PlacementOutcome is what the dispatcher reports after each placement attempt
type PlacementOutcome struct {
	CampaignExecutionID string
	CampaignID          string
	RecordID            string
	ContactID           string
	PhoneNumber         string
	Err                 error
}

// RecordPlacement attributes a placement attempt to the campaign's counters
func (m *Manager) RecordPlacement(ctx context.Context, o PlacementOutcome) error {
	counter := stats.CounterDialed
	if o.Err != nil {
		counter = stats.CounterPlacementFailed
		m.logger.Warnw("Placement failed",
			logger.FieldCampaignExecutionID, o.CampaignExecutionID,
			logger.FieldRecordID, o.RecordID,
			logger.FieldError, o.Err)
	}
	if m.collab.Stats == nil {
		return nil
	}
	return m.collab.Stats.Record(ctx, o.CampaignID, []string{counter}, m.timeNow(), o.RecordID, stats.SourceDispatch)
}

// IncrementAttempted bumps the attempted counter of a campaign execution
func (m *Manager) IncrementAttempted(ctx context.Context, ceID string) error {
	return m.store.IncrementAttempted(ctx, ceID, 1)
}

// DialProfile returns the placement view of a campaign execution
func (m *Manager) DialProfile(ctx context.Context, ceID string) (DialProfile, error) {
	return m.store.GetDialProfile(ctx, ceID)
}

// Contact states reported by the telephony postback
const (
	ContactConnected = "CONNECTED"
	ContactEnded     = "ENDED"
)

// ContactEvent is a postback from the telephony backend about a placed call
type ContactEvent struct {
	ContactID           string `json:"contact_id"`
	CampaignExecutionID string `json:"campaign_execution_id"`
	State               string `json:"state"`
}

// HandleContactEvent stops ring tracking for a call that connected or ended,
// and marks its execution as having received a postback
func (m *Manager) HandleContactEvent(ctx context.Context, ev ContactEvent) error {
	if ev.State != ContactConnected && ev.State != ContactEnded {
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown contact state %q", ev.State)
	}
	if m.collab.Contacts != nil {
		if _, err := m.collab.Contacts.Remove(ctx, ev.ContactID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	ce, err := m.store.GetCampaignExecution(ctx, ev.CampaignExecutionID)
	if errors.IsNotFoundError(err) {
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if !ce.HasReceivedPostback {
		ce.HasReceivedPostback = true
		err = m.store.UpdateCampaignExecution(ctx, ce)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if ev.State == ContactEnded {
		return m.CheckEndState(ctx, ce.ID)
	}
	return nil
}

// DeleteSchedule deletes a schedule unless something blocks it. A blocked
// delete returns the plan with its Blocking set and no error.
func (m *Manager) DeleteSchedule(ctx context.Context, id string) (relation.Plan, error) {
	if _, err := m.store.GetSchedule(ctx, id); err != nil {
		return relation.Plan{}, err
	}
	return m.delete(ctx, EntitySchedule, id)
}

// DeleteCampaign deletes a campaign and its schedules unless a live execution
// blocks it
func (m *Manager) DeleteCampaign(ctx context.Context, id string) (relation.Plan, error) {
	if _, err := m.store.GetCampaign(ctx, id); err != nil {
		return relation.Plan{}, err
	}
	return m.delete(ctx, EntityCampaign, id)
}

func (m *Manager) delete(ctx context.Context, t relation.EntityType, id string) (relation.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	plan, err := m.registry.PlanDelete(ctx, m.store, t, id)
	if err != nil {
		return relation.Plan{}, err
	}
	if !plan.Allowed() {
		m.logger.Infow("Delete rejected",
			"type", t, "id", id, "blocking", len(plan.Blocking))
		return plan, nil
	}

	if err := m.store.deleteRefs(ctx, plan.Cascade, relation.Ref{Type: t, ID: id}); err != nil {
		return relation.Plan{}, err
	}
	m.logger.Infow(fmt.Sprintf("Deleted %s", t), "id", id, "cascaded", len(plan.Cascade))
	return plan, nil
}
