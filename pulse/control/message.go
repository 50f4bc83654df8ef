// Package control carries campaign and schedule control signals between
// instances. Messages go through a SQLite outbox and are delivered at least
// once: a message is acknowledged only after its handler succeeds, so handlers
// must tolerate redelivery.
package control

import (
	"encoding/json"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/pulse/pacing"
)

// Kind distinguishes the two message families on the bus
type Kind string

const (
	KindCampaign Kind = "campaign"
	KindSchedule Kind = "schedule"
)

// CampaignAction is addressed to one campaign execution
type CampaignAction string

const (
	CampaignStart  CampaignAction = "START"
	CampaignStop   CampaignAction = "STOP"
	CampaignPause  CampaignAction = "PAUSE"
	CampaignResume CampaignAction = "RESUME"
)

// CampaignSignal starts, stops, pauses, or resumes a campaign execution.
// ReleaseCache only applies to STOP: queued records are dropped immediately
// instead of waiting for the end-state check.
type CampaignSignal struct {
	Action              CampaignAction `json:"action"`
	CampaignExecutionID string         `json:"campaign_execution_id"`
	ReleaseCache        bool           `json:"release_cache,omitempty"`
}

// Validate checks the signal before it is published or handled
func (s CampaignSignal) Validate() error {
	switch s.Action {
	case CampaignStart, CampaignStop, CampaignPause, CampaignResume:
	default:
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown campaign action %q", s.Action)
	}
	if s.CampaignExecutionID == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "campaign signal needs a campaign execution id")
	}
	if s.ReleaseCache && s.Action != CampaignStop {
		return errors.Wrapf(errors.ErrInvalidRequest, "release_cache is only valid with STOP, got %s", s.Action)
	}
	return nil
}

// ScheduleAction targets a schedule or one of its executions
type ScheduleAction string

const (
	ScheduleResume        ScheduleAction = "RESUME"
	ScheduleStop          ScheduleAction = "STOP"
	SchedulePause         ScheduleAction = "PAUSE"
	ScheduleUpdateRuntime ScheduleAction = "UPDATE_RUNTIME_PARAMETERS"
	ScheduleSkipSequence  ScheduleAction = "SKIP_SEQUENCE"
)

// ScheduleControl targets either every live execution of a schedule
// (ScheduleID) or a single execution (ScheduleExecutionID), never both.
type ScheduleControl struct {
	Action              ScheduleAction `json:"action"`
	ScheduleID          string         `json:"schedule_id,omitempty"`
	ScheduleExecutionID string         `json:"schedule_execution_id,omitempty"`
	Pacing              *pacing.Pacing `json:"pacing,omitempty"` // UPDATE_RUNTIME_PARAMETERS only
}

// Validate checks action and target
func (c ScheduleControl) Validate() error {
	switch c.Action {
	case ScheduleResume, ScheduleStop, SchedulePause, ScheduleSkipSequence:
	case ScheduleUpdateRuntime:
		if c.Pacing == nil || c.Pacing.IsZero() {
			return errors.Wrap(errors.ErrInvalidRequest, "UPDATE_RUNTIME_PARAMETERS needs pacing")
		}
		if problems := pacing.Validate(*c.Pacing); len(problems) > 0 {
			err := errors.Wrap(errors.ErrInvalidRequest, "invalid runtime pacing")
			for _, p := range problems {
				err = errors.WithDetail(err, p)
			}
			return err
		}
	default:
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown schedule action %q", c.Action)
	}

	hasSchedule := c.ScheduleID != ""
	hasExecution := c.ScheduleExecutionID != ""
	if hasSchedule == hasExecution {
		return errors.Wrap(errors.ErrInvalidRequest, "schedule control must target a schedule id or a schedule execution id, not both")
	}
	return nil
}

// Message is one outbox row
type Message struct {
	ID       int64
	Kind     Kind
	Payload  json.RawMessage
	Attempts int
}

// Campaign decodes a campaign message
func (m Message) Campaign() (CampaignSignal, error) {
	var s CampaignSignal
	if m.Kind != KindCampaign {
		return s, errors.Newf("message %d is %s, not campaign", m.ID, m.Kind)
	}
	if err := json.Unmarshal(m.Payload, &s); err != nil {
		return s, errors.Wrapf(err, "decode campaign message %d", m.ID)
	}
	return s, s.Validate()
}

// Schedule decodes a schedule message
func (m Message) Schedule() (ScheduleControl, error) {
	var c ScheduleControl
	if m.Kind != KindSchedule {
		return c, errors.Newf("message %d is %s, not schedule", m.ID, m.Kind)
	}
	if err := json.Unmarshal(m.Payload, &c); err != nil {
		return c, errors.Wrapf(err, "decode schedule message %d", m.ID)
	}
	return c, c.Validate()
}
