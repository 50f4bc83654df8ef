// Package execution runs the schedule and campaign-execution lifecycle: an
// occurrence becomes a ScheduleExecution, which advances sequence by sequence,
// each advance spawning one CampaignExecution with its own quota, pacing
// snapshot and end-by instant.
package execution

import (
	"math"
	"time"

	"github.com/teranos/dialpulse/pulse/pacing"
	"github.com/teranos/dialpulse/pulse/recurrence"
)

// Status of a schedule execution
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusPaused   Status = "PAUSED"
	StatusStopping Status = "STOPPING"
)

// CampaignStatus of a campaign execution
type CampaignStatus string

const (
	CampaignStarting CampaignStatus = "STARTING"
	CampaignRunning  CampaignStatus = "RUNNING"
	CampaignPaused   CampaignStatus = "PAUSED"
	CampaignStopping CampaignStatus = "STOPPING"
)

// Answering-machine handling for a sequence
const (
	MachineHangup   = "HANGUP"
	MachineContinue = "CONTINUE"
	MachineRoute    = "ROUTE"
)

// Campaign owns schedules and carries campaign-level pacing
type Campaign struct {
	ID                string        `json:"id" yaml:"id"`
	Name              string        `json:"name" yaml:"name"`
	SourcePhoneNumber string        `json:"source_phone_number" yaml:"source_phone_number"`
	Pacing            pacing.Pacing `json:"pacing" yaml:"pacing"`
	CreatedAt         time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time     `json:"updated_at" yaml:"-"`
}

// Behavior is how a sequence handles the calls it places
type Behavior struct {
	MachineHandling string   `json:"machine_handling" yaml:"machine_handling"`
	LivePartyFlowID string   `json:"live_party_flow_id" yaml:"live_party_flow_id"`
	MachineFlowID   string   `json:"machine_flow_id,omitempty" yaml:"machine_flow_id,omitempty"`
	PhoneFields     []string `json:"phone_fields" yaml:"phone_fields"` // priority order
}

// Sequence is one phase of a schedule occurrence
type Sequence struct {
	Name       string         `json:"name" yaml:"name"`
	Behavior   Behavior       `json:"behavior" yaml:"behavior"`
	Pacing     *pacing.Pacing `json:"pacing,omitempty" yaml:"pacing,omitempty"`
	ClearStats bool           `json:"clear_stats,omitempty" yaml:"clear_stats,omitempty"`
}

// Schedule is the persisted schedule: timing from recurrence plus what to run
type Schedule struct {
	recurrence.Schedule `yaml:",inline"`

	ID         string        `json:"id" yaml:"id"`
	CampaignID string        `json:"campaign_id" yaml:"campaign_id"`
	Name       string        `json:"name" yaml:"name"`
	Loops      int           `json:"loops" yaml:"loops"`
	Sequences  []Sequence    `json:"sequences" yaml:"sequences"`
	Pacing     pacing.Pacing `json:"pacing" yaml:"pacing"`
	CreatedAt  time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time     `json:"updated_at" yaml:"-"`
}

// Holiday is a date on which no schedule runs
type Holiday struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	ISODate string `json:"iso_date" yaml:"iso_date"`
}

// ReasonHoliday is the disabled reason reported for holiday exclusions
const ReasonHoliday = "holiday"

// Exclusions turns holidays into recurrence exclusions
func Exclusions(holidays []Holiday) []recurrence.Exclusion {
	out := make([]recurrence.Exclusion, 0, len(holidays))
	for _, h := range holidays {
		out = append(out, recurrence.Exclusion{
			ISODate:    h.ISODate,
			Reason:     ReasonHoliday,
			EntityID:   h.ID,
			EntityName: h.Name,
		})
	}
	return out
}

// ScheduleExecution is one materialized occurrence of a schedule.
// CurrentSequenceIndex starts at -1 so the first advance yields sequence 0.
type ScheduleExecution struct {
	ID                         string        `json:"id"`
	ScheduleID                 string        `json:"schedule_id"`
	CampaignID                 string        `json:"campaign_id"`
	Status                     Status        `json:"status"`
	CurrentSequenceIndex       int           `json:"current_sequence_index"`
	CurrentSequenceLoop        int           `json:"current_sequence_loop"`
	CurrentCampaignExecutionID string        `json:"current_campaign_execution_id,omitempty"`
	History                    []string      `json:"history"`
	Pacing                     pacing.Pacing `json:"pacing"`
	OccurrenceStart            time.Time     `json:"occurrence_start"`
	DurationMinutes            int           `json:"duration_minutes"`
	Timezone                   string        `json:"timezone"`
	CreatedAt                  time.Time     `json:"created_at"`
	UpdatedAt                  time.Time     `json:"updated_at"`
}

// NextSequence moves the run-state forward and returns the sequence to run,
// or nil when the run is over (STOPPING, or every loop exhausted).
// With Loops = L and S sequences, exactly L*S calls succeed.
func (se *ScheduleExecution) NextSequence(s *Schedule) *Sequence {
	if se.Status == StatusStopping {
		return nil
	}
	if len(s.Sequences) == 0 {
		return nil
	}

	se.CurrentSequenceIndex++
	if se.CurrentSequenceIndex >= len(s.Sequences) {
		se.CurrentSequenceIndex = 0
		se.CurrentSequenceLoop++
	}
	if se.CurrentSequenceLoop >= s.Loops {
		return nil
	}
	return &s.Sequences[se.CurrentSequenceIndex]
}

// EndBy is the occurrence start plus its duration
func (se *ScheduleExecution) EndBy() time.Time {
	return se.OccurrenceStart.Add(time.Duration(se.DurationMinutes) * time.Minute)
}

// CampaignExecution is the runtime record of one sequence's run
type CampaignExecution struct {
	ID                  string         `json:"id"`
	ScheduleExecutionID string         `json:"schedule_execution_id"`
	ScheduleID          string         `json:"schedule_id"`
	CampaignID          string         `json:"campaign_id"`
	SequenceIndex       int            `json:"sequence_index"`
	SequenceLoop        int            `json:"sequence_loop"`
	SequenceName        string         `json:"sequence_name"`
	Status              CampaignStatus `json:"status"`
	RecordsToDial       int            `json:"records_to_dial"`
	RecordsAttempted    int            `json:"records_attempted"`
	Pacing              pacing.Pacing  `json:"pacing"`
	EndBy               time.Time      `json:"end_by"`
	HasReceivedPostback bool           `json:"has_received_postback"`
	CacheReleased       bool           `json:"cache_released"`
	ClearStats          bool           `json:"clear_stats"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// ShouldBeFinishedAt reports whether t is past EndBy
func (ce *CampaignExecution) ShouldBeFinishedAt(t time.Time) bool {
	return t.After(ce.EndBy)
}

// ExpireSeconds is the whole seconds left until EndBy, as a TTL hint for
// record caching. Zero or less means already expired.
func (ce *CampaignExecution) ExpireSeconds(t time.Time) int64 {
	ms := ce.EndBy.UnixMilli() - t.UnixMilli()
	return int64(math.Floor(float64(ms) / 1000))
}

// QuotaReached reports whether every record in the quota has been attempted
func (ce *CampaignExecution) QuotaReached() bool {
	return ce.RecordsToDial > 0 && ce.RecordsAttempted >= ce.RecordsToDial
}

// DialProfile is what the dispatcher needs to judge and place a record
type DialProfile struct {
	CampaignExecutionID string
	CampaignID          string
	Status              CampaignStatus
	EndBy               time.Time
	SourcePhoneNumber   string
	Behavior            Behavior
}

// Callable reports whether the execution still accepts placements at t.
// The end-by boundary is inclusive.
func (p DialProfile) Callable(t time.Time) bool {
	return p.Status != CampaignStopping && !t.After(p.EndBy)
}
