package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/dialpulse/internal/util"
	"github.com/teranos/dialpulse/pulse/pacing"
	"github.com/teranos/dialpulse/pulse/recurrence"
)

func validSchedule() *Schedule {
	return &Schedule{
		Schedule: recurrence.Schedule{
			Calendar: recurrence.Calendar{
				Timezone:  "UTC",
				Recurring: &recurrence.Recurring{Start: "2024-06-01T09:00", Rule: "FREQ=DAILY"},
			},
			DurationMinutes: 60,
		},
		ID:         "sch-1",
		CampaignID: "camp-1",
		Loops:      1,
		Sequences:  []Sequence{{Name: "first", Behavior: Behavior{LivePartyFlowID: "flow-live"}}},
	}
}

func TestValidateSchedule(t *testing.T) {
	assert.Empty(t, ValidateSchedule(validSchedule()))

	s := validSchedule()
	s.Loops = 0
	s.Sequences = append(s.Sequences,
		Sequence{Name: "route", Behavior: Behavior{MachineHandling: MachineRoute}},
		Sequence{Behavior: Behavior{MachineHandling: "VOICEMAIL"}},
	)
	problems := ValidateSchedule(s)
	assert.Len(t, problems, 3)
	assert.Contains(t, problems[0], "loops")
	assert.Contains(t, problems[1], "sequence route")
	assert.Contains(t, problems[2], "sequence #2")

	s = validSchedule()
	s.CampaignID = ""
	s.Sequences = nil
	s.DurationMinutes = 0
	assert.Len(t, ValidateSchedule(s), 3)
}

func TestValidateCampaign(t *testing.T) {
	assert.Empty(t, ValidateCampaign(&Campaign{ID: "camp-1", Pacing: pacing.Pacing{MaxCPA: util.Ptr(2.0)}}))
	assert.NotEmpty(t, ValidateCampaign(&Campaign{}))
}
