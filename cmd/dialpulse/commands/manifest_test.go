package commands

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/pulse/execution"
	"github.com/teranos/dialpulse/pulse/queue"
)

const morningManifest = `
campaigns:
  - id: camp-1
    name: Renewals
    source_phone_number: "+15550100"
    pacing:
      initial_cpa: 20
schedules:
  - id: sch-1
    campaign_id: camp-1
    name: Morning
    calendar:
      timezone: America/New_York
      recurring:
        start: "2024-06-01T09:00"
        rule: FREQ=WEEKLY;BYDAY=MO,WE,FR
        disabled_dates: ["2024-06-05"]
    duration_minutes: 120
    loops: 2
    sequences:
      - name: first
        behavior:
          live_party_flow_id: flow-live
          phone_fields: [mobile, home]
      - name: second
        clear_stats: true
        pacing:
          max_cpa: 1.5
holidays:
  - id: h-1
    name: Independence Day
    iso_date: "2024-07-04"
`

func TestDecodeManifest(t *testing.T) {
	m, err := decodeManifest(strings.NewReader(morningManifest))
	require.NoError(t, err)
	require.NoError(t, m.validate())

	require.Len(t, m.Campaigns, 1)
	assert.Equal(t, 20.0, *m.Campaigns[0].Pacing.InitialCPA)

	require.Len(t, m.Schedules, 1)
	s := m.Schedules[0]
	assert.Equal(t, "America/New_York", s.Calendar.Timezone)
	assert.Equal(t, []string{"2024-06-05"}, s.Calendar.Recurring.DisabledDates)
	assert.Equal(t, 120, s.DurationMinutes)
	require.Len(t, s.Sequences, 2)
	assert.Equal(t, []string{"mobile", "home"}, s.Sequences[0].Behavior.PhoneFields)
	assert.Equal(t, 1.5, *s.Sequences[1].Pacing.MaxCPA)
	assert.True(t, s.Sequences[1].ClearStats)

	require.Len(t, m.Holidays, 1)
	assert.Equal(t, "2024-07-04", m.Holidays[0].ISODate)
}

func TestDecodeManifestRejectsUnknownFields(t *testing.T) {
	_, err := decodeManifest(strings.NewReader("schedules:\n  - id: sch-1\n    loopz: 2\n"))
	assert.Error(t, err)

	_, err = decodeManifest(strings.NewReader(""))
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestManifestValidateReportsEveryProblem(t *testing.T) {
	m, err := decodeManifest(strings.NewReader(`
schedules:
  - id: sch-2
    campaign_id: camp-1
    calendar:
      timezone: Mars/Olympus
      single: "2024-06-01T09:00"
    duration_minutes: 30
    loops: 0
`))
	require.NoError(t, err)

	err = m.validate()
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Contains(t, err.Error(), "schedule sch-2")
	assert.Contains(t, err.Error(), "loops must be at least 1")
	assert.Contains(t, err.Error(), "at least one sequence")
}

func TestGroupRecords(t *testing.T) {
	records := []queue.Record{
		{RecordID: "r1", CampaignExecutionID: "ce-1"},
		{RecordID: "r2", CampaignExecutionID: "ce-2"},
		{RecordID: "r3", CampaignExecutionID: "ce-1"},
	}
	counts, err := groupRecords(records, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ce-1": 2, "ce-2": 1}, counts)

	counts, err = groupRecords(records, "ce-9")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ce-9": 3}, counts)
	assert.Equal(t, "ce-9", records[1].CampaignExecutionID)

	_, err = groupRecords([]queue.Record{{RecordID: "r4"}}, "")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestManifestValidateHolidayDate(t *testing.T) {
	m := manifest{Holidays: []execution.Holiday{{ID: "h-1", ISODate: "July 4th"}}}
	assert.True(t, errors.IsInvalidRequestError(m.validate()))

	m.Holidays[0].ISODate = "2024-07-04"
	assert.NoError(t, m.validate())
}
