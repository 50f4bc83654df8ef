package execution

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequences(n int) []Sequence {
	out := make([]Sequence, n)
	for i := range out {
		out[i] = Sequence{Name: fmt.Sprintf("seq-%d", i)}
	}
	return out
}

func TestNextSequenceRunsLoopsTimesSequences(t *testing.T) {
	for loops := 1; loops <= 4; loops++ {
		for count := 1; count <= 4; count++ {
			t.Run(fmt.Sprintf("L=%d,S=%d", loops, count), func(t *testing.T) {
				sch := &Schedule{Loops: loops, Sequences: sequences(count)}
				se := &ScheduleExecution{Status: StatusRunning, CurrentSequenceIndex: -1}

				for i := 0; i < loops*count; i++ {
					seq := se.NextSequence(sch)
					require.NotNil(t, seq, "call %d", i+1)
					assert.Equal(t, fmt.Sprintf("seq-%d", i%count), seq.Name)
					assert.Equal(t, i/count, se.CurrentSequenceLoop)
				}
				assert.Nil(t, se.NextSequence(sch))
			})
		}
	}
}

func TestNextSequenceFirstCallDoesNotBumpLoop(t *testing.T) {
	sch := &Schedule{Loops: 1, Sequences: sequences(3)}
	se := &ScheduleExecution{Status: StatusRunning, CurrentSequenceIndex: -1}

	seq := se.NextSequence(sch)
	require.NotNil(t, seq)
	assert.Equal(t, 0, se.CurrentSequenceIndex)
	assert.Equal(t, 0, se.CurrentSequenceLoop)
}

func TestNextSequenceStopsWhenStopping(t *testing.T) {
	sch := &Schedule{Loops: 5, Sequences: sequences(2)}
	se := &ScheduleExecution{Status: StatusStopping, CurrentSequenceIndex: -1}

	assert.Nil(t, se.NextSequence(sch))
	assert.Equal(t, -1, se.CurrentSequenceIndex, "run-state untouched")
}

func TestNextSequencePausedStillAdvances(t *testing.T) {
	sch := &Schedule{Loops: 1, Sequences: sequences(1)}
	se := &ScheduleExecution{Status: StatusPaused, CurrentSequenceIndex: -1}
	assert.NotNil(t, se.NextSequence(sch))
}

func TestEndTimeMath(t *testing.T) {
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	se := &ScheduleExecution{OccurrenceStart: start, DurationMinutes: 90}
	endBy := se.EndBy()
	assert.Equal(t, start.Add(90*time.Minute), endBy)

	ce := &CampaignExecution{EndBy: endBy}

	assert.False(t, ce.ShouldBeFinishedAt(endBy), "end-by itself is still inside")
	assert.True(t, ce.ShouldBeFinishedAt(endBy.Add(time.Millisecond)))

	assert.Equal(t, int64(90*60), ce.ExpireSeconds(start))
	assert.Equal(t, int64(0), ce.ExpireSeconds(endBy.Add(-999*time.Millisecond)))
	assert.Equal(t, int64(1), ce.ExpireSeconds(endBy.Add(-1500*time.Millisecond)))
	assert.Equal(t, int64(0), ce.ExpireSeconds(endBy))
	assert.Equal(t, int64(-1), ce.ExpireSeconds(endBy.Add(time.Millisecond)))
}

func TestQuotaReached(t *testing.T) {
	assert.False(t, (&CampaignExecution{}).QuotaReached(), "no quota yet")
	assert.False(t, (&CampaignExecution{RecordsToDial: 3, RecordsAttempted: 2}).QuotaReached())
	assert.True(t, (&CampaignExecution{RecordsToDial: 3, RecordsAttempted: 3}).QuotaReached())
}

func TestDialProfileCallable(t *testing.T) {
	endBy := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	p := DialProfile{Status: CampaignRunning, EndBy: endBy}

	assert.True(t, p.Callable(endBy))
	assert.False(t, p.Callable(endBy.Add(time.Millisecond)))

	p.Status = CampaignPaused
	assert.True(t, p.Callable(endBy))

	p.Status = CampaignStopping
	assert.False(t, p.Callable(endBy.Add(-time.Hour)))
}

func TestExclusionsFromHolidays(t *testing.T) {
	got := Exclusions([]Holiday{{ID: "h1", Name: "Founders Day", ISODate: "2024-06-06"}})
	require.Len(t, got, 1)
	assert.Equal(t, ReasonHoliday, got[0].Reason)
	assert.Equal(t, "h1", got[0].EntityID)
	assert.Equal(t, "Founders Day", got[0].EntityName)
}

func TestRelationshipTableBuilds(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	rel, ok := r.Lookup(EntityScheduleExecution, EntitySchedule)
	require.True(t, ok)
	assert.False(t, rel.Cascade)

	holiday, ok := r.Lookup(EntitySchedule, EntityHoliday)
	require.True(t, ok)
	assert.True(t, holiday.KeyOnly)
}
