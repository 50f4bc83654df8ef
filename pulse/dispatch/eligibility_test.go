package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/dialpulse/pulse/queue"
)

func TestIsRecordCallableAt(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	now := time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC) // 09:30 EDT
	endBy := now.Add(time.Hour)

	tests := []struct {
		name     string
		deadline string
		endBy    time.Time
		at       time.Time
		want     bool
	}{
		{"no deadline", "", endBy, now, true},
		{"at end-by (inclusive)", "", endBy, endBy, true},
		{"past end-by", "", endBy, endBy.Add(time.Second), false},
		{"at deadline (inclusive)", "2024-06-03 09:30:00", endBy, now, true},
		{"past deadline", "2024-06-03 09:30:00", endBy, now.Add(time.Second), false},
		{"deadline one millisecond before", "2024-06-03 09:29:59.999", endBy, now, false},
		{"deadline one millisecond after", "2024-06-03 09:30:00.001", endBy, now, true},
		{"end-by one millisecond before", "", now.Add(-time.Millisecond), now, false},
		{"deadline read in upstream zone", "2024-06-03 12:00:00", endBy, now, true},
		{"deadline earlier in upstream zone", "2024-06-03 09:00:00", endBy, now, false},
		{"unparseable deadline", "tomorrow", endBy, now, false},
		{"deadline later but end-by passed", "2024-06-03 23:00:00", now.Add(-time.Minute), now, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := queue.Record{RecordID: "r1", Deadline: tt.deadline}
			assert.Equal(t, tt.want, IsRecordCallableAt(rec, tt.endBy, tt.at, ny))
		})
	}
}

func TestParseDeadlineDefaultsToUTC(t *testing.T) {
	d, err := ParseDeadline("2024-06-03 09:30:00", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC), d)
}

func TestSelectPhone(t *testing.T) {
	phones := map[string]string{"home": "+15550102", "mobile": " ", "work": "+15550103"}

	assert.Equal(t, "+15550102", selectPhone(phones, []string{"mobile", "home"}), "blank field is skipped")
	assert.Equal(t, "", selectPhone(phones, []string{"fax"}), "priority list is exclusive")
	assert.Equal(t, "+15550102", selectPhone(phones, nil), "first non-empty by name")
	assert.Equal(t, "", selectPhone(nil, nil))
}
