package recurrence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
		want     string // substring of the first problem; "" = valid
	}{
		{
			name:     "valid daily",
			schedule: *daily("2024-06-01T09:00", 60),
		},
		{
			name: "valid single",
			schedule: Schedule{
				Calendar:        Calendar{Timezone: "Europe/Berlin", Single: "2024-06-01T09:00"},
				DurationMinutes: 1439,
			},
		},
		{
			name: "both single and recurring",
			schedule: Schedule{
				Calendar: Calendar{
					Timezone:  "UTC",
					Single:    "2024-06-01T09:00",
					Recurring: &Recurring{Start: "2024-06-01T09:00", Rule: "FREQ=DAILY"},
				},
				DurationMinutes: 10,
			},
			want: "not both",
		},
		{
			name:     "neither",
			schedule: Schedule{Calendar: Calendar{Timezone: "UTC"}, DurationMinutes: 10},
			want:     "exactly one",
		},
		{
			name:     "hourly rejected",
			schedule: Schedule{Calendar: Calendar{Timezone: "UTC", Recurring: &Recurring{Start: "2024-06-01T09:00", Rule: "FREQ=HOURLY"}}, DurationMinutes: 10},
			want:     "finer than daily",
		},
		{
			name:     "byhour rejected",
			schedule: Schedule{Calendar: Calendar{Timezone: "UTC", Recurring: &Recurring{Start: "2024-06-01T09:00", Rule: "FREQ=DAILY;BYHOUR=9,15"}}, DurationMinutes: 10},
			want:     "BYHOUR",
		},
		{
			name:     "unparseable rule",
			schedule: Schedule{Calendar: Calendar{Timezone: "UTC", Recurring: &Recurring{Start: "2024-06-01T09:00", Rule: "FREQ=SOMETIMES"}}, DurationMinutes: 10},
			want:     "parse rule",
		},
		{
			name:     "unknown zone",
			schedule: Schedule{Calendar: Calendar{Timezone: "Mars/Base", Single: "2024-06-01T09:00"}, DurationMinutes: 10},
			want:     "timezone",
		},
		{
			name:     "zero duration",
			schedule: Schedule{Calendar: Calendar{Timezone: "UTC", Single: "2024-06-01T09:00"}, DurationMinutes: 0},
			want:     "duration",
		},
		{
			name:     "full day duration",
			schedule: Schedule{Calendar: Calendar{Timezone: "UTC", Single: "2024-06-01T09:00"}, DurationMinutes: 1440},
			want:     "duration",
		},
		{
			name: "bad disabled date",
			schedule: Schedule{Calendar: Calendar{Timezone: "UTC", Recurring: &Recurring{
				Start: "2024-06-01T09:00", Rule: "FREQ=DAILY", DisabledDates: []string{"tomorrow"},
			}}, DurationMinutes: 10},
			want: "disabled_dates",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems := Validate(tt.schedule)
			if tt.want == "" {
				assert.Empty(t, problems)
				return
			}
			if assert.NotEmpty(t, problems) {
				assert.Contains(t, problems[0], tt.want)
			}
		})
	}
}
