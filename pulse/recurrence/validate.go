package recurrence

import (
	"fmt"

	"github.com/teambition/rrule-go"
)

// Duration bounds in minutes (a window never spans a full day)
const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 1439
)

// Validate returns descriptive problems with a schedule's timing; empty means valid.
func Validate(s Schedule) []string {
	var problems []string

	if s.DurationMinutes < MinDurationMinutes || s.DurationMinutes > MaxDurationMinutes {
		problems = append(problems, fmt.Sprintf("duration must be between %d and %d minutes, got %d",
			MinDurationMinutes, MaxDurationMinutes, s.DurationMinutes))
	}

	cal := s.Calendar
	hasSingle := cal.Single != ""
	hasRecurring := cal.Recurring != nil
	switch {
	case hasSingle && hasRecurring:
		return append(problems, "calendar must set exactly one of single or recurring, not both")
	case !hasSingle && !hasRecurring:
		return append(problems, "calendar must set exactly one of single or recurring")
	}

	loc, err := cal.Location()
	if err != nil {
		return append(problems, err.Error())
	}

	if hasSingle {
		if _, err := parseLocal(cal.Single, loc); err != nil {
			problems = append(problems, "single: "+err.Error())
		}
		return problems
	}

	start, err := parseLocal(cal.Recurring.Start, loc)
	if err != nil {
		return append(problems, "recurring start: "+err.Error())
	}

	rule, err := parseRule(cal.Recurring.Rule, start)
	if err != nil {
		problems = append(problems, err.Error())
	} else {
		problems = append(problems, frequencyProblems(rule.OrigOptions)...)
	}

	for _, iso := range cal.Recurring.ExcludedDates {
		if _, err := parseDate(iso); err != nil {
			problems = append(problems, "excluded_dates: "+err.Error())
		}
	}
	for _, iso := range cal.Recurring.DisabledDates {
		if _, err := parseDate(iso); err != nil {
			problems = append(problems, "disabled_dates: "+err.Error())
		}
	}
	return problems
}

// frequencyProblems rejects anything that fires more than once per day
func frequencyProblems(opt rrule.ROption) []string {
	var problems []string
	if opt.Freq > rrule.DAILY {
		problems = append(problems, fmt.Sprintf("recurrence frequency %s is finer than daily", opt.Freq))
	}
	if len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 {
		problems = append(problems, "recurrence may not set BYHOUR, BYMINUTE or BYSECOND; the start time sets the time of day")
	}
	return problems
}
