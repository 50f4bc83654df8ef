package recurrence

import (
	"fmt"
	"sort"
)

// SetDisabled toggles the schedule's disabled state and returns "" on success or a
// description of why nothing changed.
//
// Single calendars only have the whole-schedule flag; occurrenceDate is ignored.
// Recurring calendars toggle occurrenceDate on the disabled-date list when given,
// otherwise the whole-schedule flag.
func (s *Schedule) SetDisabled(disabled bool, occurrenceDate string) string {
	if s.Calendar.IsSingle() || occurrenceDate == "" {
		if s.Disabled == disabled {
			return fmt.Sprintf("schedule is already %s", enabledWord(disabled))
		}
		s.Disabled = disabled
		return ""
	}

	d, err := parseDate(occurrenceDate)
	if err != nil {
		return err.Error()
	}
	date := d.Format(DateLayout)

	rec := s.Calendar.Recurring
	idx := -1
	for i, existing := range rec.DisabledDates {
		if e, err := parseDate(existing); err == nil && e.Format(DateLayout) == date {
			idx = i
			break
		}
	}

	switch {
	case disabled && idx >= 0:
		return fmt.Sprintf("occurrence on %s is already disabled", date)
	case !disabled && idx < 0:
		return fmt.Sprintf("occurrence on %s is not disabled", date)
	case disabled:
		rec.DisabledDates = append(rec.DisabledDates, date)
		sort.Strings(rec.DisabledDates)
	default:
		rec.DisabledDates = append(rec.DisabledDates[:idx], rec.DisabledDates[idx+1:]...)
	}
	return ""
}

func enabledWord(disabled bool) string {
	if disabled {
		return "disabled"
	}
	return "enabled"
}
