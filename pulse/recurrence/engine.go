package recurrence

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/teranos/dialpulse/errors"
)

// Options tunes TimesBetween
type Options struct {
	Exclusive bool // drop occurrences exactly at start or end
	Limit     int  // 0 = unlimited
}

// anchor is a parsed calendar: zone, first start, and rule (nil for Single)
type anchor struct {
	loc   *time.Location
	start time.Time
	rule  *rrule.RRule
}

func (s *Schedule) anchor() (*anchor, error) {
	loc, err := s.Calendar.Location()
	if err != nil {
		return nil, err
	}

	if s.Calendar.IsSingle() {
		if s.Calendar.Single == "" {
			return nil, errors.New("calendar has neither single nor recurring")
		}
		start, err := parseLocal(s.Calendar.Single, loc)
		if err != nil {
			return nil, err
		}
		return &anchor{loc: loc, start: start}, nil
	}

	start, err := parseLocal(s.Calendar.Recurring.Start, loc)
	if err != nil {
		return nil, errors.Wrap(err, "recurring start")
	}
	rule, err := parseRule(s.Calendar.Recurring.Rule, start)
	if err != nil {
		return nil, err
	}
	return &anchor{loc: loc, start: start, rule: rule}, nil
}

// at returns the occurrence instant on the given ISO date: the anchor's wall clock
// on that calendar date in the calendar zone (DST-correct, not a fixed offset).
func (a *anchor) at(isoDate string) (time.Time, error) {
	d, err := parseDate(isoDate)
	if err != nil {
		return time.Time{}, err
	}
	h, m, sec := a.start.Clock()
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, sec, 0, a.loc), nil
}

// dateOf returns the ISO calendar date of t in the calendar zone
func (a *anchor) dateOf(t time.Time) string {
	return t.In(a.loc).Format(DateLayout)
}

// baseSet is the rule (or single date) minus per-occurrence excluded dates
func (s *Schedule) baseSet(a *anchor) (*rrule.Set, error) {
	set := &rrule.Set{}
	if a.rule == nil {
		set.RDate(a.start)
		return set, nil
	}

	set.RRule(a.rule)
	for _, iso := range s.Calendar.Recurring.ExcludedDates {
		t, err := a.at(iso)
		if err != nil {
			return nil, errors.Wrap(err, "excluded date")
		}
		set.ExDate(t)
	}
	return set, nil
}

// ruleSet is the effective occurrence set:
// base - excluded dates - disabled dates - external exclusions.
func (s *Schedule) ruleSet(a *anchor, exclusions []Exclusion) (*rrule.Set, error) {
	set, err := s.baseSet(a)
	if err != nil {
		return nil, err
	}

	if s.Calendar.Recurring != nil {
		for _, iso := range s.Calendar.Recurring.DisabledDates {
			t, err := a.at(iso)
			if err != nil {
				return nil, errors.Wrap(err, "disabled date")
			}
			set.ExDate(t)
		}
	}

	for _, ex := range exclusions {
		t, err := a.at(ex.ISODate)
		if err != nil {
			return nil, errors.Wrapf(err, "exclusion %s", ex.EntityID)
		}
		set.ExDate(t)
	}
	return set, nil
}

// RuleSet returns the effective occurrence set for the given external exclusions.
// A Single calendar yields a one-date set.
func (s *Schedule) RuleSet(exclusions []Exclusion) (*rrule.Set, error) {
	a, err := s.anchor()
	if err != nil {
		return nil, err
	}
	return s.ruleSet(a, exclusions)
}

func (s *Schedule) occurrence(start time.Time) Occurrence {
	return Occurrence{Start: start, End: start.Add(s.Duration())}
}

// TimesBetween returns every occurrence in [start, end], sorted by start.
//
// With includeDisabled, occurrences removed by the disabled-date list (reason
// "disabled") or by an external exclusion that falls on a real base occurrence
// (reason and entity from the exclusion) are returned too, marked Disabled.
// Exclusions on dates the rule never fires produce nothing.
func (s *Schedule) TimesBetween(start, end time.Time, exclusions []Exclusion, opts Options, includeDisabled bool) ([]Occurrence, error) {
	a, err := s.anchor()
	if err != nil {
		return nil, err
	}
	set, err := s.ruleSet(a, exclusions)
	if err != nil {
		return nil, err
	}

	inc := !opts.Exclusive
	var out []Occurrence
	for _, t := range set.Between(start, end, inc) {
		out = append(out, s.occurrence(t))
	}

	if includeDisabled {
		disabled, err := s.disabledBetween(a, start, end, inc, exclusions)
		if err != nil {
			return nil, err
		}
		out = append(out, disabled...)
		sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	}

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// disabledBetween attributes base occurrences removed by disabled dates or exclusions.
// A date that is both disabled and excluded is reported once, as "disabled".
func (s *Schedule) disabledBetween(a *anchor, start, end time.Time, inc bool, exclusions []Exclusion) ([]Occurrence, error) {
	base, err := s.baseSet(a)
	if err != nil {
		return nil, err
	}

	disabledDates := make(map[string]bool)
	if s.Calendar.Recurring != nil {
		for _, iso := range s.Calendar.Recurring.DisabledDates {
			d, err := parseDate(iso)
			if err != nil {
				return nil, errors.Wrap(err, "disabled date")
			}
			disabledDates[d.Format(DateLayout)] = true
		}
	}

	excludedBy := make(map[string]Exclusion)
	for _, ex := range exclusions {
		d, err := parseDate(ex.ISODate)
		if err != nil {
			return nil, errors.Wrapf(err, "exclusion %s", ex.EntityID)
		}
		key := d.Format(DateLayout)
		if _, seen := excludedBy[key]; !seen {
			excludedBy[key] = ex
		}
	}

	var out []Occurrence
	for _, t := range base.Between(start, end, inc) {
		date := a.dateOf(t)
		occ := s.occurrence(t)
		if disabledDates[date] {
			occ.Disabled = true
			occ.DisabledReason = ReasonDisabled
			out = append(out, occ)
			continue
		}
		if ex, ok := excludedBy[date]; ok {
			occ.Disabled = true
			occ.DisabledReason = ex.Reason
			occ.DisablingEntityID = ex.EntityID
			occ.DisablingEntityName = ex.EntityName
			out = append(out, occ)
		}
	}
	return out, nil
}

// NextTimeAfter returns the first occurrence start strictly after t
func (s *Schedule) NextTimeAfter(t time.Time, exclusions []Exclusion) (time.Time, bool, error) {
	set, err := s.RuleSet(exclusions)
	if err != nil {
		return time.Time{}, false, err
	}
	next := set.After(t, false)
	return next, !next.IsZero(), nil
}

// lastTimeBefore returns the last occurrence start at or before t
func (s *Schedule) lastTimeBefore(t time.Time, exclusions []Exclusion) (time.Time, bool, error) {
	set, err := s.RuleSet(exclusions)
	if err != nil {
		return time.Time{}, false, err
	}
	last := set.Before(t, true)
	return last, !last.IsZero(), nil
}

// RunningTimeAt returns the occurrence whose window contains t.
// A disabled schedule is never running.
func (s *Schedule) RunningTimeAt(t time.Time, exclusions []Exclusion) (Occurrence, bool, error) {
	if s.Disabled {
		return Occurrence{}, false, nil
	}
	start, ok, err := s.lastTimeBefore(t, exclusions)
	if err != nil || !ok {
		return Occurrence{}, false, err
	}
	occ := s.occurrence(start)
	if t.After(occ.End) {
		return Occurrence{}, false, nil
	}
	return occ, true, nil
}

// IsRunningAt reports whether t falls inside an occurrence window
func (s *Schedule) IsRunningAt(t time.Time, exclusions []Exclusion) (bool, error) {
	_, running, err := s.RunningTimeAt(t, exclusions)
	return running, err
}
