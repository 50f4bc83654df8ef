// Package recurrence computes when a schedule runs: occurrence windows from a
// single date or an RFC 5545 recurrence rule, minus per-occurrence exclusions,
// disabled dates, and caller-supplied exclusions such as holidays.
//
// All wall-clock values are interpreted in the calendar's IANA zone, so an
// occurrence at 09:00 stays at 09:00 local across DST transitions.
package recurrence

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/teranos/dialpulse/errors"
)

// Layouts for calendar values
const (
	DateLayout      = "2006-01-02"
	LocalLayout     = "2006-01-02T15:04"
	LocalLayoutSecs = "2006-01-02T15:04:05"
)

// ReasonDisabled is the DisabledReason for dates on the schedule's own disabled list
const ReasonDisabled = "disabled"

// Calendar is either a Single start or a Recurring rule, never both.
type Calendar struct {
	Timezone  string     `json:"timezone" yaml:"timezone"`
	Single    string     `json:"single,omitempty" yaml:"single,omitempty"` // local "2006-01-02T15:04"
	Recurring *Recurring `json:"recurring,omitempty" yaml:"recurring,omitempty"`
}

// Recurring describes a repeating calendar
type Recurring struct {
	Start         string   `json:"start" yaml:"start"` // local dtstart "2006-01-02T15:04"
	Rule          string   `json:"rule" yaml:"rule"`   // e.g. "FREQ=WEEKLY;BYDAY=MO,WE,FR"
	ExcludedDates []string `json:"excluded_dates,omitempty" yaml:"excluded_dates,omitempty"`
	DisabledDates []string `json:"disabled_dates,omitempty" yaml:"disabled_dates,omitempty"`
}

// Schedule is the timing view of a schedule: calendar, window length, and the
// whole-schedule disabled flag.
type Schedule struct {
	Calendar        Calendar `json:"calendar" yaml:"calendar"`
	DurationMinutes int      `json:"duration_minutes" yaml:"duration_minutes"`
	Disabled        bool     `json:"disabled" yaml:"disabled"`
}

// Exclusion is a caller-supplied date on which the schedule must not run
// (a holiday, a blackout). Entity fields identify what caused it.
type Exclusion struct {
	ISODate    string `json:"iso_date"`
	Reason     string `json:"reason"`
	EntityID   string `json:"entity_id,omitempty"`
	EntityName string `json:"entity_name,omitempty"`
}

// Occurrence is one concrete run window
type Occurrence struct {
	Start               time.Time `json:"start"`
	End                 time.Time `json:"end"`
	Disabled            bool      `json:"disabled,omitempty"`
	DisabledReason      string    `json:"disabled_reason,omitempty"`
	DisablingEntityID   string    `json:"disabling_entity_id,omitempty"`
	DisablingEntityName string    `json:"disabling_entity_name,omitempty"`
}

// IsSingle reports whether the calendar is a one-off date
func (c Calendar) IsSingle() bool {
	return c.Recurring == nil
}

// Location loads the calendar's zone
func (c Calendar) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return nil, errors.New("calendar timezone is required")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", c.Timezone)
	}
	return loc, nil
}

// Duration returns the occurrence window length
func (s *Schedule) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// parseLocal parses a wall-clock value in loc, with or without seconds
func parseLocal(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{LocalLayout, LocalLayoutSecs} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf("invalid local time %q (want %s)", value, LocalLayout)
}

// parseDate parses an ISO calendar date
func parseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, errors.Newf("invalid date %q (want %s)", value, DateLayout)
	}
	return t, nil
}

// parseRule parses the rule body, anchoring it at dtstart
func parseRule(rule string, dtstart time.Time) (*rrule.RRule, error) {
	body := strings.TrimSpace(rule)
	body = strings.TrimPrefix(body, "RRULE:")
	opt, err := rrule.StrToROptionInLocation(body, dtstart.Location())
	if err != nil {
		return nil, errors.Wrapf(err, "parse rule %q", rule)
	}
	opt.Dtstart = dtstart
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, errors.Wrapf(err, "build rule %q", rule)
	}
	return r, nil
}
