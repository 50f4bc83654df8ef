package dispatch

import (
	"sort"
	"strings"
	"time"

	"github.com/teranos/dialpulse/pulse/queue"
)

// DeadlineLayout is the wall-clock format of record deadlines, interpreted in
// the upstream zone
const DeadlineLayout = "2006-01-02 15:04:05"

// IsRecordCallableAt reports whether a record may still be dialed at t: its
// own deadline (if any) and its execution's endBy must not be before t. Both
// boundaries are inclusive. A deadline that does not parse is never callable.
func IsRecordCallableAt(rec queue.Record, endBy, t time.Time, upstream *time.Location) bool {
	if t.After(endBy) {
		return false
	}
	if strings.TrimSpace(rec.Deadline) == "" {
		return true
	}
	deadline, err := ParseDeadline(rec.Deadline, upstream)
	if err != nil {
		return false
	}
	return !t.After(deadline)
}

// ParseDeadline reads a record deadline in the upstream zone
func ParseDeadline(value string, upstream *time.Location) (time.Time, error) {
	if upstream == nil {
		upstream = time.UTC
	}
	return time.ParseInLocation(DeadlineLayout, strings.TrimSpace(value), upstream)
}

// selectPhone picks the destination from the record's phones: the first
// non-empty field in priority order, or without a priority list the first
// non-empty field by name.
func selectPhone(phones map[string]string, fields []string) string {
	for _, f := range fields {
		if p := strings.TrimSpace(phones[f]); p != "" {
			return p
		}
	}
	if len(fields) > 0 {
		return ""
	}
	names := make([]string, 0, len(phones))
	for name := range phones {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := strings.TrimSpace(phones[name]); p != "" {
			return p
		}
	}
	return ""
}
