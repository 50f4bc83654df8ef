package geotime

import (
	"strings"
	"time"

	"github.com/teranos/dialpulse/errors"
)

var timezoneByAbbreviation = map[string]string{
	"pst":  "America/Los_Angeles",
	"pdt":  "America/Los_Angeles",
	"est":  "America/New_York",
	"edt":  "America/New_York",
	"cst":  "America/Chicago",
	"cdt":  "America/Chicago",
	"mst":  "America/Denver",
	"mdt":  "America/Denver",
	"akst": "America/Anchorage",
	"hst":  "Pacific/Honolulu",
	"bst":  "Europe/London",
	"cet":  "Europe/Berlin",
	"cest": "Europe/Berlin",
	"ist":  "Asia/Kolkata",
	"aest": "Australia/Sydney",
}

// NormalizeTimezone resolves operator input ("est", "america/new_york") into a valid
// IANA zone name.
func NormalizeTimezone(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", errors.New("timezone cannot be empty")
	}

	// Abbreviations first: "EST" also exists as a fixed-offset zone file
	if tz, ok := timezoneByAbbreviation[strings.ToLower(trimmed)]; ok {
		return tz, nil
	}

	if isValidTimezone(trimmed) {
		if canonical := canonicalizeValidTimezone(trimmed); canonical != "" {
			return canonical, nil
		}
		return trimmed, nil
	}

	candidate := sanitizeTimezone(trimmed)
	if isValidTimezone(candidate) {
		return candidate, nil
	}

	return "", errors.Newf("unknown timezone: %s", input)
}

// LoadLocation normalizes and loads a zone in one step
func LoadLocation(input string) (*time.Location, error) {
	name, err := NormalizeTimezone(input)
	if err != nil {
		return nil, err
	}
	return time.LoadLocation(name)
}

func sanitizeTimezone(tz string) string {
	trimmed := strings.TrimSpace(tz)
	trimmed = strings.Trim(trimmed, "\"'")
	trimmed = strings.ReplaceAll(trimmed, " ", "_")
	if strings.Contains(trimmed, "/") {
		parts := strings.Split(trimmed, "/")
		for i, part := range parts {
			parts[i] = titleSegments(part)
		}
		return strings.Join(parts, "/")
	}
	return titleSegments(trimmed)
}

// titleSegments capitalizes each underscore-separated word (new_york -> New_York)
func titleSegments(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		words[i] = title(w)
	}
	return strings.Join(words, "_")
}

func title(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func isValidTimezone(tz string) bool {
	if tz == "" {
		return false
	}
	// time.LoadLocation("Local") resolves but is host dependent
	if tz == "Local" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// canonicalizeValidTimezone fixes capitalization of lowercase-looking zones
// ("america/new_york") but preserves names like "America/Port_of_Spain".
func canonicalizeValidTimezone(tz string) string {
	if strings.ToLower(tz) == tz || hasIncorrectCapitalization(tz) {
		candidate := sanitizeTimezone(tz)
		if isValidTimezone(candidate) && candidate != tz {
			return candidate
		}
	}
	return ""
}

func hasIncorrectCapitalization(tz string) bool {
	if strings.ToLower(tz) == tz {
		return true
	}
	for _, part := range strings.Split(tz, "/") {
		if len(part) > 0 && part[0] >= 'a' && part[0] <= 'z' {
			return true
		}
	}
	return false
}

// ValidateTimezone ensures the timezone string maps to a valid IANA entry.
func ValidateTimezone(tz string) error {
	if !isValidTimezone(tz) {
		return errors.Newf("invalid timezone: %q", tz)
	}
	return nil
}
