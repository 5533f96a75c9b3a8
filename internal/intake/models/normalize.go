package models

import (
	"strings"
	"time"
)

// dateLayouts are the date-of-birth formats operators actually type. Order
// matters: month-first layouts win ties since the target form is US-locale.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
	"02/01/2006",
	"02-01-2006",
}

// NormalizeDate parses a free-text date and renders it as YYYY-MM-DD.
// Returns "" when the input is empty or matches no known layout; a
// date the store cannot index is kept only in the free-text column.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a capture timestamp from a JSON log entry. The zero
// time and false signal an unparseable or empty value.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizePhone strips formatting so two renderings of the same number
// compare equal: "+1 (555) 123-4567" and "15551234567" both reduce to digits.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
