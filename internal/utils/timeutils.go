package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 parses the timestamps the report API accepts. Empty input is
// rejected explicitly so callers see a useful message instead of a zero time.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// DurationMinutes measures the span between two timestamps in minutes,
// tolerating swapped arguments. Recovery reports quote handling time this way.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}
