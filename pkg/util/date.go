package util

import (
	"strconv"
	"time"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseSince accepts an absolute time (see ParseTime) or a lookback duration such as
// "24h" measured back from now. Empty or invalid input yields the zero time.
func ParseSince(s string, now time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(-d)
	}
	return time.Time{}
}

// HumanDuration renders d as seconds, minutes or hours with one decimal.
func HumanDuration(d time.Duration) string {
	secs := d.Seconds()
	switch {
	case secs < 60:
		return strconv.FormatFloat(secs, 'f', 0, 64) + "s"
	case secs < 3600:
		return strconv.FormatFloat(secs/60, 'f', 1, 64) + "m"
	default:
		return strconv.FormatFloat(secs/3600, 'f', 1, 64) + "h"
	}
}
