// Package timefmt renders timestamps and keepalive durations for dashboard
// display. All persistence and scheduling runs on UTC; the display zone only
// affects formatted output.
package timefmt

import (
	"fmt"
	"time"
)

const displayLayout = "2006-01-02 15:04:05"

// Format renders t in the given display zone. A nil location falls back to UTC.
func Format(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(displayLayout)
}

// FormatHours renders a duration given in fractional hours in a compact
// human-readable form: "45m", "3.5h", "2d" or "2d4.0h".
func FormatHours(hours float64) string {
	switch {
	case hours < 0:
		return "0m"
	case hours < 1:
		return fmt.Sprintf("%dm", int(hours*60))
	case hours < 24:
		return fmt.Sprintf("%.1fh", hours)
	default:
		days := int(hours / 24)
		rest := hours - float64(days)*24
		if rest < 1 {
			return fmt.Sprintf("%dd", days)
		}
		return fmt.Sprintf("%dd%.1fh", days, rest)
	}
}
