package timefmt

import (
	"testing"
	"time"
)

func TestFormatUsesDisplayZone(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := Format(ts, nil); got != "2026-03-01 12:00:00" {
		t.Errorf("Format(nil loc) = %q, want UTC rendering", got)
	}

	east := time.FixedZone("UTC+8", 8*3600)
	if got := Format(ts, east); got != "2026-03-01 20:00:00" {
		t.Errorf("Format(UTC+8) = %q, want %q", got, "2026-03-01 20:00:00")
	}
}

func TestFormatHours(t *testing.T) {
	tests := []struct {
		hours float64
		want  string
	}{
		{-1, "0m"},
		{0.25, "15m"},
		{0.75, "45m"},
		{1, "1.0h"},
		{3.5, "3.5h"},
		{24, "1d"},
		{48.5, "2d"},
		{52, "2d4.0h"},
	}

	for _, tt := range tests {
		if got := FormatHours(tt.hours); got != tt.want {
			t.Errorf("FormatHours(%v) = %q, want %q", tt.hours, got, tt.want)
		}
	}
}
