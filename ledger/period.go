package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Leaderboard windows
// =============================================================================

// Period is a half-open time window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Validate rejects empty or inverted windows.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return &ValidationError{Field: "window", Message: "start and end are required"}
	}
	if !p.End.After(p.Start) {
		return &ValidationError{Field: "window", Message: "end must be after start"}
	}
	return nil
}

func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + ")"
}

// WeekOf returns the week containing t, starting at midnight on weekStart in t's location.
func WeekOf(t time.Time, weekStart time.Weekday) Period {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
	start := day.AddDate(0, 0, -offset)
	return Period{Start: start, End: start.AddDate(0, 0, 7)}
}

// MonthOf returns the calendar month containing t in t's location.
func MonthOf(t time.Time) Period {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// ParseWeekday accepts English weekday names ("monday", "Sun").
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}
