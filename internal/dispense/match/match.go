// Package match decides which schedule entries are due at a given instant.
//
// An entry is due during exactly the one minute whose canonical 12-hour label
// ("08:00 AM") equals the entry's configured time, on a weekday in the entry's
// day set. Comparison is by normalized string equality, matching how the
// dispenser app writes schedules.
package match

import (
	"fmt"
	"strings"
	"time"
)

// timeLayout is the canonical 12-hour wall-clock label.
const timeLayout = "03:04 PM"

// Entry is one configured dose, read-only to the engine.
type Entry struct {
	ID          int64
	ContainerID int
	Name        string
	TimeOfDay   string   // "08:00 AM"
	Days        []string // three-letter weekday tokens, any case
	Quantity    int
}

// CanonicalTime parses a 12-hour wall-clock label and reformats it to the
// canonical form. "8:00 am" -> "08:00 AM".
func CanonicalTime(s string) (string, error) {
	t, err := time.Parse(timeLayout, strings.ToUpper(strings.TrimSpace(s)))
	if err != nil {
		return "", fmt.Errorf("invalid 12-hour time %q: %w", s, err)
	}
	return t.Format(timeLayout), nil
}

// CanonicalDay normalizes a weekday token to the canonical three-letter form
// ("mon" -> "Mon"). Unrecognized tokens are returned with an error.
func CanonicalDay(s string) (string, error) {
	d := strings.TrimSpace(s)
	if len(d) < 3 {
		return "", fmt.Errorf("invalid weekday token %q", s)
	}
	d = strings.ToUpper(d[:1]) + strings.ToLower(d[1:3])
	switch d {
	case "Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat":
		return d, nil
	}
	return "", fmt.Errorf("invalid weekday token %q", s)
}

// CanonicalDays normalizes a day set, dropping tokens that don't parse.
func CanonicalDays(days []string) []string {
	out := make([]string, 0, len(days))
	for _, d := range days {
		c, err := CanonicalDay(d)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Weekday returns the canonical three-letter abbreviation for t's weekday.
func Weekday(t time.Time) string {
	return t.Format("Mon")
}

// Minute returns t formatted as the canonical 12-hour label of its minute.
func Minute(t time.Time) string {
	return t.Format(timeLayout)
}

// Due evaluates which entries are due at now. It is a pure function: identical
// (now, entries) always yields the identical due set, and evaluation order
// cannot affect the outcome.
//
// Entries whose time fails to parse, or whose day set normalizes to empty, are
// excluded without aborting the rest; skipped holds them for the caller to log.
func Due(now time.Time, entries []Entry) (due []Entry, skipped []Entry) {
	curTime := Minute(now)
	curDay := Weekday(now)

	for _, e := range entries {
		entryTime, err := CanonicalTime(e.TimeOfDay)
		if err != nil {
			skipped = append(skipped, e)
			continue
		}
		days := CanonicalDays(e.Days)
		if len(days) == 0 {
			skipped = append(skipped, e)
			continue
		}
		if entryTime != curTime {
			continue
		}
		if !contains(days, curDay) {
			continue
		}
		due = append(due, e)
	}
	return due, skipped
}

func contains(days []string, day string) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
