// Package schedule decides whether an instant falls inside the clinic's
// configured working days and hours.
package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Weekday numbers follow ISO-8601: Monday=1 ... Sunday=7.
const (
	Monday    = 1
	Tuesday   = 2
	Wednesday = 3
	Thursday  = 4
	Friday    = 5
	Saturday  = 6
	Sunday    = 7
)

// WorkingHours is a weekly opening window applied identically to every working day.
type WorkingHours struct {
	Days     []int
	Start    string // "HH:MM", inclusive
	End      string // "HH:MM", inclusive
	Location *time.Location
}

var dayNames = map[int]string{
	Monday:    "lunes",
	Tuesday:   "martes",
	Wednesday: "miércoles",
	Thursday:  "jueves",
	Friday:    "viernes",
	Saturday:  "sábado",
	Sunday:    "domingo",
}

// IsoWeekday converts a Go weekday into Monday=1 ... Sunday=7.
func IsoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return Sunday
	}
	return int(d)
}

// IsWorkingTime reports whether weekday/clock fall inside days and the
// inclusive [start, end] window. A weekday of 0 is treated as Sunday (7).
// Clocks are compared as zero-padded "HH:MM" strings.
func IsWorkingTime(days []int, start, end string, weekday int, clock string) bool {
	if weekday == 0 {
		weekday = Sunday
	}
	if !containsDay(days, weekday) {
		return false
	}
	c := NormalizeClock(clock)
	return c >= NormalizeClock(start) && c <= NormalizeClock(end)
}

// Evaluate reports whether now, converted to the configured location, is
// inside the working window.
func Evaluate(hours WorkingHours, now time.Time) bool {
	loc := hours.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return IsWorkingTime(hours.Days, hours.Start, hours.End, IsoWeekday(local.Weekday()), local.Format("15:04"))
}

// NormalizeClock zero-pads "H:MM" and truncates "HH:MM:SS" so lexical
// comparison orders clocks correctly. Unparseable values are returned trimmed.
func NormalizeClock(v string) string {
	v = strings.TrimSpace(v)
	if strings.Count(v, ":") == 2 {
		v = v[:strings.LastIndex(v, ":")]
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return v
	}
	return t.Format("15:04")
}

// ValidClock reports whether v is a 24-hour "HH:MM" clock.
func ValidClock(v string) bool {
	if _, err := time.Parse("15:04", strings.TrimSpace(v)); err != nil {
		return false
	}
	return true
}

// NormalizeDays maps 0 to Sunday, drops values outside 1..7, removes
// duplicates and sorts.
func NormalizeDays(days []int) []int {
	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d == 0 {
			d = Sunday
		}
		if d < Monday || d > Sunday {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// ValidateDays returns an error naming the first weekday outside 0..7.
func ValidateDays(days []int) error {
	if len(days) == 0 {
		return fmt.Errorf("schedule: at least one working day is required")
	}
	for _, d := range days {
		if d < 0 || d > Sunday {
			return fmt.Errorf("schedule: invalid weekday %d", d)
		}
	}
	return nil
}

// Describe renders the window in Spanish, e.g.
// "de lunes a viernes, de 10:00 a 20:00".
func Describe(hours WorkingHours) string {
	days := NormalizeDays(hours.Days)
	if len(days) == 0 {
		return ""
	}
	var runs []string
	for i := 0; i < len(days); {
		j := i
		for j+1 < len(days) && days[j+1] == days[j]+1 {
			j++
		}
		switch {
		case j == i:
			runs = append(runs, dayNames[days[i]])
		case j == i+1:
			runs = append(runs, dayNames[days[i]], dayNames[days[j]])
		default:
			runs = append(runs, "de "+dayNames[days[i]]+" a "+dayNames[days[j]])
		}
		i = j + 1
	}
	dayPart := runs[0]
	if len(runs) > 1 {
		dayPart = strings.Join(runs[:len(runs)-1], ", ") + " y " + runs[len(runs)-1]
	}
	return fmt.Sprintf("%s, de %s a %s", dayPart, NormalizeClock(hours.Start), NormalizeClock(hours.End))
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == 0 {
			d = Sunday
		}
		if d == day {
			return true
		}
	}
	return false
}
