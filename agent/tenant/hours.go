package tenant

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Interval is an opening window in local wall-clock time, "HH:MM".
// Close may be "24:00".
type Interval struct {
	Open  string `mapstructure:"open" json:"open"`
	Close string `mapstructure:"close" json:"close"`
}

type window struct {
	open, close int // minutes since midnight
}

// WeeklyHours maps each weekday to its opening windows.
type WeeklyHours struct {
	days map[time.Weekday][]window
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func ParseWeeklyHours(raw map[string][]Interval) (WeeklyHours, error) {
	wh := WeeklyHours{days: make(map[time.Weekday][]window, len(raw))}
	for name, intervals := range raw {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return WeeklyHours{}, fmt.Errorf("unknown weekday %q", name)
		}
		for _, iv := range intervals {
			open, err := ParseClock(iv.Open)
			if err != nil {
				return WeeklyHours{}, fmt.Errorf("%s open: %w", name, err)
			}
			closeAt, err := ParseClock(iv.Close)
			if err != nil {
				return WeeklyHours{}, fmt.Errorf("%s close: %w", name, err)
			}
			if closeAt <= open {
				return WeeklyHours{}, fmt.Errorf("%s: close %s is not after open %s", name, iv.Close, iv.Open)
			}
			wh.days[day] = append(wh.days[day], window{open: open, close: closeAt})
		}
		slices.SortFunc(wh.days[day], func(a, b window) int { return a.open - b.open })
	}
	return wh, nil
}

// ParseClock parses "HH:MM" into minutes since midnight. "24:00" is accepted.
func ParseClock(raw string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q", raw)
	}
	hh, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", raw)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 || hh < 0 || hh > 24 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("invalid clock %q", raw)
	}
	return hh*60 + mm, nil
}

// Fits reports whether [start, end) lies inside a single opening window of start's day.
// start and end must already be in the restaurant's location.
func (wh WeeklyHours) Fits(start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	for _, w := range wh.days[start.Weekday()] {
		open := dayStart.Add(time.Duration(w.open) * time.Minute)
		closeAt := dayStart.Add(time.Duration(w.close) * time.Minute)
		if !start.Before(open) && !end.After(closeAt) {
			return true
		}
	}
	return false
}

// OpenAt reports whether the restaurant is open at t.
func (wh WeeklyHours) OpenAt(t time.Time) bool {
	return wh.Fits(t, t.Add(time.Minute))
}

func (wh WeeklyHours) IsZero() bool {
	return len(wh.days) == 0
}

// Describe renders the week as "Mon 11:00-22:00; Tue closed; ...".
func (wh WeeklyHours) Describe() string {
	order := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday}
	parts := make([]string, 0, len(order))
	for _, day := range order {
		windows := wh.days[day]
		label := day.String()[:3]
		if len(windows) == 0 {
			parts = append(parts, label+" closed")
			continue
		}
		spans := make([]string, 0, len(windows))
		for _, w := range windows {
			spans = append(spans, formatClock(w.open)+"-"+formatClock(w.close))
		}
		parts = append(parts, label+" "+strings.Join(spans, ","))
	}
	return strings.Join(parts, "; ")
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
