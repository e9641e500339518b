package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizeClock accepts "19:00", "7pm", "7:30 PM", "noon" and returns "HH:MM".
func NormalizeClock(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, ".", "")
	switch s {
	case "":
		return "", fmt.Errorf("empty time")
	case "noon", "midday":
		return "12:00", nil
	case "midnight":
		return "00:00", nil
	}

	meridiem := ""
	for _, suffix := range []string{"am", "pm"} {
		if strings.HasSuffix(s, suffix) {
			meridiem = suffix
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
		}
	}

	hourPart, minutePart, hasMinutes := strings.Cut(s, ":")
	hour, err := strconv.Atoi(hourPart)
	if err != nil {
		return "", fmt.Errorf("invalid time %q", raw)
	}
	minute := 0
	if hasMinutes {
		if minute, err = strconv.Atoi(minutePart); err != nil || minute < 0 || minute > 59 {
			return "", fmt.Errorf("invalid time %q", raw)
		}
	}

	switch meridiem {
	case "am":
		if hour < 1 || hour > 12 {
			return "", fmt.Errorf("invalid time %q", raw)
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return "", fmt.Errorf("invalid time %q", raw)
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour < 0 || hour > 23 {
			return "", fmt.Errorf("invalid time %q", raw)
		}
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

// NormalizeDate accepts "YYYY-MM-DD", "today", "tomorrow" or a weekday name (the next
// occurrence, today included) and returns "YYYY-MM-DD" relative to now.
func NormalizeDate(raw string, now time.Time) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "":
		return "", fmt.Errorf("empty date")
	case "today", "tonight":
		return now.Format(time.DateOnly), nil
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format(time.DateOnly), nil
	}
	s = strings.TrimPrefix(s, "this ")
	s = strings.TrimPrefix(s, "next ")
	for d := 0; d < 7; d++ {
		day := now.AddDate(0, 0, d)
		name := strings.ToLower(day.Weekday().String())
		if s == name || s == name[:3] {
			return day.Format(time.DateOnly), nil
		}
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.Format(time.DateOnly), nil
	}
	return "", fmt.Errorf("invalid date %q", raw)
}

// BookingStart combines a normalized date and clock in loc.
func BookingStart(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(time.DateOnly+" 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid booking start %s %s: %w", date, clock, err)
	}
	return t, nil
}
