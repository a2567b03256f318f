// Package timeutil handles the naive local date and time strings used across
// the booking core: dates are "2006-01-02", times are 24-hour "15:04". No time
// zone is attached; clients and server are assumed to share one wall clock.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	// SessionDuration is how long a slot stays live after its start.
	SessionDuration = 60 * time.Minute
)

// To24Hour normalizes a time string to zero-padded "HH:MM". Input may be a
// bare 24-hour time or a 12-hour time with a case-insensitive am/pm suffix.
// Empty or unparseable input yields "" — missing data is ignored, not an
// error, so absent times flow through untouched.
func To24Hour(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	meridiem := ""
	if strings.HasSuffix(s, "am") || strings.HasSuffix(s, "pm") {
		meridiem = s[len(s)-2:]
		s = strings.TrimSpace(s[:len(s)-2])
	}

	hourPart, minutePart, hasMinute := strings.Cut(s, ":")
	hour, err := strconv.Atoi(strings.TrimSpace(hourPart))
	if err != nil || hour < 0 || hour > 23 {
		return ""
	}
	minute := 0
	if hasMinute {
		minute, err = strconv.Atoi(strings.TrimSpace(minutePart))
		if err != nil || minute < 0 || minute > 59 {
			return ""
		}
	}

	// Hour 12 is the odd one out: 12am is midnight, 12pm stays noon.
	switch meridiem {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour != 12 {
			hour += 12
		}
	}
	if hour > 23 {
		return ""
	}

	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// SlotElapsed reports whether the session starting at (date, tm) has fully
// ended as of now. A slot stays live for the whole SessionDuration, not just
// its start instant.
func SlotElapsed(date, tm string, now time.Time) bool {
	start, ok := SlotStart(date, tm, now.Location())
	if !ok {
		return false
	}
	return now.After(start.Add(SessionDuration))
}

// SlotStart builds the start instant for a (date, time) slot in loc.
func SlotStart(date, tm string, loc *time.Location) (time.Time, bool) {
	normalized := To24Hour(tm)
	if normalized == "" {
		return time.Time{}, false
	}
	start, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+normalized, loc)
	if err != nil {
		return time.Time{}, false
	}
	return start, true
}

// DaysUntil returns the whole calendar-day difference between date and now,
// ignoring time of day. Negative for past dates, 0 on unparseable input.
// Both endpoints are anchored to UTC midnight so the count depends only on
// the date components: a DST transition in the local zone makes a day 23 or
// 25 real hours long, and dividing elapsed local time by 24h would miscount
// across it.
func DaysUntil(date string, now time.Time) int {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return 0
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(day.Sub(today) / (24 * time.Hour))
}

// ValidDate reports whether s is a well-formed "2006-01-02" date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
