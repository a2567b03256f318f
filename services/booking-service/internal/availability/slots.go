// Package availability generates the offerable booking slots for a therapist
// over a rolling window. Generation is a pure function of the therapist's
// booked-slots map and the caller-supplied "now" — results are never cached,
// because advancing wall-clock time invalidates them continuously.
package availability

import (
	"fmt"
	"time"

	"github.com/serenemind/mindsession/services/booking-service/internal/timeutil"
)

const (
	// Business hours: hourly slots from 08:00 up to, not including, 16:00.
	OpenHour  = 8
	CloseHour = 16

	// WindowDays is the rolling window: today plus the next six days.
	WindowDays = 7
)

// DaySlots lists the offerable times for one date. The entry is kept even
// when Times is empty, so callers can render "no slots available" per day.
type DaySlots struct {
	Date  string
	Times []string
}

// Generate returns WindowDays entries of candidate slots, excluding times
// already present in booked and times not strictly in the future.
func Generate(booked map[string][]string, now time.Time) []DaySlots {
	days := make([]DaySlots, 0, WindowDays)
	for d := 0; d < WindowDays; d++ {
		day := now.AddDate(0, 0, d)
		date := day.Format(timeutil.DateLayout)

		taken := make(map[string]struct{}, len(booked[date]))
		for _, tm := range booked[date] {
			if normalized := timeutil.To24Hour(tm); normalized != "" {
				taken[normalized] = struct{}{}
			}
		}

		firstHour := OpenHour
		if d == 0 && now.Hour() > 10 {
			// Same-day buffer: past 10 AM, offer nothing earlier than the
			// next full hour. Before 10 AM the strictly-in-the-future check
			// below is the only guard; the asymmetry is intentional.
			firstHour = now.Hour() + 1
		}

		var times []string
		for hour := firstHour; hour < CloseHour; hour++ {
			start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, now.Location())
			if !start.After(now) {
				continue
			}
			tm := fmt.Sprintf("%02d:00", hour)
			if _, ok := taken[tm]; ok {
				continue
			}
			times = append(times, tm)
		}

		days = append(days, DaySlots{Date: date, Times: times})
	}
	return days
}
