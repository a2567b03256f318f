package booking

import (
	"time"

	"github.com/serenemind/mindsession/services/booking-service/internal/timeutil"
)

// CancelNoticeDays is the minimum whole-calendar-day notice for a
// cancellation. There is no fee-based or admin override.
const CancelNoticeDays = 2

// CanCancel reports whether an appointment on slotDate may still be cancelled
// as of now. The comparison is calendar-day granularity, not elapsed hours:
// an appointment two calendar days out is cancellable even late at night.
func CanCancel(slotDate string, now time.Time) bool {
	return timeutil.DaysUntil(slotDate, now) >= CancelNoticeDays
}
