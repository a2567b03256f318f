package booking

import "errors"

// Booking and cancellation rejections are business-rule errors, terminal for
// the request. Each failure mode stays distinct so the API can tell a caller
// whether to pick another slot, another therapist, or give up.
var (
	ErrTherapistNotFound    = errors.New("therapist not found")
	ErrTherapistUnavailable = errors.New("therapist is not accepting bookings")
	ErrUserNotFound         = errors.New("user profile not found")
	ErrDuplicateBooking     = errors.New("you already booked this therapist for this slot")
	ErrUserScheduleConflict = errors.New("you already have an appointment at this time")
	ErrSlotTaken            = errors.New("slot is already taken")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrNotOwner             = errors.New("appointment belongs to another user")
	ErrAlreadyFinished      = errors.New("appointment is already completed or cancelled")
	ErrCancelWindowClosed   = errors.New("appointments can only be cancelled at least 2 days in advance")
	ErrInvalidSlot          = errors.New("invalid slot date or time")
)

// IsConflict reports whether err is one of the three booking uniqueness
// violations.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateBooking) ||
		errors.Is(err, ErrUserScheduleConflict) ||
		errors.Is(err, ErrSlotTaken)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrTherapistNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrAppointmentNotFound)
}
