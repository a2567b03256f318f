package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/serenemind/mindsession/services/booking-service/internal/booking"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// errorStatus maps domain errors to HTTP statuses. Conflicts keep distinct
// messages so a client can tell "slot just went" from "you already hold a
// session then".
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrTherapistNotFound):
		return http.StatusNotFound, "therapist not found"
	case errors.Is(err, booking.ErrUserNotFound):
		return http.StatusNotFound, "user profile not found"
	case errors.Is(err, booking.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment not found"
	case errors.Is(err, booking.ErrTherapistUnavailable):
		return http.StatusUnprocessableEntity, "therapist is not accepting bookings"
	case errors.Is(err, booking.ErrInvalidSlot):
		return http.StatusUnprocessableEntity, "invalid slot date or time"
	case errors.Is(err, booking.ErrCancelWindowClosed):
		return http.StatusUnprocessableEntity, "cancellation window has closed"
	case errors.Is(err, booking.ErrDuplicateBooking):
		return http.StatusConflict, "appointment with this therapist already booked for that slot"
	case errors.Is(err, booking.ErrUserScheduleConflict):
		return http.StatusConflict, "you already have an appointment at that time"
	case errors.Is(err, booking.ErrSlotTaken):
		return http.StatusConflict, "slot is no longer available"
	case errors.Is(err, booking.ErrAlreadyFinished):
		return http.StatusConflict, "appointment is already completed or cancelled"
	case errors.Is(err, booking.ErrNotOwner):
		return http.StatusForbidden, "appointment belongs to another user"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	http.Error(w, msg, status)
}
