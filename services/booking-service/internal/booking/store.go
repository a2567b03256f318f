package booking

import (
	"context"

	"github.com/serenemind/mindsession/services/booking-service/internal/model"
)

// Filter scopes appointment reads. Zero value means no scoping.
type Filter struct {
	UserID      string
	TherapistID string
}

// Store is the durable storage contract for the booking core. The postgres
// implementation lives in internal/storage; tests use an in-memory fake.
//
// CreateAppointment and CancelAppointment are atomic: the appointment write
// and the matching booked-slots mutation on the therapist row commit together
// or not at all. CreateAppointment must perform the slot reservation as a
// conditional update on the therapist record and return ErrSlotTaken when a
// concurrent booking won the slot first.
type Store interface {
	Therapist(ctx context.Context, id string) (model.Therapist, error)
	ListTherapists(ctx context.Context, onlyAvailable bool) ([]model.Therapist, error)
	CreateTherapist(ctx context.Context, t model.Therapist) error
	SetTherapistAvailability(ctx context.Context, id string, available bool) error

	User(ctx context.Context, id string) (model.User, error)
	UpsertUser(ctx context.Context, u model.User) error

	ActiveAppointmentExists(ctx context.Context, userID, therapistID, slotDate, slotTime string) (bool, error)
	CreateAppointment(ctx context.Context, appt model.Appointment) error
	Appointment(ctx context.Context, id string) (model.Appointment, error)
	CancelAppointment(ctx context.Context, id string) error
	ListAppointments(ctx context.Context, f Filter) ([]model.Appointment, error)

	// Lifecycle sweep support.
	ListOpenAppointments(ctx context.Context, f Filter) ([]model.Appointment, error)
	MarkCompleted(ctx context.Context, id string) error

	// Reconciliation: open appointments whose time is missing from the
	// therapist's booked-slots map, and the repair for one of them. The
	// restore must re-check that the appointment is still open, so a
	// cancellation or completion landing between the orphan scan and the
	// repair does not resurrect a released slot.
	MissingReservations(ctx context.Context) ([]model.Appointment, error)
	RestoreReservation(ctx context.Context, appointmentID, therapistID, slotDate, slotTime string) error
}
