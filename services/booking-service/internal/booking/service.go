package booking

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/serenemind/mindsession/services/booking-service/internal/availability"
	"github.com/serenemind/mindsession/services/booking-service/internal/model"
	"github.com/serenemind/mindsession/services/booking-service/internal/timeutil"
)

// Service implements the booking core: slot availability, the booking
// transaction and cancellation. Collaborators are injected; the clock is a
// field so tests can pin "now".
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the wall clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AvailableSlots returns the rolling 7-day slot listing for a therapist.
func (s *Service) AvailableSlots(ctx context.Context, therapistID string) ([]availability.DaySlots, error) {
	th, err := s.store.Therapist(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	if !th.Available {
		return nil, ErrTherapistUnavailable
	}
	return availability.Generate(th.BookedSlots, s.now()), nil
}

// Book validates and commits a new appointment. Precondition checks run in a
// fixed order so each failure mode surfaces distinctly; the final conditional
// slot reservation inside the store serializes concurrent attempts on the
// same (therapist, date, time).
func (s *Service) Book(ctx context.Context, userID, therapistID, slotDate, slotTime string) (model.Appointment, error) {
	slotTime = timeutil.To24Hour(slotTime)
	if slotTime == "" || !timeutil.ValidDate(slotDate) {
		return model.Appointment{}, ErrInvalidSlot
	}

	th, err := s.store.Therapist(ctx, therapistID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !th.Available {
		return model.Appointment{}, ErrTherapistUnavailable
	}

	dup, err := s.store.ActiveAppointmentExists(ctx, userID, therapistID, slotDate, slotTime)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("duplicate check: %w", err)
	}
	if dup {
		return model.Appointment{}, ErrDuplicateBooking
	}

	clash, err := s.store.ActiveAppointmentExists(ctx, userID, "", slotDate, slotTime)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("schedule conflict check: %w", err)
	}
	if clash {
		return model.Appointment{}, ErrUserScheduleConflict
	}

	if slices.Contains(th.BookedSlots[slotDate], slotTime) {
		return model.Appointment{}, ErrSlotTaken
	}

	u, err := s.store.User(ctx, userID)
	if err != nil {
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		ID:          uuid.NewString(),
		UserID:      userID,
		TherapistID: therapistID,
		SlotDate:    slotDate,
		SlotTime:    slotTime,
		Amount:      th.Fee,
		User:        model.NewUserSnapshot(u),
		Therapist:   model.NewTherapistSnapshot(th),
		CreatedAt:   s.now().UTC(),
	}

	// The store commits the appointment and the slot reservation in one
	// transaction; a lost race comes back as one of the conflict errors.
	if err := s.store.CreateAppointment(ctx, appt); err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"therapist_id", therapistID,
		"slot_date", slotDate,
		"slot_time", slotTime,
	)
	return appt, nil
}

// Cancel cancels an appointment on behalf of requesterID. The cancelled slot
// is released back to the therapist's availability in the same transaction.
func (s *Service) Cancel(ctx context.Context, appointmentID, requesterID string) error {
	appt, err := s.store.Appointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appt.UserID != requesterID {
		return ErrNotOwner
	}
	if appt.Cancelled || appt.Completed {
		return ErrAlreadyFinished
	}
	if !CanCancel(appt.SlotDate, s.now()) {
		return ErrCancelWindowClosed
	}

	if err := s.store.CancelAppointment(ctx, appointmentID); err != nil {
		return err
	}
	s.logger.Info("appointment cancelled",
		"appointment_id", appointmentID,
		"therapist_id", appt.TherapistID,
		"slot_date", appt.SlotDate,
		"slot_time", appt.SlotTime,
	)
	return nil
}

// List returns appointments matching the filter, most recent slot first.
// Callers that serve reads should sweep first (see lifecycle.Sweeper) so
// stale scheduled states are never visible.
func (s *Service) List(ctx context.Context, f Filter) ([]model.Appointment, error) {
	return s.store.ListAppointments(ctx, f)
}
