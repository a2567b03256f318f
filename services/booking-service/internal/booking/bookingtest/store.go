// Package bookingtest provides an in-memory booking.Store for tests. The
// conditional slot insert is serialized under one mutex, matching the
// single-document atomic update the postgres store performs.
package bookingtest

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/serenemind/mindsession/services/booking-service/internal/booking"
	"github.com/serenemind/mindsession/services/booking-service/internal/model"
)

type Store struct {
	mu           sync.Mutex
	Therapists   map[string]model.Therapist
	Users        map[string]model.User
	Appointments map[string]model.Appointment

	// CompleteErr makes MarkCompleted fail for the given appointment IDs,
	// for sweep fault-tolerance tests.
	CompleteErr map[string]error
}

func NewStore() *Store {
	return &Store{
		Therapists:   map[string]model.Therapist{},
		Users:        map[string]model.User{},
		Appointments: map[string]model.Appointment{},
		CompleteErr:  map[string]error{},
	}
}

var _ booking.Store = (*Store)(nil)

func (s *Store) Therapist(_ context.Context, id string) (model.Therapist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.Therapists[id]
	if !ok {
		return model.Therapist{}, booking.ErrTherapistNotFound
	}
	return cloneTherapist(th), nil
}

func (s *Store) ListTherapists(_ context.Context, onlyAvailable bool) ([]model.Therapist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Therapist
	for _, th := range s.Therapists {
		if onlyAvailable && !th.Available {
			continue
		}
		out = append(out, cloneTherapist(th))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateTherapist(_ context.Context, t model.Therapist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.BookedSlots == nil {
		t.BookedSlots = map[string][]string{}
	}
	s.Therapists[t.ID] = t
	return nil
}

func (s *Store) SetTherapistAvailability(_ context.Context, id string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.Therapists[id]
	if !ok {
		return booking.ErrTherapistNotFound
	}
	th.Available = available
	s.Therapists[id] = th
	return nil
}

func (s *Store) User(_ context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[id]
	if !ok {
		return model.User{}, booking.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) UpsertUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Users[u.ID] = u
	return nil
}

func (s *Store) ActiveAppointmentExists(_ context.Context, userID, therapistID, slotDate, slotTime string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeExistsLocked(userID, therapistID, slotDate, slotTime), nil
}

func (s *Store) activeExistsLocked(userID, therapistID, slotDate, slotTime string) bool {
	for _, a := range s.Appointments {
		if a.Cancelled {
			continue
		}
		if a.UserID == userID &&
			(therapistID == "" || a.TherapistID == therapistID) &&
			a.SlotDate == slotDate && a.SlotTime == slotTime {
			return true
		}
	}
	return false
}

func (s *Store) CreateAppointment(_ context.Context, appt model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.Therapists[appt.TherapistID]
	if !ok {
		return booking.ErrTherapistNotFound
	}
	// Same serialization the postgres store gets from its conditional
	// update and partial unique indexes.
	if slices.Contains(th.BookedSlots[appt.SlotDate], appt.SlotTime) {
		return booking.ErrSlotTaken
	}
	if s.activeExistsLocked(appt.UserID, appt.TherapistID, appt.SlotDate, appt.SlotTime) {
		return booking.ErrDuplicateBooking
	}
	if s.activeExistsLocked(appt.UserID, "", appt.SlotDate, appt.SlotTime) {
		return booking.ErrUserScheduleConflict
	}

	if th.BookedSlots == nil {
		th.BookedSlots = map[string][]string{}
	}
	th.BookedSlots[appt.SlotDate] = append(th.BookedSlots[appt.SlotDate], appt.SlotTime)
	s.Therapists[appt.TherapistID] = th
	s.Appointments[appt.ID] = appt
	return nil
}

func (s *Store) Appointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Appointments[id]
	if !ok {
		return model.Appointment{}, booking.ErrAppointmentNotFound
	}
	return a, nil
}

func (s *Store) CancelAppointment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Appointments[id]
	if !ok {
		return booking.ErrAppointmentNotFound
	}
	a.Cancelled = true
	s.Appointments[id] = a

	if th, ok := s.Therapists[a.TherapistID]; ok {
		times := th.BookedSlots[a.SlotDate]
		if i := slices.Index(times, a.SlotTime); i >= 0 {
			th.BookedSlots[a.SlotDate] = slices.Delete(times, i, i+1)
			s.Therapists[a.TherapistID] = th
		}
	}
	return nil
}

func (s *Store) ListAppointments(_ context.Context, f booking.Filter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(f, false), nil
}

func (s *Store) ListOpenAppointments(_ context.Context, f booking.Filter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(f, true), nil
}

func (s *Store) listLocked(f booking.Filter, openOnly bool) []model.Appointment {
	var out []model.Appointment
	for _, a := range s.Appointments {
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		if f.TherapistID != "" && a.TherapistID != f.TherapistID {
			continue
		}
		if openOnly && (a.Cancelled || a.Completed) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SlotDate != out[j].SlotDate {
			return out[i].SlotDate > out[j].SlotDate
		}
		return out[i].SlotTime > out[j].SlotTime
	})
	return out
}

func (s *Store) MarkCompleted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.CompleteErr[id]; err != nil {
		return err
	}
	a, ok := s.Appointments[id]
	if !ok {
		return booking.ErrAppointmentNotFound
	}
	if !a.Cancelled {
		a.Completed = true
		s.Appointments[id] = a
	}
	return nil
}

func (s *Store) MissingReservations(_ context.Context) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.Appointments {
		if a.Cancelled || a.Completed {
			continue
		}
		th, ok := s.Therapists[a.TherapistID]
		if !ok {
			continue
		}
		if !slices.Contains(th.BookedSlots[a.SlotDate], a.SlotTime) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) RestoreReservation(_ context.Context, appointmentID, therapistID, slotDate, slotTime string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Mirrors the conditional update in postgres: no repair once the
	// appointment is no longer open.
	appt, ok := s.Appointments[appointmentID]
	if !ok || appt.Cancelled || appt.Completed {
		return nil
	}
	th, ok := s.Therapists[therapistID]
	if !ok {
		return booking.ErrTherapistNotFound
	}
	if th.BookedSlots == nil {
		th.BookedSlots = map[string][]string{}
	}
	if !slices.Contains(th.BookedSlots[slotDate], slotTime) {
		th.BookedSlots[slotDate] = append(th.BookedSlots[slotDate], slotTime)
		s.Therapists[therapistID] = th
	}
	return nil
}

func cloneTherapist(th model.Therapist) model.Therapist {
	booked := make(map[string][]string, len(th.BookedSlots))
	for date, times := range th.BookedSlots {
		booked[date] = slices.Clone(times)
	}
	th.BookedSlots = booked
	return th
}
