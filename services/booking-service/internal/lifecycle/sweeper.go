// Package lifecycle moves appointments through their state machine over time:
// scheduled appointments whose session has ended are promoted to completed.
// Promotion is one-way and idempotent, so the timer sweep and the on-read
// sweep may overlap freely.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/serenemind/mindsession/services/booking-service/internal/booking"
	"github.com/serenemind/mindsession/services/booking-service/internal/model"
	"github.com/serenemind/mindsession/services/booking-service/internal/timeutil"
)

// Store is the slice of booking storage the sweeper needs.
type Store interface {
	ListOpenAppointments(ctx context.Context, f booking.Filter) ([]model.Appointment, error)
	MarkCompleted(ctx context.Context, id string) error
	MissingReservations(ctx context.Context) ([]model.Appointment, error)
	RestoreReservation(ctx context.Context, appointmentID, therapistID, slotDate, slotTime string) error
}

type Sweeper struct {
	store          Store
	logger         *slog.Logger
	now            func() time.Time
	interval       time.Duration
	reconcileEvery time.Duration
}

type Config struct {
	Interval       time.Duration
	ReconcileEvery time.Duration
}

func NewSweeper(store Store, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = time.Hour
	}
	return &Sweeper{
		store:          store,
		logger:         logger,
		now:            time.Now,
		interval:       cfg.Interval,
		reconcileEvery: cfg.ReconcileEvery,
	}
}

// WithClock overrides the wall clock. Test hook.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps on a timer until ctx is cancelled, with a slower reconciliation
// tick interleaved. One sweep runs immediately so appointments that elapsed
// while the process was down are promoted at startup rather than a full
// interval later.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	reconcile := time.NewTicker(s.reconcileEvery)
	defer reconcile.Stop()

	if n, err := s.SweepAll(ctx); err != nil {
		s.logger.Error("lifecycle sweep failed", "err", err)
	} else if n > 0 {
		s.logger.Info("lifecycle sweep promoted appointments", "count", n)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepAll(ctx); err != nil {
				s.logger.Error("lifecycle sweep failed", "err", err)
			} else if n > 0 {
				s.logger.Info("lifecycle sweep promoted appointments", "count", n)
			}
		case <-reconcile.C:
			if n, err := s.Reconcile(ctx); err != nil {
				s.logger.Error("reservation reconcile failed", "err", err)
			} else if n > 0 {
				s.logger.Warn("repaired appointments missing slot reservations", "count", n)
			}
		}
	}
}

// SweepAll promotes every elapsed scheduled appointment and returns the count
// promoted.
func (s *Sweeper) SweepAll(ctx context.Context) (int, error) {
	return s.sweep(ctx, booking.Filter{})
}

// SweepFor promotes only appointments matching the filter. Serving paths call
// it before listing so stale statuses are never visible between timer ticks.
func (s *Sweeper) SweepFor(ctx context.Context, f booking.Filter) (int, error) {
	return s.sweep(ctx, f)
}

func (s *Sweeper) sweep(ctx context.Context, f booking.Filter) (int, error) {
	appts, err := s.store.ListOpenAppointments(ctx, f)
	if err != nil {
		return 0, err
	}

	now := s.now()
	promoted := 0
	for _, appt := range appts {
		if !timeutil.SlotElapsed(appt.SlotDate, appt.SlotTime, now) {
			continue
		}
		// One bad record must not block status accuracy for the rest.
		if err := s.store.MarkCompleted(ctx, appt.ID); err != nil {
			s.logger.Error("failed to mark appointment completed",
				"appointment_id", appt.ID, "err", err)
			continue
		}
		promoted++
	}
	return promoted, nil
}

// Reconcile repairs the inconsistency a partial booking commit can leave
// behind: an appointment on record with no matching entry in the therapist's
// booked-slots map.
func (s *Sweeper) Reconcile(ctx context.Context) (int, error) {
	orphans, err := s.store.MissingReservations(ctx)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, appt := range orphans {
		// The restore is conditional on the appointment still being open:
		// a cancellation committing after the orphan scan releases the slot
		// for good, and writing it back here would block rebooking forever.
		if err := s.store.RestoreReservation(ctx, appt.ID, appt.TherapistID, appt.SlotDate, appt.SlotTime); err != nil {
			s.logger.Error("failed to restore slot reservation",
				"appointment_id", appt.ID, "therapist_id", appt.TherapistID, "err", err)
			continue
		}
		repaired++
	}
	return repaired, nil
}
