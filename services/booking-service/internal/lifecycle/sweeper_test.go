package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/serenemind/mindsession/services/booking-service/internal/booking"
	"github.com/serenemind/mindsession/services/booking-service/internal/booking/bookingtest"
	"github.com/serenemind/mindsession/services/booking-service/internal/model"
)

func testSweeper(store Store, now time.Time) *Sweeper {
	return NewSweeper(store, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{}).
		WithClock(func() time.Time { return now })
}

func seedAppointment(store *bookingtest.Store, id, userID string, date, tm string) {
	store.Appointments[id] = model.Appointment{
		ID:          id,
		UserID:      userID,
		TherapistID: "th-1",
		SlotDate:    date,
		SlotTime:    tm,
	}
}

func TestSweep_PromotionBoundary(t *testing.T) {
	store := bookingtest.NewStore()
	store.Therapists["th-1"] = model.Therapist{ID: "th-1", Available: true, BookedSlots: map[string][]string{}}

	// A 60-minute session that started 61 minutes ago has elapsed; one that
	// started 59 minutes ago has not.
	now := time.Date(2025, 6, 10, 15, 1, 0, 0, time.UTC)
	seedAppointment(store, "done", "u1", "2025-06-10", "13:00")  // ended 15:00
	seedAppointment(store, "live", "u2", "2025-06-10", "14:02")  // ends 15:02
	seedAppointment(store, "later", "u3", "2025-06-10", "15:30") // not started

	sw := testSweeper(store, now)
	n, err := sw.SweepAll(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 promotion, got %d", n)
	}
	if !store.Appointments["done"].Completed {
		t.Fatal("elapsed appointment should be completed")
	}
	if store.Appointments["live"].Completed || store.Appointments["later"].Completed {
		t.Fatal("live appointments must stay scheduled")
	}
}

func TestSweep_Idempotent(t *testing.T) {
	store := bookingtest.NewStore()
	store.Therapists["th-1"] = model.Therapist{ID: "th-1", Available: true, BookedSlots: map[string][]string{}}
	now := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	seedAppointment(store, "a1", "u1", "2025-06-10", "08:00")
	seedAppointment(store, "a2", "u2", "2025-06-10", "09:00")

	sw := testSweeper(store, now)
	first, err := sw.SweepAll(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if first != 2 {
		t.Fatalf("expected 2 promotions, got %d", first)
	}
	second, err := sw.SweepAll(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second != 0 {
		t.Fatalf("second sweep should promote nothing, got %d", second)
	}
}

func TestSweep_SkipsCancelled(t *testing.T) {
	store := bookingtest.NewStore()
	store.Therapists["th-1"] = model.Therapist{ID: "th-1", Available: true, BookedSlots: map[string][]string{}}
	now := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)

	store.Appointments["c1"] = model.Appointment{
		ID: "c1", UserID: "u1", TherapistID: "th-1",
		SlotDate: "2025-06-10", SlotTime: "08:00", Cancelled: true,
	}

	sw := testSweeper(store, now)
	n, err := sw.SweepAll(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("cancelled appointment must not be promoted, got %d", n)
	}
	if store.Appointments["c1"].Completed {
		t.Fatal("cancelled appointment must never become completed")
	}
}

func TestSweep_ScopedFilter(t *testing.T) {
	store := bookingtest.NewStore()
	store.Therapists["th-1"] = model.Therapist{ID: "th-1", Available: true, BookedSlots: map[string][]string{}}
	now := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	seedAppointment(store, "mine", "u1", "2025-06-10", "08:00")
	seedAppointment(store, "theirs", "u2", "2025-06-10", "08:00")

	sw := testSweeper(store, now)
	n, err := sw.SweepFor(context.Background(), booking.Filter{UserID: "u1"})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 scoped promotion, got %d", n)
	}
	if !store.Appointments["mine"].Completed {
		t.Fatal("scoped appointment should be completed")
	}
	if store.Appointments["theirs"].Completed {
		t.Fatal("out-of-scope appointment must not be touched")
	}
}

func TestSweep_ContinuesPastBadRecord(t *testing.T) {
	store := bookingtest.NewStore()
	store.Therapists["th-1"] = model.Therapist{ID: "th-1", Available: true, BookedSlots: map[string][]string{}}
	now := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	seedAppointment(store, "bad", "u1", "2025-06-10", "08:00")
	seedAppointment(store, "good", "u2", "2025-06-10", "09:00")
	store.CompleteErr["bad"] = errors.New("row lock timeout")

	sw := testSweeper(store, now)
	n, err := sw.SweepAll(context.Background())
	if err != nil {
		t.Fatalf("sweep should not abort on one bad record: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the good record promoted, got %d", n)
	}
	if !store.Appointments["good"].Completed {
		t.Fatal("good record should be completed despite earlier failure")
	}
}

func TestReconcile_RestoresMissingReservation(t *testing.T) {
	store := bookingtest.NewStore()
	store.Therapists["th-1"] = model.Therapist{ID: "th-1", Available: true, BookedSlots: map[string][]string{}}
	now := time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)

	// Appointment exists but its slot was never reserved (partial commit).
	seedAppointment(store, "orphan", "u1", "2025-06-12", "10:00")

	sw := testSweeper(store, now)
	n, err := sw.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 repair, got %d", n)
	}
	th, _ := store.Therapist(context.Background(), "th-1")
	found := false
	for _, tm := range th.BookedSlots["2025-06-12"] {
		if tm == "10:00" {
			found = true
		}
	}
	if !found {
		t.Fatal("reservation should be restored")
	}

	// Second pass finds nothing to repair.
	n, err = sw.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected idempotent reconcile, got %d", n)
	}
}

func TestReconcile_RestoreSkipsJustCancelledAppointment(t *testing.T) {
	store := bookingtest.NewStore()
	store.Therapists["th-1"] = model.Therapist{ID: "th-1", Available: true, BookedSlots: map[string][]string{}}

	// The orphan is listed for repair, then the user cancels before the
	// restore lands. Replaying the stale restore must not re-reserve the
	// slot the cancellation just released.
	seedAppointment(store, "orphan", "u1", "2025-06-12", "10:00")
	appt := store.Appointments["orphan"]
	appt.Cancelled = true
	store.Appointments["orphan"] = appt

	if err := store.RestoreReservation(context.Background(), "orphan", "th-1", "2025-06-12", "10:00"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	th, _ := store.Therapist(context.Background(), "th-1")
	for _, tm := range th.BookedSlots["2025-06-12"] {
		if tm == "10:00" {
			t.Fatal("cancelled appointment must not get its slot re-reserved")
		}
	}
}

func TestRun_SweepsImmediatelyOnStart(t *testing.T) {
	store := bookingtest.NewStore()
	store.Therapists["th-1"] = model.Therapist{ID: "th-1", Available: true, BookedSlots: map[string][]string{}}
	now := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	seedAppointment(store, "stale", "u1", "2025-06-10", "08:00")

	// Long intervals: only the startup sweep can promote within the deadline.
	sw := NewSweeper(store, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Interval:       time.Hour,
		ReconcileEvery: time.Hour,
	}).WithClock(func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sw.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		appt, err := store.Appointment(ctx, "stale")
		if err != nil {
			t.Fatalf("appointment: %v", err)
		}
		if appt.Completed {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatal("appointment should be promoted by the startup sweep")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}
