// Package storage is the postgres implementation of booking.Store. The
// booking and cancellation writes commit the appointment row, the therapist's
// booked-slots mutation and the outbox event in a single transaction; the
// slot reservation itself is a conditional single-row update, so two
// concurrent bookings of the same (therapist, date, time) cannot both win.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/serenemind/mindsession/libs/db"
	"github.com/serenemind/mindsession/services/booking-service/internal/booking"
	"github.com/serenemind/mindsession/services/booking-service/internal/model"
	"github.com/serenemind/mindsession/services/booking-service/internal/outbox"
)

type Store struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewStore(pool *db.Pool, outboxRepo *outbox.Repository) *Store {
	return &Store{pool: pool, outbox: outboxRepo}
}

var _ booking.Store = (*Store)(nil)

const therapistColumns = `id::text, name, speciality, bio, image_url, fee, available, booked_slots, created_at`

func (s *Store) Therapist(ctx context.Context, id string) (model.Therapist, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+therapistColumns+`
		FROM therapists
		WHERE id = $1
	`, id)
	return scanTherapist(row)
}

func (s *Store) ListTherapists(ctx context.Context, onlyAvailable bool) ([]model.Therapist, error) {
	q := `SELECT ` + therapistColumns + ` FROM therapists`
	if onlyAvailable {
		q += ` WHERE available`
	}
	q += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Therapist
	for rows.Next() {
		th, err := scanTherapist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

func (s *Store) CreateTherapist(ctx context.Context, t model.Therapist) error {
	booked := t.BookedSlots
	if booked == nil {
		booked = map[string][]string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO therapists (id, name, speciality, bio, image_url, fee, available, booked_slots)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.Name, t.Speciality, t.Bio, t.ImageURL, t.Fee, t.Available, booked)
	return err
}

func (s *Store) SetTherapistAvailability(ctx context.Context, id string, available bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE therapists SET available = $2 WHERE id = $1
	`, id, available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrTherapistNotFound
	}
	return nil
}

func (s *Store) User(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, name, email, phone, image_url, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.ImageURL, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, booking.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (s *Store) UpsertUser(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, phone, image_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			image_url = EXCLUDED.image_url
	`, u.ID, u.Name, u.Email, u.Phone, u.ImageURL)
	return err
}

func (s *Store) ActiveAppointmentExists(ctx context.Context, userID, therapistID, slotDate, slotTime string) (bool, error) {
	var exists bool
	var err error
	if therapistID == "" {
		err = s.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM appointments
				WHERE user_id = $1 AND slot_date = $2 AND slot_time = $3 AND NOT cancelled
			)
		`, userID, slotDate, slotTime).Scan(&exists)
	} else {
		err = s.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM appointments
				WHERE user_id = $1 AND therapist_id = $2 AND slot_date = $3 AND slot_time = $4 AND NOT cancelled
			)
		`, userID, therapistID, slotDate, slotTime).Scan(&exists)
	}
	return exists, err
}

// CreateAppointment commits the appointment row, the conditional slot
// reservation on the therapist row and the booked event atomically. The
// appointment insert runs first so that, should the transaction guarantee
// ever be weakened, the failure mode is an appointment without a reservation
// (repairable by lifecycle.Reconcile) rather than a permanently wasted slot.
func (s *Store) CreateAppointment(ctx context.Context, appt model.Appointment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, user_id, therapist_id, slot_date, slot_time, amount, cancelled, is_completed, user_snapshot, therapist_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, false, $7, $8, $9)
	`, appt.ID, appt.UserID, appt.TherapistID, appt.SlotDate, appt.SlotTime, appt.Amount,
		appt.User, appt.Therapist, appt.CreatedAt)
	if err != nil {
		return mapAppointmentInsertErr(err)
	}

	// Reserve the slot only if it is still absent from the date's set. Zero
	// rows affected means a concurrent booking won the race: the service
	// layer fetches the therapist before booking and therapist rows are
	// never deleted, so a missing row cannot be the cause here.
	tag, err := tx.Exec(ctx, `
		UPDATE therapists
		SET booked_slots = jsonb_set(
			booked_slots,
			ARRAY[$2],
			COALESCE(booked_slots->$2, '[]'::jsonb) || to_jsonb($3::text)
		)
		WHERE id = $1
		  AND NOT (COALESCE(booked_slots->$2, '[]'::jsonb) ? $3)
	`, appt.TherapistID, appt.SlotDate, appt.SlotTime)
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrSlotTaken
	}

	payload, err := bookingEventPayload(appt)
	if err != nil {
		return err
	}
	if err := s.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentBooked,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("outbox: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) Appointment(ctx context.Context, id string) (model.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, booking.ErrAppointmentNotFound
	}
	return appt, err
}

// CancelAppointment flips the cancelled flag and releases the reserved slot
// back to the therapist's availability in the same transaction, then records
// the cancellation event.
func (s *Store) CancelAppointment(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.ErrAppointmentNotFound
	}
	if err != nil {
		return err
	}
	if appt.Cancelled || appt.Completed {
		return booking.ErrAlreadyFinished
	}

	if _, err := tx.Exec(ctx, `
		UPDATE appointments SET cancelled = true WHERE id = $1
	`, id); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE therapists
		SET booked_slots = jsonb_set(
			booked_slots,
			ARRAY[$2],
			COALESCE(booked_slots->$2, '[]'::jsonb) - $3
		)
		WHERE id = $1
	`, appt.TherapistID, appt.SlotDate, appt.SlotTime); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}

	payload, err := bookingEventPayload(appt)
	if err != nil {
		return err
	}
	if err := s.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentCancelled,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("outbox: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) ListAppointments(ctx context.Context, f booking.Filter) ([]model.Appointment, error) {
	return s.list(ctx, f, false)
}

func (s *Store) ListOpenAppointments(ctx context.Context, f booking.Filter) ([]model.Appointment, error) {
	return s.list(ctx, f, true)
}

func (s *Store) list(ctx context.Context, f booking.Filter, openOnly bool) ([]model.Appointment, error) {
	q := `SELECT ` + appointmentColumns + ` FROM appointments WHERE true`
	var args []any
	if f.UserID != "" {
		args = append(args, f.UserID)
		q += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.TherapistID != "" {
		args = append(args, f.TherapistID)
		q += fmt.Sprintf(" AND therapist_id = $%d", len(args))
	}
	if openOnly {
		q += " AND NOT cancelled AND NOT is_completed"
	}
	q += " ORDER BY slot_date DESC, slot_time DESC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	// Guarded so a cancelled appointment can never become completed and a
	// repeated sweep is a no-op.
	_, err := s.pool.Exec(ctx, `
		UPDATE appointments
		SET is_completed = true
		WHERE id = $1 AND NOT cancelled AND NOT is_completed
	`, id)
	return err
}

func (s *Store) MissingReservations(ctx context.Context) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+prefixedAppointmentColumns("a")+`
		FROM appointments a
		JOIN therapists t ON t.id = a.therapist_id
		WHERE NOT a.cancelled AND NOT a.is_completed
		  AND NOT (COALESCE(t.booked_slots->a.slot_date, '[]'::jsonb) ? a.slot_time)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

// RestoreReservation re-checks the appointment inside the statement: if it
// was cancelled or completed after MissingReservations listed it, the EXISTS
// guard fails and the released slot stays free.
func (s *Store) RestoreReservation(ctx context.Context, appointmentID, therapistID, slotDate, slotTime string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE therapists
		SET booked_slots = jsonb_set(
			booked_slots,
			ARRAY[$2],
			COALESCE(booked_slots->$2, '[]'::jsonb) || to_jsonb($3::text)
		)
		WHERE id = $1
		  AND NOT (COALESCE(booked_slots->$2, '[]'::jsonb) ? $3)
		  AND EXISTS (
			SELECT 1 FROM appointments
			WHERE id = $4 AND NOT cancelled AND NOT is_completed
		  )
	`, therapistID, slotDate, slotTime, appointmentID)
	return err
}

const appointmentColumns = `id::text, user_id::text, therapist_id::text, slot_date, slot_time, amount, cancelled, is_completed, user_snapshot, therapist_snapshot, created_at`

func prefixedAppointmentColumns(alias string) string {
	return alias + `.id::text, ` + alias + `.user_id::text, ` + alias + `.therapist_id::text, ` +
		alias + `.slot_date, ` + alias + `.slot_time, ` + alias + `.amount, ` +
		alias + `.cancelled, ` + alias + `.is_completed, ` +
		alias + `.user_snapshot, ` + alias + `.therapist_snapshot, ` + alias + `.created_at`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTherapist(row rowScanner) (model.Therapist, error) {
	var th model.Therapist
	err := row.Scan(&th.ID, &th.Name, &th.Speciality, &th.Bio, &th.ImageURL,
		&th.Fee, &th.Available, &th.BookedSlots, &th.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Therapist{}, booking.ErrTherapistNotFound
	}
	if err != nil {
		return model.Therapist{}, err
	}
	if th.BookedSlots == nil {
		th.BookedSlots = map[string][]string{}
	}
	return th, nil
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(&appt.ID, &appt.UserID, &appt.TherapistID, &appt.SlotDate, &appt.SlotTime,
		&appt.Amount, &appt.Cancelled, &appt.Completed, &appt.User, &appt.Therapist, &appt.CreatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// mapAppointmentInsertErr turns unique violations on the partial indexes into
// the matching business error; these only trip when a concurrent insert beats
// the service-level prechecks.
func mapAppointmentInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "appointments_active_therapist_slot_idx":
			return booking.ErrSlotTaken
		case "appointments_active_user_slot_idx":
			return booking.ErrUserScheduleConflict
		}
	}
	return err
}

func bookingEventPayload(appt model.Appointment) ([]byte, error) {
	return json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"user_id":        appt.UserID,
		"therapist_id":   appt.TherapistID,
		"slot_date":      appt.SlotDate,
		"slot_time":      appt.SlotTime,
		"amount":         appt.Amount,
		"user_name":      appt.User.Name,
		"user_email":     appt.User.Email,
		"therapist_name": appt.Therapist.Name,
		"speciality":     appt.Therapist.Speciality,
		"created_at":     appt.CreatedAt.UTC().Format(time.RFC3339),
	})
}
