package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/serenemind/mindsession/libs/auth"
	"github.com/serenemind/mindsession/services/booking-service/internal/booking"
	"github.com/serenemind/mindsession/services/booking-service/internal/booking/bookingtest"
	"github.com/serenemind/mindsession/services/booking-service/internal/handlers"
	"github.com/serenemind/mindsession/services/booking-service/internal/lifecycle"
	"github.com/serenemind/mindsession/services/booking-service/internal/model"
)

const testSecret = "test-secret"

type fixture struct {
	store *bookingtest.Store
	mux   *http.ServeMux
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	clock := func() time.Time { return now }

	store := bookingtest.NewStore()
	svc := booking.NewService(store, logger).WithClock(clock)
	sweeper := lifecycle.NewSweeper(store, logger, lifecycle.Config{}).WithClock(clock)

	authn := handlers.NewAuthenticator(testSecret, nil)
	bookingH := handlers.NewBookingHandler(svc, sweeper, logger)
	therapistH := handlers.NewTherapistHandler(store, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/public/therapists", http.HandlerFunc(therapistH.List))
	mux.Handle("/api/v1/public/slots", http.HandlerFunc(bookingH.Slots))
	mux.Handle("/api/v1/appointments", authn.RequireRole(methodSwitch(bookingH.List, bookingH.Book), auth.RoleUser))
	mux.Handle("/api/v1/appointments/cancel", authn.RequireRole(http.HandlerFunc(bookingH.Cancel), auth.RoleUser))
	mux.Handle("/api/v1/profile", authn.RequireRole(http.HandlerFunc(therapistH.UpsertProfile), auth.RoleUser))
	mux.Handle("/api/v1/admin/appointments", authn.RequireRole(http.HandlerFunc(bookingH.AdminList), auth.RoleAdmin))
	mux.Handle("/api/v1/admin/therapists", authn.RequireRole(http.HandlerFunc(therapistH.Create), auth.RoleAdmin))
	mux.Handle("/api/v1/admin/therapists/availability", authn.RequireRole(http.HandlerFunc(therapistH.SetAvailability), auth.RoleAdmin))

	return &fixture{store: store, mux: mux, now: now}
}

func methodSwitch(get, post http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			get(w, r)
			return
		}
		post(w, r)
	})
}

func token(t *testing.T, sub, name, email, role string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.Claims{
		Sub:   sub,
		Name:  name,
		Email: email,
		Role:  role,
		Iat:   time.Now().Unix(),
		Exp:   time.Now().Add(time.Hour).Unix(),
	}, testSecret)
	if err != nil {
		t.Fatalf("SignHS256: %v", err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedTherapist(t *testing.T, id string) {
	t.Helper()
	err := f.store.CreateTherapist(context.Background(), model.Therapist{
		ID:          id,
		Name:        "Dr. Ayesha Rahman",
		Speciality:  "CBT",
		Fee:         120,
		Available:   true,
		BookedSlots: map[string][]string{},
	})
	if err != nil {
		t.Fatalf("seed therapist: %v", err)
	}
}

func (f *fixture) seedUser(t *testing.T, id, name, email string) {
	t.Helper()
	if err := f.store.UpsertUser(context.Background(), model.User{ID: id, Name: name, Email: email}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestBookEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedTherapist(t, "th-1")
	f.seedUser(t, "u-1", "Asha", "asha@example.com")
	tok := token(t, "u-1", "Asha", "asha@example.com", auth.RoleUser)

	body := `{"therapist_id":"th-1","slot_date":"2026-03-05","slot_time":"10:00"}`
	rec := f.do(t, http.MethodPost, "/api/v1/appointments", tok, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}

	var resp struct {
		AppointmentID string `json:"appointment_id"`
		Status        string `json:"status"`
		Amount        int    `json:"amount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AppointmentID == "" || resp.Status != "scheduled" || resp.Amount != 120 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Same slot again: duplicate, 409.
	rec = f.do(t, http.MethodPost, "/api/v1/appointments", tok, body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate booking status = %d, want 409", rec.Code)
	}
}

func TestBookEndpointRequiresAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/appointments", "", `{}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/appointments", "not-a-token", `{}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rec.Code)
	}
}

func TestBookEndpointStatusMapping(t *testing.T) {
	f := newFixture(t)
	f.seedTherapist(t, "th-1")
	f.seedUser(t, "u-1", "Asha", "asha@example.com")
	tok := token(t, "u-1", "Asha", "asha@example.com", auth.RoleUser)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"unknown therapist", `{"therapist_id":"nope","slot_date":"2026-03-05","slot_time":"10:00"}`, http.StatusNotFound},
		{"bad time", `{"therapist_id":"th-1","slot_date":"2026-03-05","slot_time":"25:99"}`, http.StatusUnprocessableEntity},
		{"bad date", `{"therapist_id":"th-1","slot_date":"not-a-date","slot_time":"10:00"}`, http.StatusUnprocessableEntity},
		{"missing fields", `{"therapist_id":"th-1"}`, http.StatusBadRequest},
		{"malformed json", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := f.do(t, http.MethodPost, "/api/v1/appointments", tok, tc.body)
		if rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d (body %q)", tc.name, rec.Code, tc.want, rec.Body.String())
		}
	}
}

func TestSlotsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedTherapist(t, "th-1")

	rec := f.do(t, http.MethodGet, "/api/v1/public/slots?therapist_id=th-1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	var days []struct {
		Date  string   `json:"date"`
		Times []string `json:"times"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &days); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(days) != 7 {
		t.Fatalf("len(days) = %d, want 7", len(days))
	}
	// Fixture clock is 09:00, so today starts at 08:00 but only future starts
	// remain: 10:00 through 16:00.
	if days[0].Date != "2026-03-02" {
		t.Fatalf("first day = %s, want 2026-03-02", days[0].Date)
	}
	if len(days[0].Times) == 0 || days[0].Times[0] != "10:00" {
		t.Fatalf("today's first slot = %v, want 10:00 first", days[0].Times)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/public/slots", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing therapist_id status = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/public/slots?therapist_id=ghost", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown therapist status = %d, want 404", rec.Code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedTherapist(t, "th-1")
	f.seedUser(t, "u-1", "Asha", "asha@example.com")
	f.seedUser(t, "u-2", "Badal", "badal@example.com")
	tok1 := token(t, "u-1", "Asha", "asha@example.com", auth.RoleUser)
	tok2 := token(t, "u-2", "Badal", "badal@example.com", auth.RoleUser)

	rec := f.do(t, http.MethodPost, "/api/v1/appointments", tok1,
		`{"therapist_id":"th-1","slot_date":"2026-03-06","slot_time":"11:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("book status = %d", rec.Code)
	}
	var created struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Another user cannot cancel it.
	rec = f.do(t, http.MethodPost, "/api/v1/appointments/cancel", tok2,
		`{"appointment_id":"`+created.AppointmentID+`"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign cancel status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/appointments/cancel", tok1,
		`{"appointment_id":"`+created.AppointmentID+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %q", rec.Code, rec.Body.String())
	}

	// Second cancel: terminal state, 409.
	rec = f.do(t, http.MethodPost, "/api/v1/appointments/cancel", tok1,
		`{"appointment_id":"`+created.AppointmentID+`"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("repeat cancel status = %d, want 409", rec.Code)
	}
}

func TestCancelEndpointWindowClosed(t *testing.T) {
	f := newFixture(t)
	f.seedTherapist(t, "th-1")
	f.seedUser(t, "u-1", "Asha", "asha@example.com")
	tok := token(t, "u-1", "Asha", "asha@example.com", auth.RoleUser)

	// Next day: inside the two-calendar-day notice requirement.
	rec := f.do(t, http.MethodPost, "/api/v1/appointments", tok,
		`{"therapist_id":"th-1","slot_date":"2026-03-03","slot_time":"10:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("book status = %d", rec.Code)
	}
	var created struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/appointments/cancel", tok,
		`{"appointment_id":"`+created.AppointmentID+`"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("late cancel status = %d, want 422 (body %q)", rec.Code, rec.Body.String())
	}
}

func TestListEndpointSweepsBeforeServing(t *testing.T) {
	f := newFixture(t)
	f.seedTherapist(t, "th-1")
	f.seedUser(t, "u-1", "Asha", "asha@example.com")
	tok := token(t, "u-1", "Asha", "asha@example.com", auth.RoleUser)

	// Seed an appointment whose session ended well before the fixture clock.
	err := f.store.CreateAppointment(context.Background(), model.Appointment{
		ID:          "appt-past",
		UserID:      "u-1",
		TherapistID: "th-1",
		SlotDate:    "2026-03-01",
		SlotTime:    "10:00",
		Amount:      120,
		CreatedAt:   f.now.Add(-48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed appointment: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/appointments", tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var items []struct {
		AppointmentID string `json:"appointment_id"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].Status != "completed" {
		t.Fatalf("status = %q, want completed (on-read sweep)", items[0].Status)
	}
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	f := newFixture(t)
	userTok := token(t, "u-1", "Asha", "asha@example.com", auth.RoleUser)
	adminTok := token(t, "admin-1", "Root", "root@example.com", auth.RoleAdmin)

	body := `{"name":"Dr. Farid","speciality":"Trauma","fee":150}`
	rec := f.do(t, http.MethodPost, "/api/v1/admin/therapists", userTok, body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user create status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/admin/therapists", adminTok, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin create status = %d, body %q", rec.Code, rec.Body.String())
	}
	var created struct {
		TherapistID string `json:"therapist_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/admin/therapists/availability", adminTok,
		`{"therapist_id":"`+created.TherapistID+`","available":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set availability status = %d", rec.Code)
	}

	// Unavailable therapist: hidden from the public list, slots refuse.
	rec = f.do(t, http.MethodGet, "/api/v1/public/therapists", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), created.TherapistID) {
		t.Fatalf("unavailable therapist still listed: %s", rec.Body.String())
	}
	rec = f.do(t, http.MethodGet, "/api/v1/public/slots?therapist_id="+created.TherapistID, "", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("slots for unavailable therapist status = %d, want 422", rec.Code)
	}
}

func TestAdminListAppointments(t *testing.T) {
	f := newFixture(t)
	f.seedTherapist(t, "th-1")
	f.seedTherapist(t, "th-2")
	f.seedUser(t, "u-1", "Asha", "asha@example.com")
	userTok := token(t, "u-1", "Asha", "asha@example.com", auth.RoleUser)
	adminTok := token(t, "admin-1", "Root", "root@example.com", auth.RoleAdmin)

	for _, body := range []string{
		`{"therapist_id":"th-1","slot_date":"2026-03-05","slot_time":"10:00"}`,
		`{"therapist_id":"th-2","slot_date":"2026-03-06","slot_time":"11:00"}`,
	} {
		if rec := f.do(t, http.MethodPost, "/api/v1/appointments", userTok, body); rec.Code != http.StatusCreated {
			t.Fatalf("book status = %d, body %q", rec.Code, rec.Body.String())
		}
	}

	rec := f.do(t, http.MethodGet, "/api/v1/admin/appointments", userTok, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user role status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/admin/appointments", adminTok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list status = %d", rec.Code)
	}
	var items []struct {
		TherapistID string `json:"therapist_id"`
		UserID      string `json:"user_id"`
		UserEmail   string `json:"user_email"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].UserID != "u-1" || items[0].UserEmail != "asha@example.com" {
		t.Fatalf("unexpected item: %+v", items[0])
	}

	rec = f.do(t, http.MethodGet, "/api/v1/admin/appointments?therapist_id=th-2", adminTok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("scoped list status = %d", rec.Code)
	}
	items = items[:0]
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].TherapistID != "th-2" {
		t.Fatalf("scoped list = %+v, want only th-2", items)
	}
}

func TestProfileUpsert(t *testing.T) {
	f := newFixture(t)
	f.seedTherapist(t, "th-1")
	tok := token(t, "u-9", "Nadia", "nadia@example.com", auth.RoleUser)

	// Booking before any profile upsert fails: no local user record.
	rec := f.do(t, http.MethodPost, "/api/v1/appointments", tok,
		`{"therapist_id":"th-1","slot_date":"2026-03-05","slot_time":"10:00"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("book without profile status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodPut, "/api/v1/profile", tok, `{"phone":"+8801700000000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile upsert status = %d, body %q", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/appointments", tok,
		`{"therapist_id":"th-1","slot_date":"2026-03-05","slot_time":"10:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("book after profile status = %d, body %q", rec.Code, rec.Body.String())
	}
}
