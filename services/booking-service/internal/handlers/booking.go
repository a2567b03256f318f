package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/serenemind/mindsession/services/booking-service/internal/availability"
	"github.com/serenemind/mindsession/services/booking-service/internal/booking"
	"github.com/serenemind/mindsession/services/booking-service/internal/lifecycle"
	"github.com/serenemind/mindsession/services/booking-service/internal/model"
)

type BookingHandler struct {
	svc     *booking.Service
	sweeper *lifecycle.Sweeper
	logger  *slog.Logger
}

func NewBookingHandler(svc *booking.Service, sweeper *lifecycle.Sweeper, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, sweeper: sweeper, logger: logger}
}

type bookRequest struct {
	TherapistID string `json:"therapist_id"`
	SlotDate    string `json:"slot_date"`
	SlotTime    string `json:"slot_time"`
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	TherapistID   string `json:"therapist_id"`
	Therapist     string `json:"therapist_name"`
	Speciality    string `json:"speciality"`
	SlotDate      string `json:"slot_date"`
	SlotTime      string `json:"slot_time"`
	Amount        int    `json:"amount"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

type daySlotsItem struct {
	Date  string   `json:"date"`
	Times []string `json:"times"`
}

// Slots serves the rolling 7-day availability listing for a therapist.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	therapistID := strings.TrimSpace(r.URL.Query().Get("therapist_id"))
	if therapistID == "" {
		http.Error(w, "therapist_id required", http.StatusBadRequest)
		return
	}

	days, err := h.svc.AvailableSlots(r.Context(), therapistID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse(days))
}

func slotsResponse(days []availability.DaySlots) []daySlotsItem {
	out := make([]daySlotsItem, 0, len(days))
	for _, d := range days {
		times := d.Times
		if times == nil {
			times = []string{}
		}
		out = append(out, daySlotsItem{Date: d.Date, Times: times})
	}
	return out
}

// Book creates an appointment for the authenticated user.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims := ClaimsFrom(r.Context())
	if claims == nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.TherapistID = strings.TrimSpace(req.TherapistID)
	req.SlotDate = strings.TrimSpace(req.SlotDate)
	req.SlotTime = strings.TrimSpace(req.SlotTime)
	if req.TherapistID == "" || req.SlotDate == "" || req.SlotTime == "" {
		http.Error(w, "therapist_id, slot_date and slot_time required", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.Book(r.Context(), claims.Sub, req.TherapistID, req.SlotDate, req.SlotTime)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentItem(appt))
}

// Cancel cancels one of the authenticated user's appointments.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims := ClaimsFrom(r.Context())
	if claims == nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	if err := h.svc.Cancel(r.Context(), req.AppointmentID, claims.Sub); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"appointment_id": req.AppointmentID,
		"status":         "cancelled",
	})
}

// List returns the authenticated user's appointments. A scoped sweep runs
// first so an appointment whose session just ended never shows as scheduled.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims := ClaimsFrom(r.Context())
	if claims == nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	f := booking.Filter{UserID: claims.Sub}
	if _, err := h.sweeper.SweepFor(r.Context(), f); err != nil {
		// Listing still works with pre-sweep statuses; the timer pass catches up.
		h.logger.Warn("on-read sweep failed", "err", err)
	}

	appts, err := h.svc.List(r.Context(), f)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toAppointmentItem(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

// AdminList returns appointments across all users, optionally scoped to one
// therapist or user via query params. Swept first, like the user listing.
func (h *BookingHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f := booking.Filter{
		UserID:      strings.TrimSpace(r.URL.Query().Get("user_id")),
		TherapistID: strings.TrimSpace(r.URL.Query().Get("therapist_id")),
	}
	if _, err := h.sweeper.SweepFor(r.Context(), f); err != nil {
		h.logger.Warn("on-read sweep failed", "err", err)
	}

	appts, err := h.svc.List(r.Context(), f)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	items := make([]adminAppointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, adminAppointmentItem{
			appointmentItem: toAppointmentItem(appt),
			UserID:          appt.UserID,
			UserName:        appt.User.Name,
			UserEmail:       appt.User.Email,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type adminAppointmentItem struct {
	appointmentItem
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}

func toAppointmentItem(appt model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID: appt.ID,
		TherapistID:   appt.TherapistID,
		Therapist:     appt.Therapist.Name,
		Speciality:    appt.Therapist.Speciality,
		SlotDate:      appt.SlotDate,
		SlotTime:      appt.SlotTime,
		Amount:        appt.Amount,
		Status:        appt.Status(),
		CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
	}
}
