package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/serenemind/mindsession/services/booking-service/internal/booking"
	"github.com/serenemind/mindsession/services/booking-service/internal/model"
)

type TherapistHandler struct {
	store  booking.Store
	logger *slog.Logger
}

func NewTherapistHandler(store booking.Store, logger *slog.Logger) *TherapistHandler {
	return &TherapistHandler{store: store, logger: logger}
}

type therapistItem struct {
	TherapistID string `json:"therapist_id"`
	Name        string `json:"name"`
	Speciality  string `json:"speciality"`
	Bio         string `json:"bio,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Fee         int    `json:"fee"`
	Available   bool   `json:"available"`
}

type createTherapistRequest struct {
	Name       string `json:"name"`
	Speciality string `json:"speciality"`
	Bio        string `json:"bio"`
	ImageURL   string `json:"image_url"`
	Fee        int    `json:"fee"`
}

type setAvailabilityRequest struct {
	TherapistID string `json:"therapist_id"`
	Available   bool   `json:"available"`
}

type profileRequest struct {
	Phone    string `json:"phone"`
	ImageURL string `json:"image_url"`
}

// List is the public therapist directory. Only therapists accepting bookings
// appear unless all=true (admin browsing).
func (h *TherapistHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	onlyAvailable := r.URL.Query().Get("all") != "true"

	therapists, err := h.store.ListTherapists(r.Context(), onlyAvailable)
	if err != nil {
		http.Error(w, "failed to list therapists", http.StatusInternalServerError)
		return
	}
	items := make([]therapistItem, 0, len(therapists))
	for _, t := range therapists {
		items = append(items, therapistItem{
			TherapistID: t.ID,
			Name:        t.Name,
			Speciality:  t.Speciality,
			Bio:         t.Bio,
			ImageURL:    t.ImageURL,
			Fee:         t.Fee,
			Available:   t.Available,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// Create registers a new therapist. Admin only; role enforcement happens in
// the routing middleware.
func (h *TherapistHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createTherapistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Speciality = strings.TrimSpace(req.Speciality)
	if req.Name == "" || req.Speciality == "" {
		http.Error(w, "name and speciality required", http.StatusBadRequest)
		return
	}
	if req.Fee < 0 {
		http.Error(w, "fee must not be negative", http.StatusBadRequest)
		return
	}

	t := model.Therapist{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Speciality:  req.Speciality,
		Bio:         strings.TrimSpace(req.Bio),
		ImageURL:    strings.TrimSpace(req.ImageURL),
		Fee:         req.Fee,
		Available:   true,
		BookedSlots: map[string][]string{},
	}
	if err := h.store.CreateTherapist(r.Context(), t); err != nil {
		http.Error(w, "failed to create therapist", http.StatusInternalServerError)
		return
	}
	h.logger.Info("therapist created", "therapist_id", t.ID, "speciality", t.Speciality)
	writeJSON(w, http.StatusCreated, map[string]string{"therapist_id": t.ID})
}

// SetAvailability toggles whether a therapist appears in the directory and
// accepts new bookings. Existing appointments are untouched.
func (h *TherapistHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req setAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.TherapistID = strings.TrimSpace(req.TherapistID)
	if req.TherapistID == "" {
		http.Error(w, "therapist_id required", http.StatusBadRequest)
		return
	}

	if err := h.store.SetTherapistAvailability(r.Context(), req.TherapistID, req.Available); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"therapist_id": req.TherapistID,
		"available":    req.Available,
	})
}

// UpsertProfile refreshes the caller's local profile from their verified
// token claims plus the optional editable fields. The profile must exist
// before the user can book, since appointments freeze a snapshot of it.
func (h *TherapistHandler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims := ClaimsFrom(r.Context())
	if claims == nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	u := model.User{
		ID:       claims.Sub,
		Name:     claims.Name,
		Email:    claims.Email,
		Phone:    strings.TrimSpace(req.Phone),
		ImageURL: strings.TrimSpace(req.ImageURL),
	}
	if u.Name == "" || u.Email == "" {
		http.Error(w, "token is missing name or email claims", http.StatusBadRequest)
		return
	}
	if err := h.store.UpsertUser(r.Context(), u); err != nil {
		http.Error(w, "failed to save profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": u.ID})
}
