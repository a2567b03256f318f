package model

import "time"

// Therapist is a directory record. BookedSlots maps a calendar date
// ("2006-01-02") to the 24-hour times ("15:04") already committed to a
// non-cancelled appointment on that date.
type Therapist struct {
	ID          string
	Name        string
	Speciality  string
	Bio         string
	ImageURL    string
	Fee         int
	Available   bool
	BookedSlots map[string][]string
	CreatedAt   time.Time
}

// User is the minimal profile kept locally so appointments can freeze a
// snapshot at booking time. Credentials live with the identity provider.
type User struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	ImageURL  string
	CreatedAt time.Time
}

// UserSnapshot and TherapistSnapshot are frozen copies embedded in an
// appointment when it is created. Later edits to the live records never
// change historical appointment data.
type UserSnapshot struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type TherapistSnapshot struct {
	Name       string `json:"name"`
	Speciality string `json:"speciality"`
	ImageURL   string `json:"image_url,omitempty"`
	Fee        int    `json:"fee"`
}

type Appointment struct {
	ID          string
	UserID      string
	TherapistID string
	SlotDate    string // "2006-01-02"
	SlotTime    string // "15:04", 24-hour
	Amount      int
	Cancelled   bool
	Completed   bool
	User        UserSnapshot
	Therapist   TherapistSnapshot
	CreatedAt   time.Time
}

// Status reports the lifecycle state: scheduled, completed or cancelled.
// Completed and cancelled are terminal.
func (a Appointment) Status() string {
	switch {
	case a.Cancelled:
		return "cancelled"
	case a.Completed:
		return "completed"
	default:
		return "scheduled"
	}
}

func NewUserSnapshot(u User) UserSnapshot {
	return UserSnapshot{
		Name:     u.Name,
		Email:    u.Email,
		Phone:    u.Phone,
		ImageURL: u.ImageURL,
	}
}

func NewTherapistSnapshot(t Therapist) TherapistSnapshot {
	return TherapistSnapshot{
		Name:       t.Name,
		Speciality: t.Speciality,
		ImageURL:   t.ImageURL,
		Fee:        t.Fee,
	}
}
