package storage

import (
	"context"
	"encoding/json"

	"github.com/serenemind/mindsession/libs/db"
)

// Notification is one delivery attempt, kept for auditing and support
// queries ("did the user get their confirmation?").
type Notification struct {
	AppointmentID string
	UserID        string
	Kind          string // "booked" or "cancelled"
	Recipient     string
	Payload       map[string]any
	Status        string // "sent" or "failed"
	Reason        string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, user_id, kind, recipient, payload, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.AppointmentID, n.UserID, n.Kind, n.Recipient, payload, n.Status, n.Reason)
	return err
}
