// Package notification carries in-app notifications from the booking flow to
// their recipients: a Publisher emits messages, a Dispatcher records them in
// a Store, and the Handler lets recipients read and acknowledge them.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Notification
// ---------------------------------------------------------------------------

// Type is the severity shown to the recipient.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// CategoryAppointment tags notifications produced by the booking flow.
const CategoryAppointment = "appointment"

// Notification is one message addressed to a single user.
type Notification struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Category    string    `json:"category"`
	Type        Type      `json:"type"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// New returns an unread notification with a fresh id.
func New(recipient uuid.UUID, typ Type, category, title, message string) Notification {
	return Notification{
		ID:          uuid.New(),
		RecipientID: recipient,
		Title:       title,
		Message:     message,
		Category:    category,
		Type:        typ,
		CreatedAt:   time.Now().UTC(),
	}
}

func (n Notification) validate() error {
	switch {
	case n.ID == uuid.Nil:
		return errors.New("notification id is required")
	case n.RecipientID == uuid.Nil:
		return errors.New("notification recipient is required")
	case n.Title == "":
		return errors.New("notification title is required")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// Publisher hands a notification to the delivery pipeline.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// ErrNotFound is returned when a notification does not exist for the recipient.
var ErrNotFound = errors.New("notification not found")

// Store persists notifications. Save is idempotent on ID.
type Store interface {
	Save(ctx context.Context, n Notification) error
	ListByRecipient(ctx context.Context, recipient uuid.UUID, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, recipient uuid.UUID) (int, error)
	MarkRead(ctx context.Context, recipient, id uuid.UUID) error
	MarkAllRead(ctx context.Context, recipient uuid.UUID) (int, error)
}
