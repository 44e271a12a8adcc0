package notify

import (
	"context"
	"time"

	"ms-reservations/internal/models"
)

type Kind string

const (
	KindReceived        Kind = "reservation_received"
	KindOptionPlaced    Kind = "option_placed"
	KindRequestReceived Kind = "request_received"
	KindConfirmed       Kind = "confirmed"
	KindRejected        Kind = "rejected"
	KindCancelled       Kind = "cancelled"
	KindOptionExpired   Kind = "option_expired"
	KindCheckedIn       Kind = "checked_in"
	KindWaitlistJoined  Kind = "waitlist_joined"
	KindWaitlistOffer   Kind = "waitlist_offer"
)

// Notification is the message handed to the mail/messaging collaborator. Rendering
// and delivery to the customer happen outside this service.
type Notification struct {
	ID              string            `json:"id"`
	Kind            Kind              `json:"kind"`
	EventID         string            `json:"event_id"`
	ReservationID   string            `json:"reservation_id,omitempty"`
	WaitlistEntryID string            `json:"waitlist_entry_id,omitempty"`
	Contact         models.Contact    `json:"contact"`
	Data            map[string]string `json:"data,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Notifier is fire-and-forget: Send must not block on delivery.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Transport delivers one notification synchronously.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
	Close() error
}

// Nop drops everything.
type Nop struct{}

func (Nop) Send(context.Context, Notification) error { return nil }
