package models

import (
	"time"

	"github.com/uptrace/bun"
)

type WaitlistStatus string

const (
	WaitlistPending   WaitlistStatus = "pending"
	WaitlistNotified  WaitlistStatus = "notified"
	WaitlistConverted WaitlistStatus = "converted"
	WaitlistExpired   WaitlistStatus = "expired"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

type WaitlistEntry struct {
	bun.BaseModel `bun:"table:waitlist_entries"`

	ID                     string         `bun:"id,pk" json:"id"`
	EventID                string         `bun:"event_id,notnull" json:"event_id"`
	Contact                Contact        `bun:"contact" json:"contact"`
	NumberOfPersons        int            `bun:"number_of_persons,notnull" json:"number_of_persons"`
	Status                 WaitlistStatus `bun:"status,notnull" json:"status"`
	OfferToken             string         `bun:"offer_token,nullzero" json:"-"`
	OfferExpiresAt         time.Time      `bun:"offer_expires_at,nullzero" json:"offer_expires_at,omitempty"`
	NotifiedAt             time.Time      `bun:"notified_at,nullzero" json:"notified_at,omitempty"`
	ConvertedReservationID string         `bun:"converted_reservation_id,nullzero" json:"converted_reservation_id,omitempty"`
	CreatedAt              time.Time      `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt              time.Time      `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

type WaitlistJoinRequest struct {
	EventID         string  `json:"event_id"`
	Contact         Contact `json:"contact"`
	NumberOfPersons int     `json:"number_of_persons"`
}
