package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationOption    ReservationStatus = "option"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCheckedIn ReservationStatus = "checked_in"
	ReservationWaitlist  ReservationStatus = "waitlist"
	ReservationRequest   ReservationStatus = "request"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationRejected  ReservationStatus = "rejected"
	ReservationExpired   ReservationStatus = "expired"
)

var allReservationStatuses = []ReservationStatus{
	ReservationPending,
	ReservationOption,
	ReservationConfirmed,
	ReservationCheckedIn,
	ReservationWaitlist,
	ReservationRequest,
	ReservationCancelled,
	ReservationRejected,
	ReservationExpired,
}

// ParseReservationStatus rejects anything outside the closed status set.
func ParseReservationStatus(s string) (ReservationStatus, error) {
	for _, st := range allReservationStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown reservation status %q", s)
}

// HoldsCapacity reports whether reservations in this status count against the event capacity.
func (s ReservationStatus) HoldsCapacity() bool {
	switch s {
	case ReservationPending, ReservationOption, ReservationConfirmed, ReservationCheckedIn:
		return true
	}
	return false
}

// IsTerminal reports whether no further lifecycle transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationCancelled, ReservationRejected, ReservationExpired:
		return true
	}
	return false
}

// ActiveStatuses are the statuses whose persons are subtracted from capacity.
func ActiveStatuses() []ReservationStatus {
	return []ReservationStatus{ReservationPending, ReservationOption, ReservationConfirmed, ReservationCheckedIn}
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type LogType string

const (
	LogStatusChange LogType = "status_change"
	LogNote         LogType = "note"
	LogPayment      LogType = "payment"
	LogPricing      LogType = "pricing"
)

type CommunicationLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      LogType   `json:"type"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
}

type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID              string            `bun:"id,pk" json:"id"`
	EventID         string            `bun:"event_id,notnull" json:"event_id"`
	Status          ReservationStatus `bun:"status,notnull" json:"status"`
	Archived        bool              `bun:"archived,notnull" json:"archived"`
	ArchivedAt      time.Time         `bun:"archived_at,nullzero" json:"archived_at,omitempty"`
	ArchivedBy      string            `bun:"archived_by,nullzero" json:"archived_by,omitempty"`
	NumberOfPersons int               `bun:"number_of_persons,notnull" json:"number_of_persons"`
	Arrangement     string            `bun:"arrangement,notnull" json:"arrangement"`
	AddOns          []AddOnSelection  `bun:"add_ons" json:"add_ons,omitempty"`
	Merchandise     []MerchandiseLine `bun:"merchandise" json:"merchandise,omitempty"`
	PricingSnapshot *PricingSnapshot  `bun:"pricing_snapshot" json:"pricing_snapshot,omitempty"`
	TotalPrice      decimal.Decimal   `bun:"total_price" json:"total_price"`
	PriceOverride   *PriceOverride    `bun:"price_override" json:"price_override,omitempty"`
	PromoCode       string            `bun:"promo_code,nullzero" json:"promo_code,omitempty"`

	PaymentStatus     PaymentStatus `bun:"payment_status,notnull" json:"payment_status"`
	PaymentReceivedAt time.Time     `bun:"payment_received_at,nullzero" json:"payment_received_at,omitempty"`

	OptionPlacedAt  time.Time `bun:"option_placed_at,nullzero" json:"option_placed_at,omitempty"`
	OptionExpiresAt time.Time `bun:"option_expires_at,nullzero" json:"option_expires_at,omitempty"`
	ConfirmedAt     time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
	CheckedInAt     time.Time `bun:"checked_in_at,nullzero" json:"checked_in_at,omitempty"`
	CancelReason    string    `bun:"cancel_reason,nullzero" json:"cancel_reason,omitempty"`

	Contact          Contact                 `bun:"contact" json:"contact"`
	CommunicationLog []CommunicationLogEntry `bun:"communication_log" json:"communication_log,omitempty"`
	Tags             []string                `bun:"tags" json:"tags,omitempty"`

	// CapacityHeld is true while NumberOfPersons is counted in the capacity ledger.
	CapacityHeld bool  `bun:"capacity_held,notnull" json:"capacity_held"`
	Version      int64 `bun:"version,notnull" json:"version"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

func (r *Reservation) AppendLog(at time.Time, logType LogType, author, message string) {
	if author == "" {
		author = "system"
	}
	r.CommunicationLog = append(r.CommunicationLog, CommunicationLogEntry{
		Timestamp: at,
		Type:      logType,
		Message:   message,
		Author:    author,
	})
}

// ComputedTotal is the engine-computed total, ignoring any manual override.
func (r *Reservation) ComputedTotal() decimal.Decimal {
	if r.PricingSnapshot == nil {
		return r.TotalPrice
	}
	return r.PricingSnapshot.Total
}

// Clone returns a copy whose slices can be mutated without touching the original.
func (r *Reservation) Clone() *Reservation {
	c := *r
	c.AddOns = append([]AddOnSelection(nil), r.AddOns...)
	c.Merchandise = append([]MerchandiseLine(nil), r.Merchandise...)
	c.CommunicationLog = append([]CommunicationLogEntry(nil), r.CommunicationLog...)
	c.Tags = append([]string(nil), r.Tags...)
	if r.PricingSnapshot != nil {
		snap := *r.PricingSnapshot
		c.PricingSnapshot = &snap
	}
	if r.PriceOverride != nil {
		ov := *r.PriceOverride
		c.PriceOverride = &ov
	}
	return &c
}
