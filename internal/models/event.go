package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Event is a dated show with a fixed headcount capacity.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID            string                     `bun:"id,pk" json:"id"`
	Name          string                     `bun:"name,notnull" json:"name"`
	Date          time.Time                  `bun:"date,notnull" json:"date"`
	EventType     string                     `bun:"event_type,notnull" json:"event_type"`
	Capacity      int                        `bun:"capacity,notnull" json:"capacity"`
	Arrangements  []string                   `bun:"arrangements" json:"arrangements"`
	CustomPricing map[string]decimal.Decimal `bun:"custom_pricing" json:"custom_pricing,omitempty"`
	CreatedAt     time.Time                  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// AllowsArrangement reports whether the arrangement tier can be booked for this event.
// An event without an explicit list accepts every tier.
func (e *Event) AllowsArrangement(arrangement string) bool {
	if len(e.Arrangements) == 0 {
		return true
	}
	for _, a := range e.Arrangements {
		if a == arrangement {
			return true
		}
	}
	return false
}
