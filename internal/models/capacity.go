package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CapacityLedger holds the remaining headcount for one event. It is derived state
// and can always be rebuilt from reservations that hold capacity.
type CapacityLedger struct {
	bun.BaseModel `bun:"table:capacity_ledger"`

	EventID   string    `bun:"event_id,pk" json:"event_id"`
	Capacity  int       `bun:"capacity,notnull" json:"capacity"`
	Remaining int       `bun:"remaining,notnull" json:"remaining"`
	Version   int64     `bun:"version,notnull" json:"version"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

type CapacityView struct {
	EventID   string `json:"event_id"`
	Capacity  int    `json:"capacity"`
	Remaining int    `json:"remaining"`
}
