package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type PromoType string

const (
	PromoPercentage PromoType = "percentage"
	PromoFlatOff    PromoType = "flat_off"
)

type PromoCode struct {
	bun.BaseModel `bun:"table:promo_codes"`

	Code                   string          `bun:"code,pk" json:"code"`
	Description            string          `bun:"description" json:"description"`
	Type                   PromoType       `bun:"type,notnull" json:"type"`
	Value                  decimal.Decimal `bun:"value" json:"value"`
	MinSpend               decimal.Decimal `bun:"min_spend" json:"min_spend"`
	ApplicableArrangements []string        `bun:"applicable_arrangements" json:"applicable_arrangements,omitempty"`
	Active                 bool            `bun:"active,notnull" json:"active"`
	ActiveFrom             time.Time       `bun:"active_from,nullzero" json:"active_from,omitempty"`
	ExpiresAt              time.Time       `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	MaxUsage               int             `bun:"max_usage,notnull" json:"max_usage"`
	CurrentUsage           int             `bun:"current_usage,notnull" json:"current_usage"`
}

// ArrangementPrice is the per-person price of one arrangement for an event type.
type ArrangementPrice struct {
	bun.BaseModel `bun:"table:arrangement_prices"`

	EventType      string          `bun:"event_type,pk" json:"event_type"`
	Arrangement    string          `bun:"arrangement,pk" json:"arrangement"`
	PricePerPerson decimal.Decimal `bun:"price_per_person" json:"price_per_person"`
}

type MerchandiseItem struct {
	bun.BaseModel `bun:"table:merchandise_items"`

	ID     string          `bun:"id,pk" json:"id"`
	Name   string          `bun:"name,notnull" json:"name"`
	Price  decimal.Decimal `bun:"price" json:"price"`
	Active bool            `bun:"active,notnull" json:"active"`
}
