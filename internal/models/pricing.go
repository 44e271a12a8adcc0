package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AddOnSelection is a per-person extra such as a pre-drink or after-party.
type AddOnSelection struct {
	Key            string          `json:"key"`
	Enabled        bool            `json:"enabled"`
	Quantity       int             `json:"quantity"`
	MinPersons     int             `json:"min_persons"`
	PricePerPerson decimal.Decimal `json:"price_per_person"`
}

type MerchandiseLine struct {
	ItemID   string          `json:"item_id"`
	Name     string          `json:"name,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type AddOnCost struct {
	Key            string          `json:"key"`
	Quantity       int             `json:"quantity"`
	PricePerPerson decimal.Decimal `json:"price_per_person"`
	Total          decimal.Decimal `json:"total"`
}

type Discount struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// PricingSnapshot freezes the pricing inputs and result at booking time so later
// catalog changes never alter an existing reservation.
type PricingSnapshot struct {
	Arrangement      string            `json:"arrangement"`
	PricePerPerson   decimal.Decimal   `json:"price_per_person"`
	NumberOfPersons  int               `json:"number_of_persons"`
	AddOns           []AddOnSelection  `json:"add_ons,omitempty"`
	Merchandise      []MerchandiseLine `json:"merchandise,omitempty"`
	Discount         *Discount         `json:"discount,omitempty"`
	ArrangementTotal decimal.Decimal   `json:"arrangement_total"`
	AddOnCosts       []AddOnCost       `json:"add_on_costs,omitempty"`
	MerchandiseTotal decimal.Decimal   `json:"merchandise_total"`
	Subtotal         decimal.Decimal   `json:"subtotal"`
	Total            decimal.Decimal   `json:"total"`
	CalculatedAt     time.Time         `json:"calculated_at"`
}

type PriceOverride struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
	SetBy  string          `json:"set_by,omitempty"`
	SetAt  time.Time       `json:"set_at"`
}
