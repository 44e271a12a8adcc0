package pricing

import (
	"fmt"
	"time"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"

	"github.com/shopspring/decimal"
)

// Input carries everything ComputeTotal needs. Prices are already resolved, so the
// computation touches no catalog and no clock.
type Input struct {
	Arrangement     string
	PricePerPerson  decimal.Decimal
	NumberOfPersons int
	AddOns          []models.AddOnSelection
	Merchandise     []models.MerchandiseLine
	Promo           *models.PromoCode
	// Discount is an already validated discount, as frozen in a snapshot. It wins over Promo.
	Discount        *models.Discount
	At              time.Time
}

// InputFromSnapshot rebuilds the inputs frozen in a snapshot.
func InputFromSnapshot(s *models.PricingSnapshot) Input {
	return Input{
		Arrangement:     s.Arrangement,
		PricePerPerson:  s.PricePerPerson,
		NumberOfPersons: s.NumberOfPersons,
		AddOns:          s.AddOns,
		Merchandise:     s.Merchandise,
		Discount:        s.Discount,
		At:              s.CalculatedAt,
	}
}

// ComputeTotal is deterministic: equal inputs always give an equal snapshot.
func ComputeTotal(in Input) (*models.PricingSnapshot, error) {
	if in.NumberOfPersons <= 0 {
		return nil, fmt.Errorf("number of persons must be positive: %w", domain.ErrValidation)
	}
	if in.PricePerPerson.IsNegative() {
		return nil, fmt.Errorf("arrangement %s has a negative price: %w", in.Arrangement, domain.ErrValidation)
	}

	snap := &models.PricingSnapshot{
		Arrangement:     in.Arrangement,
		PricePerPerson:  in.PricePerPerson,
		NumberOfPersons: in.NumberOfPersons,
		AddOns:          in.AddOns,
		Merchandise:     in.Merchandise,
		CalculatedAt:    in.At,
	}

	snap.ArrangementTotal = round(in.PricePerPerson.Mul(decimal.NewFromInt(int64(in.NumberOfPersons))))
	subtotal := snap.ArrangementTotal

	for _, a := range in.AddOns {
		if !a.Enabled {
			continue
		}
		if a.Quantity < 0 {
			return nil, fmt.Errorf("add-on %s quantity %d: %w", a.Key, a.Quantity, domain.ErrValidation)
		}
		if a.Quantity != 0 && a.Quantity < a.MinPersons {
			return nil, fmt.Errorf("add-on %s needs at least %d persons, got %d: %w", a.Key, a.MinPersons, a.Quantity, domain.ErrValidation)
		}
		cost := round(a.PricePerPerson.Mul(decimal.NewFromInt(int64(a.Quantity))))
		snap.AddOnCosts = append(snap.AddOnCosts, models.AddOnCost{
			Key:            a.Key,
			Quantity:       a.Quantity,
			PricePerPerson: a.PricePerPerson,
			Total:          cost,
		})
		subtotal = subtotal.Add(cost)
	}

	merch := decimal.Zero
	for _, m := range in.Merchandise {
		if m.Quantity < 0 {
			return nil, fmt.Errorf("merchandise %s quantity %d: %w", m.ItemID, m.Quantity, domain.ErrValidation)
		}
		merch = merch.Add(m.Price.Mul(decimal.NewFromInt(int64(m.Quantity))))
	}
	snap.MerchandiseTotal = round(merch)
	subtotal = subtotal.Add(snap.MerchandiseTotal)
	snap.Subtotal = subtotal

	snap.Total = subtotal
	switch {
	case in.Discount != nil:
		d := *in.Discount
		d.Amount = round(decimal.Min(d.Amount, subtotal))
		snap.Discount = &d
	case in.Promo != nil:
		discount, err := promoDiscount(in.Promo, in.Arrangement, subtotal, in.At)
		if err != nil {
			return nil, err
		}
		snap.Discount = discount
	}
	if snap.Discount != nil {
		snap.Total = decimal.Max(decimal.Zero, subtotal.Sub(snap.Discount.Amount))
	}
	return snap, nil
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
