package pricing

import (
	"fmt"
	"time"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// promoDiscount validates a promo code against the booking and returns the amount off.
func promoDiscount(p *models.PromoCode, arrangement string, subtotal decimal.Decimal, at time.Time) (*models.Discount, error) {
	invalid := func(reason string) error {
		return fmt.Errorf("promo code %s: %s: %w", p.Code, reason, domain.ErrValidation)
	}

	if !p.Active {
		return nil, invalid("not active")
	}
	if !p.ActiveFrom.IsZero() && at.Before(p.ActiveFrom) {
		return nil, invalid("not yet active")
	}
	if !p.ExpiresAt.IsZero() && !at.Before(p.ExpiresAt) {
		return nil, invalid("expired")
	}
	if p.MaxUsage > 0 && p.CurrentUsage >= p.MaxUsage {
		return nil, invalid("usage limit reached")
	}
	if len(p.ApplicableArrangements) > 0 && !contains(p.ApplicableArrangements, arrangement) {
		return nil, invalid(fmt.Sprintf("not valid for arrangement %s", arrangement))
	}
	if subtotal.LessThan(p.MinSpend) {
		return nil, invalid(fmt.Sprintf("minimum spend is %s", p.MinSpend.StringFixed(2)))
	}

	var amount decimal.Decimal
	switch p.Type {
	case models.PromoFlatOff:
		amount = p.Value
	case models.PromoPercentage:
		if p.Value.IsNegative() || p.Value.GreaterThan(hundred) {
			return nil, invalid("percentage out of range")
		}
		amount = subtotal.Mul(p.Value).Div(hundred)
	default:
		return nil, invalid(fmt.Sprintf("unsupported type %q", p.Type))
	}
	amount = round(decimal.Min(amount, subtotal))

	return &models.Discount{
		Code:        p.Code,
		Description: p.Description,
		Amount:      amount,
	}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
