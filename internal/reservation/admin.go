package reservation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"
	"ms-reservations/internal/pricing"

	"github.com/shopspring/decimal"
)

// SetPaymentStatus records the financial state. Nothing is charged or refunded here.
func (s *Service) SetPaymentStatus(ctx context.Context, id string, status models.PaymentStatus, note, actor string) (*models.Reservation, error) {
	if _, err := models.ParsePaymentStatus(string(status)); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrValidation)
	}
	r, _, err := s.mutate(ctx, id, func(ctx context.Context, tx *txScope, r *models.Reservation, now time.Time) (*outcome, error) {
		if r.PaymentStatus == status {
			return &outcome{}, nil
		}
		from := r.PaymentStatus
		r.PaymentStatus = status
		if status == models.PaymentPaid {
			r.PaymentReceivedAt = now
		}
		msg := fmt.Sprintf("Payment status changed from %s to %s", from, status)
		if note = strings.TrimSpace(note); note != "" {
			msg += ": " + note
		}
		r.AppendLog(now, models.LogPayment, actor, msg)
		return &outcome{changed: true, kind: ChangeUpdated, from: r.Status, action: "PAYMENT", message: msg}, nil
	})
	return r, err
}

func (s *Service) MarkAsPaid(ctx context.Context, id, actor string) (*models.Reservation, error) {
	return s.SetPaymentStatus(ctx, id, models.PaymentPaid, "", actor)
}

// SetPriceOverride replaces the displayed total. The pricing snapshot is kept so the
// override can be undone.
func (s *Service) SetPriceOverride(ctx context.Context, id string, amount decimal.Decimal, reason, actor string) (*models.Reservation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationf("price override needs a reason")
	}
	if amount.IsNegative() {
		return nil, validationf("price override %s is negative", amount.String())
	}
	amount = amount.Round(2)

	r, _, err := s.mutate(ctx, id, func(ctx context.Context, tx *txScope, r *models.Reservation, now time.Time) (*outcome, error) {
		prev := r.TotalPrice
		r.PriceOverride = &models.PriceOverride{Amount: amount, Reason: reason, SetBy: actor, SetAt: now}
		r.TotalPrice = amount
		msg := fmt.Sprintf("Price overridden from %s to %s: %s", prev.StringFixed(2), amount.StringFixed(2), reason)
		r.AppendLog(now, models.LogPricing, actor, msg)
		return &outcome{changed: true, kind: ChangeUpdated, from: r.Status, action: "PRICE_OVERRIDE", message: msg}, nil
	})
	return r, err
}

// ClearPriceOverride restores the computed total by recomputing it from the snapshot inputs.
func (s *Service) ClearPriceOverride(ctx context.Context, id, actor string) (*models.Reservation, error) {
	r, _, err := s.mutate(ctx, id, func(ctx context.Context, tx *txScope, r *models.Reservation, now time.Time) (*outcome, error) {
		if r.PriceOverride == nil {
			return &outcome{}, nil
		}
		total := r.TotalPrice
		if r.PricingSnapshot != nil {
			snap, err := pricing.ComputeTotal(pricing.InputFromSnapshot(r.PricingSnapshot))
			if err != nil {
				return nil, fmt.Errorf("recompute price of %s: %w", r.ID, err)
			}
			total = snap.Total
		}
		r.PriceOverride = nil
		r.TotalPrice = total
		msg := fmt.Sprintf("Price override removed, total back to %s", total.StringFixed(2))
		r.AppendLog(now, models.LogPricing, actor, msg)
		return &outcome{changed: true, kind: ChangeUpdated, from: r.Status, action: "PRICE_OVERRIDE", message: msg}, nil
	})
	return r, err
}

func (s *Service) AddNote(ctx context.Context, id, message, actor string) (*models.Reservation, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, validationf("note is empty")
	}
	r, _, err := s.mutate(ctx, id, func(ctx context.Context, tx *txScope, r *models.Reservation, now time.Time) (*outcome, error) {
		r.AppendLog(now, models.LogNote, actor, message)
		return &outcome{changed: true, kind: ChangeUpdated, from: r.Status, action: "NOTE"}, nil
	})
	return r, err
}

func (s *Service) SetTags(ctx context.Context, id string, tags []string, actor string) (*models.Reservation, error) {
	tags = normalizeTags(tags)
	r, _, err := s.mutate(ctx, id, func(ctx context.Context, tx *txScope, r *models.Reservation, now time.Time) (*outcome, error) {
		if strings.Join(r.Tags, "\x00") == strings.Join(tags, "\x00") {
			return &outcome{}, nil
		}
		r.Tags = tags
		return &outcome{changed: true, kind: ChangeUpdated, from: r.Status, action: "TAGS"}, nil
	})
	return r, err
}

// ExtendOption moves the expiry of a live option to until.
func (s *Service) ExtendOption(ctx context.Context, id string, until time.Time, actor string) (*models.Reservation, error) {
	r, _, err := s.mutate(ctx, id, func(ctx context.Context, tx *txScope, r *models.Reservation, now time.Time) (*outcome, error) {
		if r.Status != models.ReservationOption {
			return nil, fmt.Errorf("reservation %s is %s, not an option: %w", r.ID, r.Status, domain.ErrInvalidTransition)
		}
		if !until.After(now) {
			return nil, validationf("new option expiry %s is not in the future", until.Format(time.RFC3339))
		}
		until = until.UTC()
		msg := fmt.Sprintf("Option extended from %s to %s", r.OptionExpiresAt.Format(time.RFC3339), until.Format(time.RFC3339))
		r.OptionExpiresAt = until
		r.AppendLog(now, models.LogStatusChange, actor, msg)
		return &outcome{changed: true, kind: ChangeUpdated, from: r.Status, action: "EXTEND_OPTION", message: msg}, nil
	})
	return r, err
}
