package reservation

import (
	"context"
	"fmt"
	"strings"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"
	"ms-reservations/internal/notify"
	"ms-reservations/internal/pricing"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Mode selects how a new reservation enters the lifecycle.
type Mode string

const (
	// ModeBooking reserves capacity and waits for staff confirmation.
	ModeBooking Mode = "booking"
	// ModeOption reserves capacity for a limited time.
	ModeOption Mode = "option"
	// ModeRequest takes no capacity; staff decide later, possibly beyond capacity.
	ModeRequest Mode = "request"
)

type CreateInput struct {
	EventID string         `json:"event_id"`
	Mode    Mode           `json:"mode,omitempty"`
	Contact models.Contact `json:"contact"`
	pricing.Request
	Tags  []string `json:"tags,omitempty"`
	Note  string   `json:"note,omitempty"`
	Actor string   `json:"-"`
}

func (in *CreateInput) validate() error {
	if in.Mode == "" {
		in.Mode = ModeBooking
	}
	switch in.Mode {
	case ModeBooking, ModeOption, ModeRequest:
	default:
		return validationf("unknown booking mode %q", in.Mode)
	}
	if strings.TrimSpace(in.EventID) == "" {
		return validationf("event id is required")
	}
	if in.NumberOfPersons <= 0 {
		return validationf("number of persons must be positive, got %d", in.NumberOfPersons)
	}
	if strings.TrimSpace(in.Contact.Name) == "" {
		return validationf("contact name is required")
	}
	if strings.TrimSpace(in.Arrangement) == "" {
		return validationf("arrangement is required")
	}
	return nil
}

// CreateReservation prices the booking, takes capacity (except for requests) and stores
// the reservation. A booking that does not fit fails with *CapacityError.
func (s *Service) CreateReservation(ctx context.Context, in CreateInput) (*models.Reservation, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	event, err := s.store.GetEvent(ctx, in.EventID)
	if err != nil {
		return nil, err
	}
	snap, err := s.pricer.Quote(ctx, event, in.Request)
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &models.Reservation{
		ID:              uuid.NewString(),
		EventID:         event.ID,
		NumberOfPersons: in.NumberOfPersons,
		Arrangement:     in.Arrangement,
		AddOns:          snap.AddOns,
		Merchandise:     snap.Merchandise,
		PricingSnapshot: snap,
		TotalPrice:      snap.Total,
		PromoCode:       in.PromoCode,
		PaymentStatus:   models.PaymentPending,
		Contact:         in.Contact,
		Tags:            normalizeTags(in.Tags),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	out := &outcome{changed: true, kind: ChangeCreated, action: "CREATE"}
	switch in.Mode {
	case ModeBooking:
		r.Status = models.ReservationPending
		out.notify = notify.KindReceived
	case ModeOption:
		r.Status = models.ReservationOption
		r.OptionPlacedAt = now
		r.OptionExpiresAt = now.Add(s.cfg.OptionTTL)
		out.notify = notify.KindOptionPlaced
	case ModeRequest:
		r.Status = models.ReservationRequest
		out.notify = notify.KindRequestReceived
	}
	r.AppendLog(now, models.LogStatusChange, in.Actor, fmt.Sprintf("Reservation created as %s", r.Status))
	if note := strings.TrimSpace(in.Note); note != "" {
		r.AppendLog(now, models.LogNote, in.Actor, note)
	}

	unlock, err := s.locker.Lock(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if r.Status.HoldsCapacity() {
			remaining, err := s.ledger.WithTx(tx).Reserve(ctx, event.ID, r.NumberOfPersons)
			if err != nil {
				return capacityErr(event.ID, r.NumberOfPersons, err)
			}
			r.CapacityHeld = true
			out.delta = -r.NumberOfPersons
			out.remaining = remaining
		}
		return s.store.WithTx(tx).CreateReservation(ctx, r)
	})
	unlock()
	if err != nil {
		return nil, err
	}

	if r.PromoCode != "" {
		if err := s.pricer.RedeemPromo(ctx, r.PromoCode); err != nil {
			s.logger.Warn("RESERVATION", fmt.Sprintf("Promo %s on %s not counted: %v", r.PromoCode, r.ID, err))
		}
	}
	out.message = fmt.Sprintf("%s for %d persons on event %s, total %s", r.Status, r.NumberOfPersons, r.EventID, r.TotalPrice.StringFixed(2))
	s.afterCommit(ctx, r, out)
	return r, nil
}

// ComputePrice quotes a booking without storing anything.
func (s *Service) ComputePrice(ctx context.Context, eventID string, req pricing.Request) (*models.PricingSnapshot, error) {
	if req.NumberOfPersons <= 0 {
		return nil, fmt.Errorf("number of persons must be positive: %w", domain.ErrValidation)
	}
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return s.pricer.Quote(ctx, event, req)
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
