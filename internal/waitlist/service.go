package waitlist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/logger"
	"ms-reservations/internal/models"
	"ms-reservations/internal/notify"
	"ms-reservations/internal/pricing"
	"ms-reservations/internal/reservation"
	wdb "ms-reservations/internal/waitlist/db"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Service runs the per-event waitlist. Offers are soft: a notified entry gets a token
// and a deadline but no capacity is held for it, so conversion books like anyone else.
type Service struct {
	store        *wdb.DB
	reservations *reservation.Service
	notifier     notify.Notifier
	logger       *logger.Logger
	offerTTL     time.Duration
	now          func() time.Time
}

func NewService(db *bun.DB, reservations *reservation.Service, notifier notify.Notifier, log *logger.Logger, offerTTL time.Duration) *Service {
	if offerTTL <= 0 {
		offerTTL = 24 * time.Hour
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		store:        wdb.New(db),
		reservations: reservations,
		notifier:     notifier,
		logger:       log,
		offerTTL:     offerTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Store() *wdb.DB {
	return s.store
}

// Join queues a party for a sold-out event and immediately offers it a place if one is free.
func (s *Service) Join(ctx context.Context, req models.WaitlistJoinRequest) (*models.WaitlistEntry, error) {
	if req.NumberOfPersons <= 0 {
		return nil, fmt.Errorf("number of persons must be positive: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(req.Contact.Name) == "" {
		return nil, fmt.Errorf("contact name is required: %w", domain.ErrValidation)
	}
	ev, err := s.reservations.Event(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if req.NumberOfPersons > ev.Capacity {
		return nil, fmt.Errorf("%d persons exceed the capacity of event %s: %w", req.NumberOfPersons, ev.ID, domain.ErrValidation)
	}

	now := s.now()
	e := &models.WaitlistEntry{
		ID:              uuid.NewString(),
		EventID:         ev.ID,
		Contact:         req.Contact,
		NumberOfPersons: req.NumberOfPersons,
		Status:          models.WaitlistPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return nil, err
	}
	s.logger.LogWaitlist("JOIN", ev.ID, fmt.Sprintf("Entry %s for %d persons", e.ID, e.NumberOfPersons))
	s.send(ctx, notify.KindWaitlistJoined, e, nil)

	if _, err := s.Promote(ctx, ev.ID); err != nil {
		s.logger.Error("WAITLIST", fmt.Sprintf("Promotion after join on %s failed: %v", ev.ID, err))
	}
	if fresh, err := s.store.Get(ctx, e.ID); err == nil {
		e = fresh
	}
	return e, nil
}

// Promote sends offers to pending entries in queue order while the free capacity not
// already promised to open offers covers them. Entries that do not fit keep their place.
func (s *Service) Promote(ctx context.Context, eventID string) (int, error) {
	unlock, err := s.reservations.Locker().Lock(ctx, eventID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	now := s.now()
	remaining, err := s.reservations.Ledger().Remaining(ctx, eventID)
	if err != nil {
		return 0, err
	}
	promised, err := s.store.OutstandingPersons(ctx, eventID, now)
	if err != nil {
		return 0, err
	}
	budget := remaining - promised
	if budget <= 0 {
		return 0, nil
	}

	pending, err := s.store.ListByEvent(ctx, eventID, models.WaitlistPending)
	if err != nil {
		return 0, err
	}
	offered := 0
	for i := range pending {
		e := &pending[i]
		if e.NumberOfPersons > budget {
			continue
		}
		e.Status = models.WaitlistNotified
		e.OfferToken = uuid.NewString()
		e.OfferExpiresAt = now.Add(s.offerTTL)
		e.NotifiedAt = now
		e.UpdatedAt = now
		ok, err := s.store.Claim(ctx, e, models.WaitlistPending, "", "offer_token", "offer_expires_at", "notified_at")
		if err != nil {
			return offered, err
		}
		if !ok {
			continue
		}
		budget -= e.NumberOfPersons
		offered++
		s.logger.LogWaitlist("OFFER", eventID, fmt.Sprintf("Entry %s offered %d places until %s", e.ID, e.NumberOfPersons, e.OfferExpiresAt.Format(time.RFC3339)))
		s.send(ctx, notify.KindWaitlistOffer, e, map[string]string{
			"offer_token":      e.OfferToken,
			"offer_expires_at": e.OfferExpiresAt.Format(time.RFC3339),
		})
		if budget <= 0 {
			break
		}
	}
	return offered, nil
}

// ConvertInput is what the customer chooses when taking up an offer. The party size and
// contact come from the waitlist entry.
type ConvertInput struct {
	Token       string                       `json:"token"`
	EventID     string                       `json:"event_id,omitempty"`
	Arrangement string                       `json:"arrangement"`
	AddOns      []pricing.AddOnRequest       `json:"add_ons,omitempty"`
	Merchandise []pricing.MerchandiseRequest `json:"merchandise,omitempty"`
	PromoCode   string                       `json:"promo_code,omitempty"`
	Note        string                       `json:"note,omitempty"`
}

// Convert redeems an offer token into a regular booking. The token is single use; if the
// booking fails the offer stays open until it expires.
func (s *Service) Convert(ctx context.Context, in ConvertInput) (*models.Reservation, error) {
	if strings.TrimSpace(in.Token) == "" {
		return nil, fmt.Errorf("offer token is required: %w", domain.ErrValidation)
	}
	e, err := s.store.GetByToken(ctx, in.Token)
	if err != nil {
		return nil, err
	}
	if in.EventID != "" && in.EventID != e.EventID {
		return nil, fmt.Errorf("offer belongs to another event: %w", domain.ErrValidation)
	}
	now := s.now()
	switch {
	case e.Status == models.WaitlistConverted:
		return nil, fmt.Errorf("offer for entry %s: %w", e.ID, domain.ErrOfferUsed)
	case e.Status != models.WaitlistNotified, !e.OfferExpiresAt.After(now):
		return nil, fmt.Errorf("offer for entry %s: %w", e.ID, domain.ErrOfferExpired)
	}

	e.Status = models.WaitlistConverted
	e.UpdatedAt = now
	ok, err := s.store.Claim(ctx, e, models.WaitlistNotified, in.Token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("offer for entry %s: %w", e.ID, domain.ErrOfferUsed)
	}

	r, err := s.reservations.CreateReservation(ctx, reservation.CreateInput{
		EventID: e.EventID,
		Mode:    reservation.ModeBooking,
		Contact: e.Contact,
		Request: pricing.Request{
			Arrangement:     in.Arrangement,
			NumberOfPersons: e.NumberOfPersons,
			AddOns:          in.AddOns,
			Merchandise:     in.Merchandise,
			PromoCode:       in.PromoCode,
		},
		Note:  in.Note,
		Actor: "waitlist",
	})
	if err != nil {
		e.Status = models.WaitlistNotified
		e.UpdatedAt = s.now()
		if _, rerr := s.store.Claim(ctx, e, models.WaitlistConverted, in.Token); rerr != nil {
			s.logger.Error("WAITLIST", fmt.Sprintf("Reopen offer %s: %v", e.ID, rerr))
		}
		return nil, err
	}

	e.ConvertedReservationID = r.ID
	if _, err := s.store.Bun.NewUpdate().
		Model(e).
		Column("converted_reservation_id").
		Where("id = ?", e.ID).
		Exec(ctx); err != nil {
		s.logger.Error("WAITLIST", fmt.Sprintf("Link entry %s to reservation %s: %v", e.ID, r.ID, err))
	}
	s.logger.LogWaitlist("CONVERT", e.EventID, fmt.Sprintf("Entry %s became reservation %s", e.ID, r.ID))
	return r, nil
}

// ExpireOffers closes offers whose deadline has passed and returns the events whose
// queue should be promoted again.
func (s *Service) ExpireOffers(ctx context.Context, now time.Time) (int, []string, error) {
	due, err := s.store.DueOffers(ctx, now, 0)
	if err != nil {
		return 0, nil, err
	}
	expired := 0
	seen := map[string]bool{}
	var events []string
	for i := range due {
		e := &due[i]
		e.Status = models.WaitlistExpired
		e.UpdatedAt = now
		ok, err := s.store.Claim(ctx, e, models.WaitlistNotified, e.OfferToken)
		if err != nil {
			return expired, events, err
		}
		if !ok {
			continue
		}
		expired++
		if !seen[e.EventID] {
			seen[e.EventID] = true
			events = append(events, e.EventID)
		}
	}
	if expired > 0 {
		s.logger.Info("WAITLIST", fmt.Sprintf("Expired %d offers across %d events", expired, len(events)))
	}
	return expired, events, nil
}

// Cancel takes an entry off the queue. Cancelling an open offer frees its share of the
// budget for the next in line.
func (s *Service) Cancel(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := e.Status
	if from == models.WaitlistCancelled {
		return e, nil
	}
	if from != models.WaitlistPending && from != models.WaitlistNotified {
		return nil, fmt.Errorf("waitlist entry %s is %s: %w", id, from, domain.ErrInvalidTransition)
	}
	e.Status = models.WaitlistCancelled
	e.UpdatedAt = s.now()
	ok, err := s.store.Claim(ctx, e, from, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("waitlist entry %s changed concurrently: %w", id, domain.ErrCapacityConflict)
	}
	s.logger.LogWaitlist("CANCEL", e.EventID, fmt.Sprintf("Entry %s left the queue", id))
	if from == models.WaitlistNotified {
		if _, err := s.Promote(ctx, e.EventID); err != nil {
			s.logger.Error("WAITLIST", fmt.Sprintf("Promotion after cancel on %s failed: %v", e.EventID, err))
		}
	}
	return e, nil
}

func (s *Service) ListByEvent(ctx context.Context, eventID string, statuses ...models.WaitlistStatus) ([]models.WaitlistEntry, error) {
	return s.store.ListByEvent(ctx, eventID, statuses...)
}

func (s *Service) send(ctx context.Context, kind notify.Kind, e *models.WaitlistEntry, extra map[string]string) {
	data := map[string]string{"persons": fmt.Sprintf("%d", e.NumberOfPersons)}
	for k, v := range extra {
		data[k] = v
	}
	err := s.notifier.Send(context.WithoutCancel(ctx), notify.Notification{
		Kind:            kind,
		EventID:         e.EventID,
		WaitlistEntryID: e.ID,
		Contact:         e.Contact,
		Data:            data,
	})
	if err != nil {
		s.logger.Warn("NOTIFY", fmt.Sprintf("%s for waitlist entry %s not queued: %v", kind, e.ID, err))
	}
}
