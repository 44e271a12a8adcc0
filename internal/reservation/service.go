package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-reservations/internal/capacity"
	"ms-reservations/internal/domain"
	"ms-reservations/internal/logger"
	"ms-reservations/internal/models"
	"ms-reservations/internal/notify"
	"ms-reservations/internal/pricing"
	resdb "ms-reservations/internal/reservation/db"

	"github.com/uptrace/bun"
)

type Pricer interface {
	Quote(ctx context.Context, event *models.Event, req pricing.Request) (*models.PricingSnapshot, error)
	RedeemPromo(ctx context.Context, code string) error
}

// Promoter offers freed capacity to the waitlist of an event.
type Promoter interface {
	Promote(ctx context.Context, eventID string) (int, error)
}

type ChangeKind string

const (
	ChangeCreated      ChangeKind = "created"
	ChangeTransitioned ChangeKind = "transitioned"
	ChangeUpdated      ChangeKind = "updated"
	ChangeDeleted      ChangeKind = "deleted"
)

// Change describes one committed mutation. CapacityDelta is negative when persons
// were taken from the pool and positive when they were returned.
type Change struct {
	Kind          ChangeKind
	Reservation   *models.Reservation
	From          models.ReservationStatus
	CapacityDelta int
	Remaining     int
	At            time.Time
}

// Listener observes committed changes. It runs after the transaction and must not fail it.
type Listener interface {
	ReservationChanged(ctx context.Context, c Change)
}

type Config struct {
	OptionTTL  time.Duration
	MaxRetries int
	SweepBatch int
}

type Service struct {
	db        *bun.DB
	store     *resdb.DB
	ledger    *capacity.Ledger
	locker    capacity.Locker
	pricer    Pricer
	notifier  notify.Notifier
	promoter  Promoter
	listeners []Listener
	logger    *logger.Logger
	cfg       Config
	now       func() time.Time
}

func NewService(db *bun.DB, locker capacity.Locker, pricer Pricer, notifier notify.Notifier, log *logger.Logger, cfg Config) *Service {
	if cfg.OptionTTL <= 0 {
		cfg.OptionTTL = 7 * 24 * time.Hour
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 200
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		db:       db,
		store:    resdb.New(db),
		ledger:   capacity.NewLedger(db),
		locker:   locker,
		pricer:   pricer,
		notifier: notifier,
		logger:   log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetPromoter wires the waitlist. It is set after construction because the waitlist
// books through this service.
func (s *Service) SetPromoter(p Promoter) {
	s.promoter = p
}

func (s *Service) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Store() *resdb.DB {
	return s.store
}

func (s *Service) Ledger() *capacity.Ledger {
	return s.ledger
}

func (s *Service) Locker() capacity.Locker {
	return s.locker
}

// outcome is what a mutation did, consumed by the post-commit steps.
type outcome struct {
	changed   bool
	deleted   bool
	kind      ChangeKind
	from      models.ReservationStatus
	delta     int
	remaining int
	notify    notify.Kind
	promote   bool
	action    string
	message   string
}

type txScope struct {
	store  *resdb.DB
	ledger *capacity.Ledger
}

type mutation func(ctx context.Context, tx *txScope, r *models.Reservation, now time.Time) (*outcome, error)

// mutate runs fn on a fresh copy of the reservation under the event lock, inside one
// transaction with a version-checked write. Lost races are retried a bounded number of times.
func (s *Service) mutate(ctx context.Context, id string, fn mutation) (*models.Reservation, *outcome, error) {
	current, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := s.locker.Lock(ctx, current.EventID)
	if err != nil {
		return nil, nil, err
	}

	var (
		result *models.Reservation
		out    *outcome
	)
	for attempt := 0; ; attempt++ {
		result, out, err = s.mutateOnce(ctx, id, fn)
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= s.cfg.MaxRetries {
			break
		}
		s.logger.Warn("RESERVATION", fmt.Sprintf("Version conflict on %s, retry %d", id, attempt+1))
	}
	unlock()

	if errors.Is(err, domain.ErrVersionConflict) {
		return nil, nil, fmt.Errorf("reservation %s: %w", id, domain.ErrCapacityConflict)
	}
	if err != nil {
		return nil, nil, err
	}
	if out.changed {
		s.afterCommit(ctx, result, out)
	}
	return result, out, nil
}

func (s *Service) mutateOnce(ctx context.Context, id string, fn mutation) (*models.Reservation, *outcome, error) {
	var (
		result *models.Reservation
		out    *outcome
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		scope := &txScope{store: s.store.WithTx(tx), ledger: s.ledger.WithTx(tx)}
		r, err := scope.store.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		expected := r.Version
		next := r.Clone()
		now := s.now()

		o, err := fn(ctx, scope, next, now)
		if err != nil {
			return err
		}
		out = o

		switch {
		case !o.changed:
			result = r
		case o.deleted:
			if err := scope.store.DeleteReservation(ctx, id, expected); err != nil {
				return err
			}
			result = next
		default:
			next.UpdatedAt = now
			if err := scope.store.PatchReservation(ctx, next, expected); err != nil {
				return err
			}
			result = next
		}
		return nil
	})
	return result, out, err
}

// afterCommit never fails the operation: capacity and status are already durable.
func (s *Service) afterCommit(ctx context.Context, r *models.Reservation, out *outcome) {
	ctx = context.WithoutCancel(ctx)

	msg := out.message
	if msg == "" {
		msg = fmt.Sprintf("status=%s persons=%d event=%s", r.Status, r.NumberOfPersons, r.EventID)
	}
	s.logger.LogReservation(out.action, r.ID, msg)
	if out.delta != 0 {
		s.logger.LogCapacity(r.EventID, out.delta, out.remaining)
	}

	change := Change{
		Kind:          out.kind,
		Reservation:   r,
		From:          out.from,
		CapacityDelta: out.delta,
		Remaining:     out.remaining,
		At:            s.now(),
	}
	for _, l := range s.listeners {
		l.ReservationChanged(ctx, change)
	}

	if out.notify != "" {
		s.sendNotification(ctx, out.notify, r)
	}

	if out.promote && s.promoter != nil {
		if n, err := s.promoter.Promote(ctx, r.EventID); err != nil {
			s.logger.Error("WAITLIST", fmt.Sprintf("Promotion for event %s failed: %v", r.EventID, err))
		} else if n > 0 {
			s.logger.LogWaitlist("PROMOTE", r.EventID, fmt.Sprintf("%d offers sent after %s", n, out.action))
		}
	}
}

func (s *Service) sendNotification(ctx context.Context, kind notify.Kind, r *models.Reservation) {
	n := notify.Notification{
		Kind:          kind,
		EventID:       r.EventID,
		ReservationID: r.ID,
		Contact:       r.Contact,
		Data: map[string]string{
			"status":      string(r.Status),
			"persons":     fmt.Sprintf("%d", r.NumberOfPersons),
			"arrangement": r.Arrangement,
			"total":       r.TotalPrice.StringFixed(2),
		},
	}
	if !r.OptionExpiresAt.IsZero() {
		n.Data["option_expires_at"] = r.OptionExpiresAt.Format(time.RFC3339)
	}
	if r.CancelReason != "" {
		n.Data["reason"] = r.CancelReason
	}
	if err := s.notifier.Send(ctx, n); err != nil {
		s.logger.Warn("NOTIFY", fmt.Sprintf("%s for reservation %s not queued: %v", kind, r.ID, err))
	}
}

// capacityErr turns a ledger refusal into the caller-facing CapacityError.
func capacityErr(eventID string, persons int, err error) error {
	var insufficient *capacity.InsufficientError
	if errors.As(err, &insufficient) {
		return &CapacityError{
			EventID:           eventID,
			Requested:         persons,
			Remaining:         insufficient.Remaining,
			WaitlistAvailable: true,
		}
	}
	return err
}
