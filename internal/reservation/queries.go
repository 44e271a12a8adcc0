package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"
	resdb "ms-reservations/internal/reservation/db"
)

func (s *Service) Get(ctx context.Context, id string) (*models.Reservation, error) {
	return s.store.GetReservation(ctx, id)
}

func (s *Service) Event(ctx context.Context, id string) (*models.Event, error) {
	return s.store.GetEvent(ctx, id)
}

func (s *Service) ListByEvent(ctx context.Context, eventID string, f resdb.Filter) ([]models.Reservation, error) {
	return s.store.QueryByEvent(ctx, eventID, f)
}

// Remaining is a point-in-time read of an event's free capacity.
func (s *Service) Remaining(ctx context.Context, eventID string) (*models.CapacityView, error) {
	row, err := s.ledger.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &models.CapacityView{EventID: row.EventID, Capacity: row.Capacity, Remaining: row.Remaining}, nil
}

// OpenEvent stores a new event and its capacity ledger row.
func (s *Service) OpenEvent(ctx context.Context, ev *models.Event) error {
	if ev.ID == "" || ev.Capacity <= 0 {
		return validationf("event needs an id and a positive capacity")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	unlock, err := s.locker.Lock(ctx, ev.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return fmt.Errorf("create event %s: %w", ev.ID, err)
	}
	remaining, err := s.ledger.Open(ctx, ev.ID, ev.Capacity)
	if err != nil {
		return err
	}
	s.logger.LogCapacity(ev.ID, 0, remaining)
	return nil
}

// Reconcile rebuilds one event's remaining capacity from the reservations holding it.
func (s *Service) Reconcile(ctx context.Context, eventID string) (int, error) {
	unlock, err := s.locker.Lock(ctx, eventID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	remaining, err := s.ledger.Reconcile(ctx, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		ev, evErr := s.store.GetEvent(ctx, eventID)
		if evErr != nil {
			return 0, evErr
		}
		remaining, err = s.ledger.Open(ctx, ev.ID, ev.Capacity)
	}
	if err != nil {
		return 0, err
	}
	s.logger.Info("CAPACITY", fmt.Sprintf("Reconciled event %s: remaining=%d", eventID, remaining))
	return remaining, nil
}

// ReconcileAll runs Reconcile for every event. Called at startup.
func (s *Service) ReconcileAll(ctx context.Context) (map[string]int, error) {
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make(map[string]int, len(events))
	for _, ev := range events {
		remaining, err := s.Reconcile(ctx, ev.ID)
		if err != nil {
			return out, err
		}
		out[ev.ID] = remaining
	}
	return out, nil
}

type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type SweepResult struct {
	Processed int       `json:"processed"`
	Expired   int       `json:"expired"`
	IDs       []string  `json:"ids,omitempty"`
	Failures  []Failure `json:"failures,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Took      string    `json:"took"`
}

// ExpireDueOptions expires every option whose expiry is at or before now, up to limit.
// Each row is claimed through its version, so concurrent sweeps expire it once.
func (s *Service) ExpireDueOptions(ctx context.Context, now time.Time, limit int) (*SweepResult, error) {
	start := time.Now()
	ids, err := s.store.ListExpiredOptions(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{StartedAt: now}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++
		expired, err := s.ExpireIfDue(ctx, id, now)
		if err != nil {
			res.Failures = append(res.Failures, Failure{ID: id, Reason: err.Error()})
			s.logger.Error("SWEEP", fmt.Sprintf("Expire %s: %v", id, err))
			continue
		}
		if expired {
			res.Expired++
			res.IDs = append(res.IDs, id)
		}
	}
	res.Took = time.Since(start).String()
	return res, nil
}

// ExpireOptionsNow is the manual sweep trigger.
func (s *Service) ExpireOptionsNow(ctx context.Context) (*SweepResult, error) {
	return s.ExpireDueOptions(ctx, s.now(), s.cfg.SweepBatch)
}
