package reservation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"
)

type TransitionOptions struct {
	Reason string
	Actor  string
}

// applyTransition validates the edge and applies its side effects to r inside the
// caller's transaction. Moving to the current status is a successful no-op.
func applyTransition(ctx context.Context, tx *txScope, r *models.Reservation, to models.ReservationStatus, opts TransitionOptions, now time.Time) (*outcome, error) {
	if r.Status == to {
		return &outcome{}, nil
	}
	e, err := lookupEdge(r.Status, to)
	if err != nil {
		return nil, fmt.Errorf("reservation %s: %w", r.ID, err)
	}
	opts.Reason = strings.TrimSpace(opts.Reason)
	if e.reason && opts.Reason == "" {
		return nil, fmt.Errorf("reservation %s: %s requires a reason: %w", r.ID, to, domain.ErrValidation)
	}

	out := &outcome{
		changed: true,
		kind:    ChangeTransitioned,
		from:    r.Status,
		notify:  e.notify,
		action:  strings.ToUpper(string(to)),
	}

	switch e.capacity {
	case reserveCapacity:
		remaining, err := tx.ledger.Reserve(ctx, r.EventID, r.NumberOfPersons)
		if err != nil {
			return nil, capacityErr(r.EventID, r.NumberOfPersons, err)
		}
		r.CapacityHeld = true
		out.delta = -r.NumberOfPersons
		out.remaining = remaining
	case releaseCapacity:
		if err := releaseHold(ctx, tx, r, out); err != nil {
			return nil, err
		}
	}

	if r.Status == models.ReservationOption {
		r.OptionPlacedAt = time.Time{}
		r.OptionExpiresAt = time.Time{}
	}
	switch to {
	case models.ReservationConfirmed:
		r.ConfirmedAt = now
	case models.ReservationCancelled, models.ReservationRejected:
		if opts.Reason != "" {
			r.CancelReason = opts.Reason
		}
	case models.ReservationCheckedIn:
		r.CheckedInAt = now
	}

	msg := fmt.Sprintf("Status changed from %s to %s", out.from, to)
	if opts.Reason != "" {
		msg += ": " + opts.Reason
	}
	r.AppendLog(now, models.LogStatusChange, opts.Actor, msg)
	r.Status = to
	out.message = msg
	return out, nil
}

// releaseHold gives the persons back exactly once; capacity_held is the guard.
func releaseHold(ctx context.Context, tx *txScope, r *models.Reservation, out *outcome) error {
	if !r.CapacityHeld {
		return nil
	}
	remaining, err := tx.ledger.Release(ctx, r.EventID, r.NumberOfPersons)
	if err != nil {
		return err
	}
	r.CapacityHeld = false
	out.delta = r.NumberOfPersons
	out.remaining = remaining
	out.promote = true
	return nil
}

// TransitionTo moves a reservation to any status the lifecycle allows. changed is
// false when it was already there.
func (s *Service) TransitionTo(ctx context.Context, id string, to models.ReservationStatus, opts TransitionOptions) (*models.Reservation, bool, error) {
	r, out, err := s.mutate(ctx, id, func(ctx context.Context, tx *txScope, r *models.Reservation, now time.Time) (*outcome, error) {
		return applyTransition(ctx, tx, r, to, opts, now)
	})
	if err != nil {
		return nil, false, err
	}
	return r, out.changed, nil
}

func (s *Service) Confirm(ctx context.Context, id, actor string) (*models.Reservation, error) {
	r, _, err := s.TransitionTo(ctx, id, models.ReservationConfirmed, TransitionOptions{Actor: actor})
	return r, err
}

func (s *Service) Reject(ctx context.Context, id, reason, actor string) (*models.Reservation, error) {
	r, _, err := s.TransitionTo(ctx, id, models.ReservationRejected, TransitionOptions{Reason: reason, Actor: actor})
	return r, err
}

func (s *Service) Cancel(ctx context.Context, id, reason, actor string) (*models.Reservation, error) {
	r, _, err := s.TransitionTo(ctx, id, models.ReservationCancelled, TransitionOptions{Reason: reason, Actor: actor})
	return r, err
}

// ConvertOption turns an option into a confirmed booking.
func (s *Service) ConvertOption(ctx context.Context, id, actor string) (*models.Reservation, error) {
	r, _, err := s.mutate(ctx, id, func(ctx context.Context, tx *txScope, r *models.Reservation, now time.Time) (*outcome, error) {
		if r.Status != models.ReservationOption && r.Status != models.ReservationConfirmed {
			return nil, fmt.Errorf("reservation %s is %s, not an option: %w", r.ID, r.Status, domain.ErrInvalidTransition)
		}
		out, err := applyTransition(ctx, tx, r, models.ReservationConfirmed, TransitionOptions{Actor: actor, Reason: "option converted"}, now)
		if err == nil && out.changed {
			out.action = "CONVERT"
		}
		return out, err
	})
	return r, err
}

// Expire ends an option regardless of its expiry time.
func (s *Service) Expire(ctx context.Context, id string) (*models.Reservation, bool, error) {
	return s.TransitionTo(ctx, id, models.ReservationExpired, TransitionOptions{Reason: "option expired"})
}

// ExpireIfDue expires the option only if it is still an option whose expiry has passed
// at now. A row already handled by another sweep, converted, or extended is left alone.
func (s *Service) ExpireIfDue(ctx context.Context, id string, now time.Time) (bool, error) {
	_, out, err := s.mutate(ctx, id, func(ctx context.Context, tx *txScope, r *models.Reservation, at time.Time) (*outcome, error) {
		if r.Status != models.ReservationOption || r.OptionExpiresAt.IsZero() || r.OptionExpiresAt.After(now) {
			return &outcome{}, nil
		}
		return applyTransition(ctx, tx, r, models.ReservationExpired, TransitionOptions{Reason: "option expired"}, at)
	})
	if err != nil {
		return false, err
	}
	return out.changed, nil
}

func (s *Service) CheckIn(ctx context.Context, id, actor string) (*models.Reservation, error) {
	r, _, err := s.TransitionTo(ctx, id, models.ReservationCheckedIn, TransitionOptions{Actor: actor})
	return r, err
}

// Archive hides a finished reservation. Only terminal reservations whose capacity is
// already released qualify.
func (s *Service) Archive(ctx context.Context, id, actor string) (*models.Reservation, error) {
	r, _, err := s.mutate(ctx, id, func(ctx context.Context, tx *txScope, r *models.Reservation, now time.Time) (*outcome, error) {
		if r.Archived {
			return &outcome{}, nil
		}
		if !r.Status.IsTerminal() || r.CapacityHeld {
			return nil, fmt.Errorf("reservation %s is %s and cannot be archived: %w", r.ID, r.Status, domain.ErrInvalidTransition)
		}
		r.Archived = true
		r.ArchivedAt = now
		r.ArchivedBy = actor
		r.AppendLog(now, models.LogStatusChange, actor, "Archived")
		return &outcome{changed: true, kind: ChangeUpdated, from: r.Status, action: "ARCHIVE"}, nil
	})
	return r, err
}

// Delete removes the reservation for good, returning its capacity if it still held any.
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	_, _, err := s.mutate(ctx, id, func(ctx context.Context, tx *txScope, r *models.Reservation, now time.Time) (*outcome, error) {
		out := &outcome{
			changed: true,
			deleted: true,
			kind:    ChangeDeleted,
			from:    r.Status,
			action:  "DELETE",
			message: fmt.Sprintf("deleted by %s (status %s, %d persons)", actorOrSystem(actor), r.Status, r.NumberOfPersons),
		}
		if err := releaseHold(ctx, tx, r, out); err != nil {
			return nil, err
		}
		return out, nil
	})
	return err
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}
