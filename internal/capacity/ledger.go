package capacity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"

	"github.com/uptrace/bun"
)

// Ledger is the per-event remaining-capacity counter. Every mutation is a single
// conditional statement so it can never drive remaining below zero or above capacity.
type Ledger struct {
	db  bun.IDB
	now func() time.Time
}

func NewLedger(db bun.IDB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// WithTx binds the ledger to a transaction so capacity moves commit together with
// the reservation row that caused them.
func (l *Ledger) WithTx(tx bun.Tx) *Ledger {
	return &Ledger{db: tx, now: l.now}
}

// Open creates (or resizes) the ledger row for an event and reconciles it.
func (l *Ledger) Open(ctx context.Context, eventID string, capacity int) (int, error) {
	if capacity < 0 {
		return 0, fmt.Errorf("event %s capacity %d: %w", eventID, capacity, domain.ErrValidation)
	}
	row := &models.CapacityLedger{
		EventID:   eventID,
		Capacity:  capacity,
		Remaining: capacity,
		UpdatedAt: l.now(),
	}
	_, err := l.db.NewInsert().
		Model(row).
		On("CONFLICT (event_id) DO UPDATE").
		Set("capacity = EXCLUDED.capacity").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("open ledger for event %s: %w", eventID, err)
	}
	return l.Reconcile(ctx, eventID)
}

// Reserve subtracts persons from remaining only if enough is left.
func (l *Ledger) Reserve(ctx context.Context, eventID string, persons int) (int, error) {
	if persons <= 0 {
		return 0, fmt.Errorf("reserve %d persons: %w", persons, domain.ErrValidation)
	}
	res, err := l.db.NewUpdate().
		Model((*models.CapacityLedger)(nil)).
		Set("remaining = remaining - ?", persons).
		Set("version = version + 1").
		Set("updated_at = ?", l.now()).
		Where("event_id = ?", eventID).
		Where("remaining >= ?", persons).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("reserve capacity for event %s: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		remaining, err := l.Remaining(ctx, eventID)
		if err != nil {
			return 0, err
		}
		return remaining, &InsufficientError{EventID: eventID, Requested: persons, Remaining: remaining}
	}
	return l.Remaining(ctx, eventID)
}

// Release returns persons to the pool, capped at capacity. Callers guarantee a
// reservation is released at most once.
func (l *Ledger) Release(ctx context.Context, eventID string, persons int) (int, error) {
	if persons <= 0 {
		return 0, fmt.Errorf("release %d persons: %w", persons, domain.ErrValidation)
	}
	res, err := l.db.NewUpdate().
		Model((*models.CapacityLedger)(nil)).
		Set("remaining = CASE WHEN remaining + ? > capacity THEN capacity ELSE remaining + ? END", persons, persons).
		Set("version = version + 1").
		Set("updated_at = ?", l.now()).
		Where("event_id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("release capacity for event %s: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("ledger for event %s: %w", eventID, domain.ErrNotFound)
	}
	return l.Remaining(ctx, eventID)
}

func (l *Ledger) Remaining(ctx context.Context, eventID string) (int, error) {
	row, err := l.Get(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return row.Remaining, nil
}

func (l *Ledger) Get(ctx context.Context, eventID string) (*models.CapacityLedger, error) {
	var row models.CapacityLedger
	err := l.db.NewSelect().
		Model(&row).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger for event %s: %w", eventID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger for event %s: %w", eventID, err)
	}
	return &row, nil
}

// Reconcile recomputes remaining from the reservations that currently hold capacity.
func (l *Ledger) Reconcile(ctx context.Context, eventID string) (int, error) {
	var held int
	err := l.db.NewSelect().
		Model((*models.Reservation)(nil)).
		ColumnExpr("COALESCE(SUM(number_of_persons), 0)").
		Where("event_id = ?", eventID).
		Where("capacity_held = ?", true).
		Scan(ctx, &held)
	if err != nil {
		return 0, fmt.Errorf("sum held persons for event %s: %w", eventID, err)
	}

	res, err := l.db.NewUpdate().
		Model((*models.CapacityLedger)(nil)).
		Set("remaining = CASE WHEN capacity - ? < 0 THEN 0 ELSE capacity - ? END", held, held).
		Set("version = version + 1").
		Set("updated_at = ?", l.now()).
		Where("event_id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile event %s: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("ledger for event %s: %w", eventID, domain.ErrNotFound)
	}
	return l.Remaining(ctx, eventID)
}

// ReconcileAll rebuilds every ledger row. Run at startup before serving traffic.
func (l *Ledger) ReconcileAll(ctx context.Context) (map[string]int, error) {
	var eventIDs []string
	err := l.db.NewSelect().
		Model((*models.CapacityLedger)(nil)).
		Column("event_id").
		Order("event_id ASC").
		Scan(ctx, &eventIDs)
	if err != nil {
		return nil, fmt.Errorf("list ledger rows: %w", err)
	}

	out := make(map[string]int, len(eventIDs))
	for _, id := range eventIDs {
		remaining, err := l.Reconcile(ctx, id)
		if err != nil {
			return out, err
		}
		out[id] = remaining
	}
	return out, nil
}

// InsufficientError reports how much capacity was left when a reserve failed.
type InsufficientError struct {
	EventID   string
	Requested int
	Remaining int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("event %s: requested %d, remaining %d: %s", e.EventID, e.Requested, e.Remaining, domain.ErrInsufficientCapacity)
}

func (e *InsufficientError) Unwrap() error {
	return domain.ErrInsufficientCapacity
}
