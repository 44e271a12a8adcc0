package db

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

// DB is the reservation repository. Bun is either the pool or a transaction.
type DB struct {
	Bun bun.IDB
}

func New(b bun.IDB) *DB {
	return &DB{Bun: b}
}

// WithTx returns a repository bound to tx.
func (d *DB) WithTx(tx bun.Tx) *DB {
	return &DB{Bun: tx}
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", kind, id, err)
}

// ---------------- EVENTS ----------------

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var ev models.Event
	err := d.Bun.NewSelect().
		Model(&ev).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound("event", id, err)
	}
	return &ev, nil
}

func (d *DB) CreateEvent(ctx context.Context, ev *models.Event) error {
	_, err := d.Bun.NewInsert().Model(ev).Exec(ctx)
	return err
}

func (d *DB) ListEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Order("date ASC").
		Scan(ctx)
	return events, err
}

// ---------------- RESERVATIONS ----------------

func (d *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	err := d.Bun.NewSelect().
		Model(&r).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound("reservation", id, err)
	}
	return &r, nil
}

func (d *DB) CreateReservation(ctx context.Context, r *models.Reservation) error {
	_, err := d.Bun.NewInsert().Model(r).Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert reservation %s: %w", r.ID, err)
	}
	return nil
}

// PatchReservation writes r only if the stored version still equals expectedVersion,
// then bumps the version. A lost race yields ErrVersionConflict.
func (d *DB) PatchReservation(ctx context.Context, r *models.Reservation, expectedVersion int64) error {
	r.Version = expectedVersion + 1
	res, err := d.Bun.NewUpdate().
		Model(r).
		ExcludeColumn("id", "event_id", "created_at").
		Where("id = ?", r.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		r.Version = expectedVersion
		return fmt.Errorf("patch reservation %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		r.Version = expectedVersion
		return d.missingOrConflict(ctx, r.ID)
	}
	return nil
}

// DeleteReservation hard-deletes the row under the same version guard as PatchReservation.
func (d *DB) DeleteReservation(ctx context.Context, id string, expectedVersion int64) error {
	res, err := d.Bun.NewDelete().
		Model((*models.Reservation)(nil)).
		Where("id = ?", id).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete reservation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return d.missingOrConflict(ctx, id)
	}
	return nil
}

func (d *DB) missingOrConflict(ctx context.Context, id string) error {
	exists, err := d.Bun.NewSelect().
		Model((*models.Reservation)(nil)).
		Where("id = ?", id).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("check reservation %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("reservation %s: %w", id, domain.ErrVersionConflict)
}

type Filter struct {
	Statuses        []models.ReservationStatus
	IncludeArchived bool
}

// QueryByEvent lists an event's reservations, oldest first.
func (d *DB) QueryByEvent(ctx context.Context, eventID string, f Filter) ([]models.Reservation, error) {
	var out []models.Reservation
	q := d.Bun.NewSelect().
		Model(&out).
		Where("event_id = ?", eventID).
		Order("created_at ASC")
	if len(f.Statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(f.Statuses))
	}
	if !f.IncludeArchived {
		q = q.Where("archived = ?", false)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("query reservations for event %s: %w", eventID, err)
	}
	return out, nil
}

// ListExpiredOptions returns the ids of options whose expiry has passed, soonest first.
func (d *DB) ListExpiredOptions(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	q := d.Bun.NewSelect().
		Model((*models.Reservation)(nil)).
		Column("id").
		Where("status = ?", models.ReservationOption).
		Where("option_expires_at IS NOT NULL").
		Where("option_expires_at <= ?", now).
		Order("option_expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx, &ids); err != nil {
		return nil, fmt.Errorf("list expired options: %w", err)
	}
	return ids, nil
}

// EventIDsOf maps reservation ids to their event. Unknown ids are absent from the result.
func (d *DB) EventIDsOf(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	var rows []struct {
		ID      string `bun:"id"`
		EventID string `bun:"event_id"`
	}
	err := d.Bun.NewSelect().
		Model((*models.Reservation)(nil)).
		Column("id", "event_id").
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("resolve events for %d reservations: %w", len(ids), err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ID] = r.EventID
	}
	return out, nil
}
