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

type DB struct {
	Bun bun.IDB
}

func New(b bun.IDB) *DB {
	return &DB{Bun: b}
}

func (d *DB) Insert(ctx context.Context, e *models.WaitlistEntry) error {
	if _, err := d.Bun.NewInsert().Model(e).Exec(ctx); err != nil {
		return fmt.Errorf("insert waitlist entry %s: %w", e.ID, err)
	}
	return nil
}

func (d *DB) Get(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	var e models.WaitlistEntry
	err := d.Bun.NewSelect().Model(&e).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, lookupErr("waitlist entry "+id, err)
	}
	return &e, nil
}

func (d *DB) GetByToken(ctx context.Context, token string) (*models.WaitlistEntry, error) {
	var e models.WaitlistEntry
	err := d.Bun.NewSelect().Model(&e).Where("offer_token = ?", token).Limit(1).Scan(ctx)
	if err != nil {
		return nil, lookupErr("waitlist offer", err)
	}
	return &e, nil
}

func lookupErr(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

// ListByEvent returns entries in queue order. No statuses means all of them.
func (d *DB) ListByEvent(ctx context.Context, eventID string, statuses ...models.WaitlistStatus) ([]models.WaitlistEntry, error) {
	var out []models.WaitlistEntry
	q := d.Bun.NewSelect().
		Model(&out).
		Where("event_id = ?", eventID).
		Order("created_at ASC", "id ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statuses))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list waitlist for event %s: %w", eventID, err)
	}
	return out, nil
}

// OutstandingPersons sums the persons of offers that are still open at now.
func (d *DB) OutstandingPersons(ctx context.Context, eventID string, now time.Time) (int, error) {
	var sum int
	err := d.Bun.NewSelect().
		Model((*models.WaitlistEntry)(nil)).
		ColumnExpr("COALESCE(SUM(number_of_persons), 0)").
		Where("event_id = ?", eventID).
		Where("status = ?", models.WaitlistNotified).
		Where("offer_expires_at > ?", now).
		Scan(ctx, &sum)
	if err != nil {
		return 0, fmt.Errorf("sum open offers for event %s: %w", eventID, err)
	}
	return sum, nil
}

// Claim moves e from status `from` to e.Status, writing the given columns. It reports
// false when the row was no longer in `from` (or no longer carried e's old token).
func (d *DB) Claim(ctx context.Context, e *models.WaitlistEntry, from models.WaitlistStatus, token string, columns ...string) (bool, error) {
	q := d.Bun.NewUpdate().
		Model(e).
		Column(append([]string{"status", "updated_at"}, columns...)...).
		Where("id = ?", e.ID).
		Where("status = ?", from)
	if token != "" {
		q = q.Where("offer_token = ?", token)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update waitlist entry %s: %w", e.ID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// DueOffers lists notified entries whose offer ran out at or before now.
func (d *DB) DueOffers(ctx context.Context, now time.Time, limit int) ([]models.WaitlistEntry, error) {
	var out []models.WaitlistEntry
	q := d.Bun.NewSelect().
		Model(&out).
		Where("status = ?", models.WaitlistNotified).
		Where("offer_expires_at <= ?", now).
		Order("offer_expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list due waitlist offers: %w", err)
	}
	return out, nil
}

type Counts struct {
	Pending         int `json:"pending"`
	Notified        int `json:"notified"`
	PendingPersons  int `json:"pending_persons"`
	NotifiedPersons int `json:"notified_persons"`
}

// CountByEvent summarizes the open part of an event's queue.
func (d *DB) CountByEvent(ctx context.Context, eventID string) (*Counts, error) {
	var rows []struct {
		Status  models.WaitlistStatus `bun:"status"`
		Entries int                   `bun:"entries"`
		Persons int                   `bun:"persons"`
	}
	err := d.Bun.NewSelect().
		Model((*models.WaitlistEntry)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS entries").
		ColumnExpr("COALESCE(SUM(number_of_persons), 0) AS persons").
		Where("event_id = ?", eventID).
		Where("status IN (?)", bun.In([]models.WaitlistStatus{models.WaitlistPending, models.WaitlistNotified})).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("count waitlist for event %s: %w", eventID, err)
	}
	c := &Counts{}
	for _, r := range rows {
		switch r.Status {
		case models.WaitlistPending:
			c.Pending, c.PendingPersons = r.Entries, r.Persons
		case models.WaitlistNotified:
			c.Notified, c.NotifiedPersons = r.Entries, r.Persons
		}
	}
	return c, nil
}
