package analytics

import (
	"context"
	"fmt"
	"time"

	"ms-reservations/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DB handles analytics database operations
type DB struct {
	bun *bun.DB
}

// NewDB creates a new analytics DB handler
func NewDB(db *bun.DB) *DB {
	return &DB{bun: db}
}

// reservationRow is the slice of a reservation the reports aggregate over.
type reservationRow struct {
	Status          models.ReservationStatus `bun:"status"`
	NumberOfPersons int                      `bun:"number_of_persons"`
	TotalPrice      decimal.Decimal          `bun:"total_price"`
	PaymentStatus   models.PaymentStatus     `bun:"payment_status"`
	OptionExpiresAt time.Time                `bun:"option_expires_at,nullzero"`
}

// reservationRows loads the non-archived reservations of an event.
func (db *DB) reservationRows(ctx context.Context, eventID string) ([]reservationRow, error) {
	var rows []reservationRow
	err := db.bun.NewSelect().
		Model((*models.Reservation)(nil)).
		Column("status", "number_of_persons", "total_price", "payment_status", "option_expires_at").
		Where("event_id = ?", eventID).
		Where("archived = ?", false).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("load reservations of event %s: %w", eventID, err)
	}
	return rows, nil
}
