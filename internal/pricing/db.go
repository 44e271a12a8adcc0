package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DBSource reads pricing configuration straight from the database.
type DBSource struct {
	Bun *bun.DB
}

func (d *DBSource) EventTypePrices(ctx context.Context, eventType string) (map[string]decimal.Decimal, error) {
	var rows []models.ArrangementPrice
	err := d.Bun.NewSelect().
		Model(&rows).
		Where("event_type = ?", eventType).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load prices for event type %s: %w", eventType, err)
	}
	out := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.Arrangement] = r.PricePerPerson
	}
	return out, nil
}

func (d *DBSource) MerchandiseItems(ctx context.Context) ([]models.MerchandiseItem, error) {
	var items []models.MerchandiseItem
	err := d.Bun.NewSelect().
		Model(&items).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load merchandise: %w", err)
	}
	return items, nil
}

func (d *DBSource) PromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var p models.PromoCode
	err := d.Bun.NewSelect().
		Model(&p).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("promo code %s: %w", code, domain.ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("load promo code %s: %w", code, err)
	}
	return &p, nil
}

// RedeemPromo increments the usage counter unless the limit is already reached.
func (d *DBSource) RedeemPromo(ctx context.Context, code string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.PromoCode)(nil)).
		Set("current_usage = current_usage + 1").
		Where("code = ?", code).
		Where("max_usage = 0 OR current_usage < max_usage").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("redeem promo code %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("promo code %s usage limit reached: %w", code, domain.ErrValidation)
	}
	return nil
}
