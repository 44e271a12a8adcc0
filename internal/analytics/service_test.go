package analytics_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-reservations/internal/analytics"
	analytics_api "ms-reservations/internal/analytics/api"
	"ms-reservations/internal/capacity"
	"ms-reservations/internal/logger"
	"ms-reservations/internal/models"
	"ms-reservations/internal/pricing"
	"ms-reservations/internal/reservation"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type flatPricer struct{}

func (flatPricer) Quote(_ context.Context, _ *models.Event, req pricing.Request) (*models.PricingSnapshot, error) {
	return pricing.ComputeTotal(pricing.Input{
		Arrangement:     req.Arrangement,
		PricePerPerson:  decimal.RequireFromString("50.00"),
		NumberOfPersons: req.NumberOfPersons,
	})
}

func (flatPricer) RedeemPromo(context.Context, string) error { return nil }

func setup(t *testing.T) (*bun.DB, *reservation.Service, time.Time) {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	for _, m := range []interface{}{
		(*models.Event)(nil),
		(*models.CapacityLedger)(nil),
		(*models.Reservation)(nil),
		(*models.WaitlistEntry)(nil),
	} {
		_, err := db.NewCreateTable().Model(m).Exec(ctx)
		require.NoError(t, err)
	}

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	svc := reservation.NewService(db, capacity.NewLocalLocker(), flatPricer{}, nil, logger.NewNopLogger(), reservation.Config{OptionTTL: 24 * time.Hour})
	svc.SetClock(func() time.Time { return now })
	require.NoError(t, svc.OpenEvent(ctx, &models.Event{
		ID:        "evt-1",
		Name:      "Halloween dinner",
		Date:      time.Date(2026, 10, 31, 19, 0, 0, 0, time.UTC),
		EventType: "SPECIAL",
		Capacity:  40,
	}))
	return db, svc, now
}

func create(t *testing.T, svc *reservation.Service, mode reservation.Mode, persons int) *models.Reservation {
	r, err := svc.CreateReservation(context.Background(), reservation.CreateInput{
		EventID: "evt-1",
		Mode:    mode,
		Contact: models.Contact{Name: "de Vries"},
		Request: pricing.Request{Arrangement: "BWF", NumberOfPersons: persons},
	})
	require.NoError(t, err)
	return r
}

func TestOccupancy(t *testing.T) {
	db, svc, now := setup(t)
	ctx := context.Background()

	paid := create(t, svc, reservation.ModeBooking, 10)
	_, err := svc.Confirm(ctx, paid.ID, "staff")
	require.NoError(t, err)
	_, err = svc.MarkAsPaid(ctx, paid.ID, "finance")
	require.NoError(t, err)
	create(t, svc, reservation.ModeOption, 6)
	create(t, svc, reservation.ModeRequest, 50)
	cancelled := create(t, svc, reservation.ModeBooking, 4)
	_, err = svc.Confirm(ctx, cancelled.ID, "staff")
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, cancelled.ID, "guest called off", "staff")
	require.NoError(t, err)

	a := analytics.NewService(db)
	a.SetClock(func() time.Time { return now })
	occ, err := a.GetOccupancy(ctx, "evt-1")
	require.NoError(t, err)

	assert.Equal(t, 40, occ.Capacity)
	assert.Equal(t, 24, occ.Remaining)
	assert.Equal(t, 16, occ.HeldPersons)
	assert.InDelta(t, 0.4, occ.OccupancyRate, 0.0001)
	assert.Equal(t, "800.00", occ.BookedRevenue.StringFixed(2))
	assert.Equal(t, "500.00", occ.PaidRevenue.StringFixed(2))
	assert.Equal(t, analytics.StatusBreakdown{Count: 1, Persons: 50}, occ.ByStatus[models.ReservationRequest])
	assert.Equal(t, analytics.StatusBreakdown{Count: 1, Persons: 4}, occ.ByStatus[models.ReservationCancelled])
	assert.Equal(t, analytics.OptionReport{Active: 1, ExpiringSoon: 1, PersonsHeld: 6}, occ.Options)
	assert.Equal(t, 0, occ.Waitlist.Pending)
}

func TestOccupancyHandler(t *testing.T) {
	db, _, _ := setup(t)
	h := analytics_api.NewHandler(analytics.NewService(db), logger.NewNopLogger())
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/evt-1/occupancy", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool                `json:"success"`
		Data    analytics.Occupancy `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 40, body.Data.Remaining)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/missing/occupancy", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
