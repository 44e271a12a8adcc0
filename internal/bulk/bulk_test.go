package bulk_test

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ms-reservations/internal/bulk"
	"ms-reservations/internal/capacity"
	"ms-reservations/internal/domain"
	"ms-reservations/internal/logger"
	"ms-reservations/internal/models"
	"ms-reservations/internal/pricing"
	"ms-reservations/internal/reservation"

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
		PricePerPerson:  decimal.RequireFromString("49.50"),
		NumberOfPersons: req.NumberOfPersons,
	})
}

func (flatPricer) RedeemPromo(context.Context, string) error { return nil }

func setupService(t *testing.T) *reservation.Service {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	for _, m := range []interface{}{(*models.Event)(nil), (*models.CapacityLedger)(nil), (*models.Reservation)(nil)} {
		_, err := db.NewCreateTable().Model(m).Exec(ctx)
		require.NoError(t, err)
	}
	svc := reservation.NewService(db, capacity.NewLocalLocker(), flatPricer{}, nil, logger.NewNopLogger(), reservation.Config{MaxRetries: 3})
	for _, id := range []string{"evt-1", "evt-2"} {
		require.NoError(t, svc.OpenEvent(ctx, &models.Event{
			ID:        id,
			Name:      "Show " + id,
			Date:      time.Date(2026, 9, 12, 19, 30, 0, 0, time.UTC),
			EventType: "REGULAR",
			Capacity:  20,
		}))
	}
	return svc
}

func create(t *testing.T, svc *reservation.Service, eventID string, persons int) *models.Reservation {
	r, err := svc.CreateReservation(context.Background(), reservation.CreateInput{
		EventID: eventID,
		Contact: models.Contact{Name: "Bakker"},
		Request: pricing.Request{Arrangement: "BWF", NumberOfPersons: persons},
	})
	require.NoError(t, err)
	return r
}

func TestBulkCancelCountsAlreadyCancelledAsSuccess(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	c := bulk.NewCoordinator(svc, svc.Store(), logger.NewNopLogger(), 2)

	r1 := create(t, svc, "evt-1", 2)
	r2 := create(t, svc, "evt-1", 3)
	r3 := create(t, svc, "evt-2", 4)
	for _, id := range []string{r1.ID, r2.ID} {
		_, err := svc.Confirm(ctx, id, "staff")
		require.NoError(t, err)
	}
	_, err := svc.Cancel(ctx, r2.ID, "double booked", "staff")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, r3.ID, "staff")
	require.NoError(t, err)

	res, err := c.Apply(ctx, bulk.Request{
		IDs:    []string{r1.ID, r2.ID, r3.ID},
		Status: models.ReservationCancelled,
		Reason: "show moved",
		Actor:  "staff",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)
	assert.Equal(t, 0, res.FailureCount)
	assert.Empty(t, res.Failures)

	for _, id := range []string{"evt-1", "evt-2"} {
		v, err := svc.Remaining(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 20, v.Remaining)
	}
}

func TestBulkIsolatesFailures(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	c := bulk.NewCoordinator(svc, svc.Store(), logger.NewNopLogger(), 4)

	pending := create(t, svc, "evt-1", 2)
	rejected := create(t, svc, "evt-2", 2)
	_, err := svc.Reject(ctx, rejected.ID, "", "staff")
	require.NoError(t, err)

	res, err := c.Apply(ctx, bulk.Request{
		IDs:    []string{pending.ID, rejected.ID, "ghost", pending.ID},
		Status: models.ReservationConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 2, res.FailureCount)

	reasons := map[string]string{}
	for _, f := range res.Failures {
		reasons[f.ID] = f.Reason
	}
	assert.Equal(t, "not found", reasons["ghost"])
	assert.Contains(t, reasons[rejected.ID], "invalid transition")

	got, err := svc.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationConfirmed, got.Status)
}

func TestBulkRejectsBadRequests(t *testing.T) {
	svc := setupService(t)
	c := bulk.NewCoordinator(svc, svc.Store(), logger.NewNopLogger(), 0)

	_, err := c.Apply(context.Background(), bulk.Request{IDs: []string{"a"}, Status: "archived"})
	assert.True(t, domain.IsValidation(err))
	_, err = c.Apply(context.Background(), bulk.Request{Status: models.ReservationCancelled})
	assert.True(t, domain.IsValidation(err))
}

// trackingTransitioner records how many calls run at once per event.
type trackingTransitioner struct {
	owners  map[string]string
	mu      sync.Mutex
	active  map[string]int
	maxSame int
	total   atomic.Int32
}

func (tr *trackingTransitioner) EventIDsOf(_ context.Context, ids []string) (map[string]string, error) {
	return tr.owners, nil
}

func (tr *trackingTransitioner) TransitionTo(_ context.Context, id string, _ models.ReservationStatus, _ reservation.TransitionOptions) (*models.Reservation, bool, error) {
	ev := tr.owners[id]
	tr.mu.Lock()
	tr.active[ev]++
	if tr.active[ev] > tr.maxSame {
		tr.maxSame = tr.active[ev]
	}
	tr.mu.Unlock()

	time.Sleep(2 * time.Millisecond)
	tr.total.Add(1)

	tr.mu.Lock()
	tr.active[ev]--
	tr.mu.Unlock()
	return &models.Reservation{ID: id}, true, nil
}

func TestBulkSerializesWithinEvent(t *testing.T) {
	tr := &trackingTransitioner{owners: map[string]string{}, active: map[string]int{}}
	var ids []string
	for i, ev := range []string{"a", "b", "c"} {
		for j := 0; j < 5; j++ {
			id := ev + string(rune('0'+j))
			tr.owners[id] = []string{"evt-a", "evt-b", "evt-c"}[i]
			ids = append(ids, id)
		}
	}
	c := bulk.NewCoordinator(tr, tr, logger.NewNopLogger(), 3)

	res, err := c.Apply(context.Background(), bulk.Request{IDs: ids, Status: models.ReservationCancelled})
	require.NoError(t, err)
	assert.Equal(t, 15, res.SuccessCount)
	assert.Equal(t, int32(15), tr.total.Load())
	assert.Equal(t, 1, tr.maxSame)
}
