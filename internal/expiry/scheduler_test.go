package expiry_test

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ms-reservations/internal/capacity"
	"ms-reservations/internal/expiry"
	"ms-reservations/internal/logger"
	"ms-reservations/internal/models"
	"ms-reservations/internal/pricing"
	"ms-reservations/internal/reservation"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type blockingSweeper struct {
	calls   atomic.Int32
	release chan struct{}
	entered chan struct{}
}

func (b *blockingSweeper) ExpireDueOptions(ctx context.Context, now time.Time, limit int) (*reservation.SweepResult, error) {
	b.calls.Add(1)
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.release != nil {
		<-b.release
	}
	return &reservation.SweepResult{StartedAt: now}, nil
}

type fakeOffers struct {
	mu       sync.Mutex
	promoted []string
}

func (f *fakeOffers) ExpireOffers(context.Context, time.Time) (int, []string, error) {
	return 2, []string{"evt-1", "evt-2"}, nil
}

func (f *fakeOffers) Promote(_ context.Context, eventID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoted = append(f.promoted, eventID)
	return 0, nil
}

func TestOverlappingSweepsAreSkipped(t *testing.T) {
	sw := &blockingSweeper{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := expiry.NewScheduler(sw, nil, nil, logger.NewNopLogger(), expiry.Options{Interval: time.Hour})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Sweep(context.Background())
		assert.NoError(t, err)
	}()
	<-sw.entered

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res)

	close(sw.release)
	<-done
	assert.Equal(t, int32(1), sw.calls.Load())
	assert.Equal(t, int64(1), s.GetStats().TotalSweeps)
}

func TestRedisSweepLockSkipsOtherProcess(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	lock := capacity.NewRedisLocker(client, time.Minute, 0)
	sw := &blockingSweeper{}
	s := expiry.NewScheduler(sw, nil, lock, logger.NewNopLogger(), expiry.Options{})

	unlock, ok, err := lock.TryLock(context.Background(), "option-sweep")
	require.NoError(t, err)
	require.True(t, ok)

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, int32(0), sw.calls.Load())

	unlock()
	res, err = s.ExpireOptionsNow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, int32(1), sw.calls.Load())
	assert.False(t, mr.Exists("capacity_lock:option-sweep"))
}

func TestSweepRepromotesExpiredOffers(t *testing.T) {
	offers := &fakeOffers{}
	s := expiry.NewScheduler(&blockingSweeper{}, offers, nil, logger.NewNopLogger(), expiry.Options{})

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-1", "evt-2"}, offers.promoted)
	assert.Equal(t, 2, s.GetStats().LastOffers)
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	sw := &blockingSweeper{}
	s := expiry.NewScheduler(sw, nil, nil, logger.NewNopLogger(), expiry.Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	assert.Eventually(t, func() bool { return sw.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.GetStats().Running)

	s.Stop()
	assert.False(t, s.GetStats().Running)
	calls := sw.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, sw.calls.Load())
}

type flatPricer struct{}

func (flatPricer) Quote(_ context.Context, _ *models.Event, req pricing.Request) (*models.PricingSnapshot, error) {
	return pricing.ComputeTotal(pricing.Input{
		Arrangement:     req.Arrangement,
		PricePerPerson:  decimal.RequireFromString("60.00"),
		NumberOfPersons: req.NumberOfPersons,
	})
}

func (flatPricer) RedeemPromo(context.Context, string) error { return nil }

func TestSweepTwiceReleasesOnce(t *testing.T) {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	defer db.Close()
	ctx := context.Background()
	for _, m := range []interface{}{(*models.Event)(nil), (*models.CapacityLedger)(nil), (*models.Reservation)(nil)} {
		_, err := db.NewCreateTable().Model(m).Exec(ctx)
		require.NoError(t, err)
	}

	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc := reservation.NewService(db, capacity.NewLocalLocker(), flatPricer{}, nil, logger.NewNopLogger(), reservation.Config{OptionTTL: time.Hour})
	svc.SetClock(clock)
	require.NoError(t, svc.OpenEvent(ctx, &models.Event{ID: "evt-1", Name: "Gala", Date: now.Add(72 * time.Hour), EventType: "GALA", Capacity: 20}))

	opt, err := svc.CreateReservation(ctx, reservation.CreateInput{
		EventID: "evt-1",
		Mode:    reservation.ModeOption,
		Contact: models.Contact{Name: "Visser"},
		Request: pricing.Request{Arrangement: "BWFM", NumberOfPersons: 5},
	})
	require.NoError(t, err)

	// the option ran out an hour ago
	now = now.Add(2 * time.Hour)

	s := expiry.NewScheduler(svc, nil, nil, logger.NewNopLogger(), expiry.Options{Batch: 10})
	s.SetClock(clock)

	first, err := s.ExpireOptionsNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Expired)
	assert.Equal(t, []string{opt.ID}, first.IDs)

	second, err := s.ExpireOptionsNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Expired)

	v, err := svc.Remaining(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 20, v.Remaining)

	stored, err := svc.Get(ctx, opt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationExpired, stored.Status)
	assert.False(t, stored.CapacityHeld)

	st := s.GetStats()
	assert.Equal(t, int64(2), st.TotalSweeps)
	assert.Equal(t, int64(1), st.TotalExpired)
}
