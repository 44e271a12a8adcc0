package capacity_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-reservations/internal/capacity"
	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *bun.DB {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	for _, m := range []interface{}{(*models.CapacityLedger)(nil), (*models.Reservation)(nil)} {
		_, err := bunDB.NewCreateTable().Model(m).Exec(ctx)
		require.NoError(t, err)
	}
	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

func insertHeld(t *testing.T, db *bun.DB, eventID string, persons int, held bool) {
	r := &models.Reservation{
		ID:              uuid.NewString(),
		EventID:         eventID,
		Status:          models.ReservationConfirmed,
		NumberOfPersons: persons,
		Arrangement:     "BWF",
		PaymentStatus:   models.PaymentPending,
		CapacityHeld:    held,
		Version:         1,
		CreatedAt:       time.Now(),
	}
	_, err := db.NewInsert().Model(r).Exec(context.Background())
	require.NoError(t, err)
}

func TestReserveAndRelease(t *testing.T) {
	db := setupTestDB(t)
	ledger := capacity.NewLedger(db)
	ctx := context.Background()

	remaining, err := ledger.Open(ctx, "evt-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)

	remaining, err = ledger.Reserve(ctx, "evt-1", 6)
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	// Over-asking leaves the counter alone.
	_, err = ledger.Reserve(ctx, "evt-1", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientCapacity))
	var insufficient *capacity.InsufficientError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 4, insufficient.Remaining)

	remaining, err = ledger.Remaining(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	remaining, err = ledger.Release(ctx, "evt-1", 6)
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)
}

func TestReleaseIsCappedAtCapacity(t *testing.T) {
	db := setupTestDB(t)
	ledger := capacity.NewLedger(db)
	ctx := context.Background()

	_, err := ledger.Open(ctx, "evt-1", 10)
	require.NoError(t, err)

	remaining, err := ledger.Release(ctx, "evt-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)
}

func TestReserveValidation(t *testing.T) {
	db := setupTestDB(t)
	ledger := capacity.NewLedger(db)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, "evt-1", 0)
	assert.True(t, domain.IsValidation(err))

	_, err = ledger.Reserve(ctx, "missing", 1)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = ledger.Release(ctx, "missing", 1)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestConcurrentReserveNeverOverbooks(t *testing.T) {
	db := setupTestDB(t)
	ledger := capacity.NewLedger(db)
	ctx := context.Background()

	_, err := ledger.Open(ctx, "evt-1", 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Reserve(ctx, "evt-1", 3); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	remaining, err := ledger.Remaining(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestReconcile(t *testing.T) {
	db := setupTestDB(t)
	ledger := capacity.NewLedger(db)
	ctx := context.Background()

	insertHeld(t, db, "evt-1", 4, true)
	insertHeld(t, db, "evt-1", 2, true)
	insertHeld(t, db, "evt-1", 5, false)
	insertHeld(t, db, "evt-2", 30, true)

	remaining, err := ledger.Open(ctx, "evt-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	// Oversold data clamps at zero instead of going negative.
	remaining, err = ledger.Open(ctx, "evt-2", 20)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	// Drift the counter, then rebuild everything.
	_, err = ledger.Release(ctx, "evt-1", 6)
	require.NoError(t, err)

	all, err := ledger.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"evt-1": 4, "evt-2": 0}, all)
}

func TestOpenResizesCapacity(t *testing.T) {
	db := setupTestDB(t)
	ledger := capacity.NewLedger(db)
	ctx := context.Background()

	insertHeld(t, db, "evt-1", 4, true)
	_, err := ledger.Open(ctx, "evt-1", 10)
	require.NoError(t, err)

	remaining, err := ledger.Open(ctx, "evt-1", 12)
	require.NoError(t, err)
	assert.Equal(t, 8, remaining)

	row, err := ledger.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 12, row.Capacity)
}

func TestWithTxRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ledger := capacity.NewLedger(db)
	ctx := context.Background()

	_, err := ledger.Open(ctx, "evt-1", 10)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := ledger.WithTx(tx).Reserve(ctx, "evt-1", 7); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	remaining, err := ledger.Remaining(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)
}
