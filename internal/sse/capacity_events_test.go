package sse_test

import (
	"context"
	"testing"
	"time"

	"ms-reservations/internal/models"
	"ms-reservations/internal/reservation"
	"ms-reservations/internal/sse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterDeliversPerEvent(t *testing.T) {
	e := sse.NewCapacityEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := e.Subscribe(ctx, "evt-1")
	ch2 := e.Subscribe(ctx, "evt-2")
	assert.Equal(t, 1, e.ClientCount("evt-1"))

	e.ReservationChanged(ctx, reservation.Change{
		Reservation:   &models.Reservation{ID: "r-1", EventID: "evt-1", Status: models.ReservationCancelled},
		CapacityDelta: 4,
		Remaining:     10,
	})
	// status-only changes are not capacity updates
	e.ReservationChanged(ctx, reservation.Change{
		Reservation: &models.Reservation{ID: "r-2", EventID: "evt-1", Status: models.ReservationConfirmed},
	})

	select {
	case u := <-ch1:
		assert.Equal(t, 10, u.Remaining)
		assert.Equal(t, 4, u.Delta)
		assert.Equal(t, "r-1", u.ReservationID)
	case <-time.After(time.Second):
		t.Fatal("no update for evt-1")
	}
	assert.Len(t, ch1, 0)
	assert.Len(t, ch2, 0)
}

func TestEmitterDropsForSlowClientsAndUnsubscribes(t *testing.T) {
	e := sse.NewCapacityEmitter()
	ctx, cancel := context.WithCancel(context.Background())

	ch := e.Subscribe(ctx, "evt-1")
	for i := 0; i < 50; i++ {
		e.Emit(sse.CapacityUpdate{EventID: "evt-1", Remaining: i})
	}
	assert.Len(t, ch, 10)

	cancel()
	require.Eventually(t, func() bool { return e.ClientCount("evt-1") == 0 }, time.Second, 5*time.Millisecond)
	for range ch {
	}
}
