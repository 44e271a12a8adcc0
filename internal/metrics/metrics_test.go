package metrics_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ms-reservations/internal/metrics"
	"ms-reservations/internal/models"
	"ms-reservations/internal/notify"
	"ms-reservations/internal/reservation"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservationListener(t *testing.T) {
	m := metrics.New()
	ctx := context.Background()
	r := &models.Reservation{ID: "r-1", EventID: "evt-1", Status: models.ReservationPending}

	m.ReservationChanged(ctx, reservation.Change{Kind: reservation.ChangeCreated, Reservation: r, CapacityDelta: -6, Remaining: 4})
	m.ReservationChanged(ctx, reservation.Change{Kind: reservation.ChangeUpdated, Reservation: r})

	body := scrape(t, m)
	assert.Contains(t, body, `event_capacity_remaining{event_id="evt-1"} 4`)
	assert.Contains(t, body, `capacity_persons_total{direction="reserved"} 6`)
	assert.Contains(t, body, `reservation_changes_total{kind="created",status="pending"} 1`)
	assert.Contains(t, body, `reservation_changes_total{kind="updated",status="pending"} 1`)
}

func TestNotificationAndSweepMetrics(t *testing.T) {
	m := metrics.New()
	m.NotificationResult(notify.KindConfirmed, nil)
	m.NotificationResult(notify.KindConfirmed, errors.New("broker down"))
	m.ObserveSweep(&reservation.SweepResult{Expired: 3}, 20*time.Millisecond)
	m.ObserveSweep(nil, time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, `notifications_total{kind="confirmed",result="delivered"} 1`)
	assert.Contains(t, body, `notifications_total{kind="confirmed",result="failed"} 1`)
	assert.Contains(t, body, `option_sweep_expired_total 3`)
	assert.Contains(t, body, `option_sweep_duration_seconds_count 1`)
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/reservations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/reservations/"+id, nil))
	}
	n, err := testutil.GatherAndCount(m.Registry(), "http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, scrape(t, m), `http_requests_total{code="404",method="GET",route="/api/reservations/{id}"} 2`)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return strings.TrimSpace(rec.Body.String())
}
