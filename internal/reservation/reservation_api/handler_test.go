package reservation_api_test

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ms-reservations/internal/auth"
	"ms-reservations/internal/bulk"
	"ms-reservations/internal/capacity"
	"ms-reservations/internal/checkin"
	"ms-reservations/internal/logger"
	"ms-reservations/internal/models"
	"ms-reservations/internal/pricing"
	"ms-reservations/internal/reservation"
	"ms-reservations/internal/reservation/reservation_api"
	"ms-reservations/internal/sse"
	"ms-reservations/internal/waitlist"

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
		PricePerPerson:  decimal.RequireFromString("75.00"),
		NumberOfPersons: req.NumberOfPersons,
	})
}

func (flatPricer) RedeemPromo(context.Context, string) error { return nil }

type testAPI struct {
	svc    *reservation.Service
	wl     *waitlist.Service
	qr     *checkin.QRGenerator
	router http.Handler
}

func setupAPI(t *testing.T) *testAPI {
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

	log := logger.NewNopLogger()
	svc := reservation.NewService(db, capacity.NewLocalLocker(), flatPricer{}, nil, log, reservation.Config{MaxRetries: 3})
	wl := waitlist.NewService(db, svc, nil, log, time.Hour)
	svc.SetPromoter(wl)
	emitter := sse.NewCapacityEmitter()
	svc.AddListener(emitter)
	qr := checkin.NewQRGenerator("handler-test-secret", 0, svc)

	require.NoError(t, svc.OpenEvent(ctx, &models.Event{
		ID:        "evt-1",
		Name:      "Zomergala",
		Date:      time.Date(2026, 8, 22, 19, 0, 0, 0, time.UTC),
		EventType: "GALA",
		Capacity:  10,
	}))

	h := reservation_api.NewHandler(svc, wl, bulk.NewCoordinator(svc, svc.Store(), log, 2), svc, qr, emitter, log)
	r := chi.NewRouter()
	r.Use(auth.Anonymous("staff-1", "admin"))
	r.Route("/api", func(r chi.Router) {
		h.RegisterPublicRoutes(r)
		r.Route("/admin", h.RegisterAdminRoutes)
	})
	return &testAPI{svc: svc, wl: wl, qr: qr, router: r}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details map[string]any  `json:"details"`
}

func (a *testAPI) call(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func booking(persons int) map[string]interface{} {
	return map[string]interface{}{
		"event_id":          "evt-1",
		"contact":           map[string]string{"name": "Smit", "email": "smit@example.com"},
		"arrangement":       "BWF",
		"number_of_persons": persons,
	}
}

func decodeReservation(t *testing.T, env envelope) models.Reservation {
	t.Helper()
	var r models.Reservation
	require.NoError(t, json.Unmarshal(env.Data, &r))
	return r
}

func TestCreateRejectAndRebook(t *testing.T) {
	a := setupAPI(t)

	rec, env := a.call(t, http.MethodPost, "/api/reservations", booking(6))
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeReservation(t, env)
	assert.Equal(t, models.ReservationPending, first.Status)
	assert.Equal(t, "450.00", first.TotalPrice.StringFixed(2))

	rec, env = a.call(t, http.MethodPost, "/api/reservations", booking(5))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_capacity", env.Code)
	assert.EqualValues(t, 4, env.Details["remaining"])
	assert.Equal(t, "/api/events/evt-1/waitlist", env.Details["waitlist_url"])

	rec, env = a.call(t, http.MethodPost, "/api/admin/reservations/"+first.ID+"/reject", map[string]string{"reason": "no table"})
	require.Equal(t, http.StatusOK, rec.Code)
	rejected := decodeReservation(t, env)
	assert.Equal(t, models.ReservationRejected, rejected.Status)

	rec, env = a.call(t, http.MethodGet, "/api/events/evt-1/capacity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view models.CapacityView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, 10, view.Remaining)

	rec, _ = a.call(t, http.MethodPost, "/api/reservations", booking(5))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, env = a.call(t, http.MethodPost, "/api/admin/reservations/"+first.ID+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", env.Code)
}

func TestErrorMapping(t *testing.T) {
	a := setupAPI(t)

	rec, env := a.call(t, http.MethodPost, "/api/reservations", booking(0))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", env.Code)
	assert.False(t, env.Success)

	rec, _ = a.call(t, http.MethodGet, "/api/reservations/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	a.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec, _ = a.call(t, http.MethodGet, "/api/admin/events/evt-1/reservations?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuote(t *testing.T) {
	a := setupAPI(t)
	body := booking(4)
	rec, env := a.call(t, http.MethodPost, "/api/pricing/quote", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.PricingSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, "300.00", snap.Total.StringFixed(2))
}

func TestAdminLifecycleEndpoints(t *testing.T) {
	a := setupAPI(t)

	_, env := a.call(t, http.MethodPost, "/api/reservations", booking(2))
	id := decodeReservation(t, env).ID

	rec, env := a.call(t, http.MethodPut, "/api/admin/reservations/"+id+"/price-override", map[string]string{"amount": "120.00", "reason": "regular guest"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "120.00", decodeReservation(t, env).TotalPrice.StringFixed(2))

	rec, env = a.call(t, http.MethodDelete, "/api/admin/reservations/"+id+"/price-override", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "150.00", decodeReservation(t, env).TotalPrice.StringFixed(2))

	rec, env = a.call(t, http.MethodPost, "/api/admin/reservations/"+id+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PaymentPaid, decodeReservation(t, env).PaymentStatus)

	rec, env = a.call(t, http.MethodPut, "/api/admin/reservations/"+id+"/tags", map[string][]string{"tags": {"vip", "birthday"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"vip", "birthday"}, decodeReservation(t, env).Tags)

	rec, _ = a.call(t, http.MethodPost, "/api/admin/reservations/"+id+"/cancel", map[string]string{"reason": "guest ill"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = a.call(t, http.MethodPost, "/api/admin/reservations/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = a.call(t, http.MethodPost, "/api/admin/reservations/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", env.Code)

	rec, _ = a.call(t, http.MethodPost, "/api/admin/reservations/"+id+"/cancel", map[string]string{"reason": "guest ill"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = a.call(t, http.MethodPost, "/api/admin/reservations/"+id+"/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeReservation(t, env).Archived)

	rec, env = a.call(t, http.MethodGet, "/api/admin/events/evt-1/reservations?status=cancelled&archived=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Reservation
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	rec, _ = a.call(t, http.MethodDelete, "/api/admin/reservations/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = a.call(t, http.MethodGet, "/api/reservations/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBulkAndExpireEndpoints(t *testing.T) {
	a := setupAPI(t)
	var ids []string
	for i := 0; i < 2; i++ {
		_, env := a.call(t, http.MethodPost, "/api/reservations", booking(2))
		ids = append(ids, decodeReservation(t, env).ID)
	}

	rec, env := a.call(t, http.MethodPost, "/api/admin/reservations/bulk-status", map[string]interface{}{
		"ids":    append(ids, "ghost"),
		"status": "confirmed",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var res bulk.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)

	rec, _ = a.call(t, http.MethodPost, "/api/admin/reservations/bulk-status", map[string]interface{}{"ids": ids, "status": "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.call(t, http.MethodPost, "/api/admin/options/expire", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = a.call(t, http.MethodPost, "/api/admin/events/evt-1/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.EqualValues(t, 6, out["remaining"])
}

func TestQRAndCheckIn(t *testing.T) {
	a := setupAPI(t)
	_, env := a.call(t, http.MethodPost, "/api/reservations", booking(3))
	r := decodeReservation(t, env)

	rec, _ := a.call(t, http.MethodGet, "/api/reservations/"+r.ID+"/qr", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = a.call(t, http.MethodPost, "/api/admin/reservations/"+r.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = a.call(t, http.MethodGet, "/api/reservations/"+r.ID+"/qr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	code, err := a.qr.Encode(checkin.Payload{ReservationID: r.ID, EventID: "evt-1", Persons: 3})
	require.NoError(t, err)
	rec, env = a.call(t, http.MethodPost, "/api/admin/checkin", map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ReservationCheckedIn, decodeReservation(t, env).Status)

	rec, _ = a.call(t, http.MethodPost, "/api/admin/checkin", map[string]string{"code": "garbage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWaitlistEndpoints(t *testing.T) {
	a := setupAPI(t)
	_, env := a.call(t, http.MethodPost, "/api/reservations", booking(10))
	full := decodeReservation(t, env)

	rec, env := a.call(t, http.MethodPost, "/api/events/evt-1/waitlist", map[string]interface{}{
		"contact":           map[string]string{"name": "Mulder"},
		"number_of_persons": 4,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry models.WaitlistEntry
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.Equal(t, models.WaitlistPending, entry.Status)

	rec, _ = a.call(t, http.MethodPost, "/api/admin/reservations/"+full.ID+"/reject", map[string]string{"reason": "no table left"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = a.call(t, http.MethodGet, "/api/admin/events/evt-1/waitlist?status=notified", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []models.WaitlistEntry
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed, 1)
	assert.Empty(t, listed[0].OfferToken)

	// the token only reaches the guest through the notifier
	entries, err := a.wl.ListByEvent(context.Background(), "evt-1", models.WaitlistNotified)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotEmpty(t, entries[0].OfferToken)

	rec, env = a.call(t, http.MethodPost, "/api/waitlist/convert", map[string]string{"token": entries[0].OfferToken, "arrangement": "BWF"})
	require.Equal(t, http.StatusCreated, rec.Code)
	converted := decodeReservation(t, env)
	assert.Equal(t, 4, converted.NumberOfPersons)

	rec, _ = a.call(t, http.MethodPost, "/api/waitlist/convert", map[string]string{"token": entries[0].OfferToken, "arrangement": "BWF"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCapacityStream(t *testing.T) {
	a := setupAPI(t)
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events/evt-1/capacity/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	assert.Equal(t, 10, first.Remaining)

	_, err = a.svc.CreateReservation(context.Background(), reservation.CreateInput{
		EventID: "evt-1",
		Contact: models.Contact{Name: "de Boer"},
		Request: pricing.Request{Arrangement: "BWF", NumberOfPersons: 3},
	})
	require.NoError(t, err)

	update := readEvent(t, reader)
	assert.Equal(t, 7, update.Remaining)
	assert.Equal(t, -3, update.Delta)
}

func readEvent(t *testing.T, r *bufio.Reader) sse.CapacityUpdate {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			var u sse.CapacityUpdate
			require.NoError(t, json.Unmarshal([]byte(data), &u))
			return u
		}
	}
}
