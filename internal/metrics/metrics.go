package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"ms-reservations/internal/notify"
	"ms-reservations/internal/reservation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	reservationChanges *prometheus.CounterVec
	remaining          *prometheus.GaugeVec
	capacityMoved      *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	sweepExpired       prometheus.Counter
	sweepDuration      prometheus.Histogram
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		reservationChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reservation_changes_total",
				Help: "Committed reservation changes by kind and resulting status",
			},
			[]string{"kind", "status"},
		),
		remaining: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "event_capacity_remaining",
				Help: "Remaining persons per event after the last capacity movement",
			},
			[]string{"event_id"},
		),
		capacityMoved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capacity_persons_total",
				Help: "Persons reserved or released against event capacity",
			},
			[]string{"direction"},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_total",
				Help: "Notification delivery outcomes",
			},
			[]string{"kind", "result"},
		),
		sweepExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "option_sweep_expired_total",
			Help: "Options expired by the sweeper",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "option_sweep_duration_seconds",
			Help:    "Duration of option expiry sweeps",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ReservationChanged makes Metrics a reservation.Listener.
func (m *Metrics) ReservationChanged(_ context.Context, c reservation.Change) {
	m.reservationChanges.WithLabelValues(string(c.Kind), string(c.Reservation.Status)).Inc()
	switch {
	case c.CapacityDelta < 0:
		m.capacityMoved.WithLabelValues("reserved").Add(float64(-c.CapacityDelta))
	case c.CapacityDelta > 0:
		m.capacityMoved.WithLabelValues("released").Add(float64(c.CapacityDelta))
	default:
		return
	}
	m.remaining.WithLabelValues(c.Reservation.EventID).Set(float64(c.Remaining))
}

// NotificationResult matches notify.Dispatcher.OnResult.
func (m *Metrics) NotificationResult(kind notify.Kind, err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) ObserveSweep(res *reservation.SweepResult, took time.Duration) {
	if res == nil {
		return
	}
	m.sweepExpired.Add(float64(res.Expired))
	m.sweepDuration.Observe(took.Seconds())
}

// Middleware labels requests by chi route pattern to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
