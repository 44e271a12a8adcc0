package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ms-reservations/internal/logger"
	"ms-reservations/internal/models"
	"ms-reservations/internal/reservation"

	kafkago "github.com/segmentio/kafka-go"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v interface{}, headers ...kafkago.Header) error
}

// StatusChanged is the message other services consume to follow the reservation lifecycle.
type StatusChanged struct {
	ReservationID string                   `json:"reservation_id"`
	EventID       string                   `json:"event_id"`
	Change        reservation.ChangeKind   `json:"change"`
	From          models.ReservationStatus `json:"from,omitempty"`
	To            models.ReservationStatus `json:"to"`
	Persons       int                      `json:"persons"`
	CapacityDelta int                      `json:"capacity_delta"`
	Remaining     int                      `json:"remaining"`
	At            time.Time                `json:"at"`
}

// StatusPublisher forwards committed lifecycle changes to Kafka, keyed by event so
// one event's changes stay ordered. ReservationChanged only enqueues; a single
// background worker publishes, so a slow broker never holds up a transition. A full
// queue drops the message.
type StatusPublisher struct {
	publisher Publisher
	logger    *logger.Logger
	timeout   time.Duration
	queue     chan StatusChanged
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	started   bool

	published int64
	failed    int64
	dropped   int64
}

type PublisherStats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

func NewStatusPublisher(p Publisher, log *logger.Logger, buffer int) *StatusPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &StatusPublisher{
		publisher: p,
		logger:    log,
		timeout:   5 * time.Second,
		queue:     make(chan StatusChanged, buffer),
		done:      make(chan struct{}),
	}
}

// Start launches the worker. Close drains what is queued.
func (s *StatusPublisher) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

func (s *StatusPublisher) ReservationChanged(_ context.Context, c reservation.Change) {
	// field edits (notes, tags, payment) are not lifecycle events
	if c.Kind == reservation.ChangeUpdated && c.CapacityDelta == 0 {
		return
	}
	msg := StatusChanged{
		ReservationID: c.Reservation.ID,
		EventID:       c.Reservation.EventID,
		Change:        c.Kind,
		From:          c.From,
		To:            c.Reservation.Status,
		Persons:       c.Reservation.NumberOfPersons,
		CapacityDelta: c.CapacityDelta,
		Remaining:     c.Remaining,
		At:            c.At,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		atomic.AddInt64(&s.dropped, 1)
		return
	}
	select {
	case s.queue <- msg:
	default:
		atomic.AddInt64(&s.dropped, 1)
		s.logger.Warn("KAFKA", fmt.Sprintf("Status queue full, dropped %s for %s", msg.Change, msg.ReservationID))
	}
}

func (s *StatusPublisher) run() {
	defer close(s.done)
	for msg := range s.queue {
		s.publish(msg)
	}
}

func (s *StatusPublisher) publish(msg StatusChanged) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	err := s.publisher.PublishJSON(ctx, msg.EventID, msg, kafkago.Header{Key: "change", Value: []byte(msg.Change)})
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		s.logger.Warn("KAFKA", fmt.Sprintf("publish status change for %s: %v", msg.ReservationID, err))
		return
	}
	atomic.AddInt64(&s.published, 1)
	s.logger.Debug("KAFKA", fmt.Sprintf("Published %s %s -> %s for %s", msg.Change, msg.From, msg.To, msg.ReservationID))
}

func (s *StatusPublisher) Stats() PublisherStats {
	return PublisherStats{
		Published: atomic.LoadInt64(&s.published),
		Failed:    atomic.LoadInt64(&s.failed),
		Dropped:   atomic.LoadInt64(&s.dropped),
	}
}

// Close stops accepting changes and waits until the queue is published. It does not
// close the underlying producer.
func (s *StatusPublisher) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	started := s.started
	s.mu.Unlock()

	if !started {
		for msg := range s.queue {
			s.publish(msg)
		}
		return
	}
	<-s.done
}
