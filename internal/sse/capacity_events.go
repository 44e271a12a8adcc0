package sse

import (
	"context"
	"sync"
	"time"

	"ms-reservations/internal/reservation"
)

// CapacityUpdate is pushed to subscribers whenever an event's free capacity changes.
type CapacityUpdate struct {
	EventID       string    `json:"event_id"`
	Remaining     int       `json:"remaining"`
	Delta         int       `json:"delta"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	At            time.Time `json:"at"`
}

// CapacityEmitter manages SSE subscribers per event.
type CapacityEmitter struct {
	clients map[string][]chan CapacityUpdate
	mu      sync.RWMutex
}

func NewCapacityEmitter() *CapacityEmitter {
	return &CapacityEmitter{clients: make(map[string][]chan CapacityUpdate)}
}

// Subscribe registers a client until ctx is done; the channel is closed afterwards.
func (e *CapacityEmitter) Subscribe(ctx context.Context, eventID string) <-chan CapacityUpdate {
	ch := make(chan CapacityUpdate, 10)

	e.mu.Lock()
	e.clients[eventID] = append(e.clients[eventID], ch)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(eventID, ch)
	}()
	return ch
}

// Emit never blocks; a slow client misses the update and gets the next one.
func (e *CapacityEmitter) Emit(u CapacityUpdate) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.clients[u.EventID] {
		select {
		case ch <- u:
		default:
		}
	}
}

// ReservationChanged forwards capacity movements from the reservation service.
func (e *CapacityEmitter) ReservationChanged(_ context.Context, c reservation.Change) {
	if c.CapacityDelta == 0 {
		return
	}
	e.Emit(CapacityUpdate{
		EventID:       c.Reservation.EventID,
		Remaining:     c.Remaining,
		Delta:         c.CapacityDelta,
		ReservationID: c.Reservation.ID,
		Status:        string(c.Reservation.Status),
		At:            c.At,
	})
}

func (e *CapacityEmitter) remove(eventID string, ch chan CapacityUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[eventID]
	for i, c := range clients {
		if c == ch {
			e.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(e.clients[eventID]) == 0 {
		delete(e.clients, eventID)
	}
}

// ClientCount returns the number of clients currently subscribed to an event
func (e *CapacityEmitter) ClientCount(eventID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[eventID])
}
