package reservation

import (
	"fmt"
	"sort"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"
	"ms-reservations/internal/notify"
)

type capacityEffect int

const (
	noCapacity capacityEffect = iota
	reserveCapacity
	releaseCapacity
)

type edge struct {
	capacity capacityEffect
	notify   notify.Kind
	// reason must be given by the caller; it goes to the communication log.
	reason bool
}

// transitions is the complete lifecycle. Anything not listed is rejected.
var transitions = map[models.ReservationStatus]map[models.ReservationStatus]edge{
	models.ReservationPending: {
		models.ReservationConfirmed: {notify: notify.KindConfirmed},
		models.ReservationRejected:  {capacity: releaseCapacity, notify: notify.KindRejected},
	},
	models.ReservationOption: {
		models.ReservationConfirmed: {notify: notify.KindConfirmed},
		models.ReservationExpired:   {capacity: releaseCapacity, notify: notify.KindOptionExpired},
		models.ReservationCancelled: {capacity: releaseCapacity, notify: notify.KindCancelled, reason: true},
	},
	models.ReservationConfirmed: {
		models.ReservationCancelled: {capacity: releaseCapacity, notify: notify.KindCancelled, reason: true},
		models.ReservationCheckedIn: {},
	},
	models.ReservationRequest: {
		models.ReservationConfirmed: {capacity: reserveCapacity, notify: notify.KindConfirmed},
		models.ReservationRejected:  {notify: notify.KindRejected},
	},
	models.ReservationWaitlist: {
		models.ReservationPending:   {capacity: reserveCapacity, notify: notify.KindReceived},
		models.ReservationCancelled: {notify: notify.KindCancelled},
	},
}

func lookupEdge(from, to models.ReservationStatus) (edge, error) {
	e, ok := transitions[from][to]
	if !ok {
		return edge{}, fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}
	return e, nil
}

// CanTransition reports whether the lifecycle allows from -> to. Staying put is always allowed.
func CanTransition(from, to models.ReservationStatus) bool {
	if from == to {
		return true
	}
	_, ok := transitions[from][to]
	return ok
}

// AllowedTargets lists the statuses reachable from s in one step.
func AllowedTargets(s models.ReservationStatus) []models.ReservationStatus {
	var out []models.ReservationStatus
	for to := range transitions[s] {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
