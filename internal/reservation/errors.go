package reservation

import (
	"fmt"

	"ms-reservations/internal/domain"
)

var (
	ErrInsufficientCapacity = domain.ErrInsufficientCapacity
	ErrInvalidTransition    = domain.ErrInvalidTransition
	ErrCapacityConflict     = domain.ErrCapacityConflict
	ErrNotFound             = domain.ErrNotFound
	ErrValidation           = domain.ErrValidation
	ErrNotifierFailure      = domain.ErrNotifierFailure
	ErrVersionConflict      = domain.ErrVersionConflict
)

var (
	IsNotFound   = domain.IsNotFound
	IsValidation = domain.IsValidation
	IsConflict   = domain.IsConflict
)

// CapacityError is returned when a booking or option does not fit. It tells the
// caller how much is left and whether the waitlist accepts the party instead.
type CapacityError struct {
	EventID           string
	Requested         int
	Remaining         int
	WaitlistAvailable bool
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("event %s: %d persons requested, %d remaining: %s", e.EventID, e.Requested, e.Remaining, domain.ErrInsufficientCapacity)
}

func (e *CapacityError) Unwrap() error {
	return domain.ErrInsufficientCapacity
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, domain.ErrValidation)...)
}
