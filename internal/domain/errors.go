package domain

import "errors"

var (
	// Capacity errors
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrCapacityConflict     = errors.New("capacity conflict, try again")

	// Lifecycle errors
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrVersionConflict   = errors.New("version conflict")

	// Lookup and input errors
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")

	// Waitlist offer errors
	ErrOfferExpired = errors.New("waitlist offer expired")
	ErrOfferUsed    = errors.New("waitlist offer already used")

	// ErrNotifierFailure is only ever logged; a committed transition is never reverted for it.
	ErrNotifierFailure = errors.New("notifier failure")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrOfferExpired) ||
		errors.Is(err, ErrOfferUsed)
}

// IsConflict covers every error that should surface as HTTP 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientCapacity) ||
		errors.Is(err, ErrCapacityConflict) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrVersionConflict)
}
