package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	wrapped := fmt.Errorf("reservation r-1: %w", ErrInvalidTransition)

	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.False(t, IsValidation(wrapped))

	assert.True(t, IsNotFound(fmt.Errorf("event e-1: %w", ErrNotFound)))
	assert.True(t, IsValidation(fmt.Errorf("persons: %w", ErrValidation)))
	assert.True(t, IsValidation(ErrOfferExpired))
	assert.True(t, IsConflict(ErrInsufficientCapacity))
	assert.False(t, IsConflict(ErrNotifierFailure))
}
