package checkin_test

import (
	"bytes"
	"context"
	"testing"

	"ms-reservations/internal/checkin"
	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReservations struct {
	mock.Mock
}

func (m *mockReservations) Get(ctx context.Context, id string) (*models.Reservation, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*models.Reservation)
	return r, args.Error(1)
}

func (m *mockReservations) CheckIn(ctx context.Context, id, actor string) (*models.Reservation, error) {
	args := m.Called(ctx, id, actor)
	r, _ := args.Get(0).(*models.Reservation)
	return r, args.Error(1)
}

var pngSignature = []byte{0x89, 'P', 'N', 'G'}

func TestGenerateOnlyForConfirmed(t *testing.T) {
	res := new(mockReservations)
	gen := checkin.NewQRGenerator("test-secret-key", 0, res)
	ctx := context.Background()

	res.On("Get", ctx, "r-1").Return(&models.Reservation{ID: "r-1", EventID: "evt-1", NumberOfPersons: 4, Status: models.ReservationConfirmed}, nil)
	res.On("Get", ctx, "r-2").Return(&models.Reservation{ID: "r-2", EventID: "evt-1", Status: models.ReservationOption}, nil)

	png, err := gen.Generate(ctx, "r-1")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngSignature))

	_, err = gen.Generate(ctx, "r-2")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	res.AssertExpectations(t)
}

func TestEncodeDecode(t *testing.T) {
	gen := checkin.NewQRGenerator("test-secret-key", 256, nil)

	code, err := gen.Encode(checkin.Payload{ReservationID: "r-1", EventID: "evt-1", Persons: 3})
	require.NoError(t, err)

	again, err := gen.Encode(checkin.Payload{ReservationID: "r-1", EventID: "evt-1", Persons: 3})
	require.NoError(t, err)
	assert.NotEqual(t, code, again)

	p, err := gen.Decode(code)
	require.NoError(t, err)
	assert.Equal(t, "r-1", p.ReservationID)
	assert.Equal(t, 3, p.Persons)

	other := checkin.NewQRGenerator("another-secret", 256, nil)
	_, err = other.Decode(code)
	assert.True(t, domain.IsValidation(err))

	tampered := []byte(code)
	tampered[len(tampered)/2] ^= 0x01
	_, err = gen.Decode(string(tampered))
	assert.True(t, domain.IsValidation(err))

	_, err = gen.Decode("%%%")
	assert.True(t, domain.IsValidation(err))
}

func TestCheckInFromCode(t *testing.T) {
	res := new(mockReservations)
	gen := checkin.NewQRGenerator("test-secret-key", 0, res)
	ctx := context.Background()

	stored := &models.Reservation{ID: "r-1", EventID: "evt-1", Status: models.ReservationConfirmed}
	res.On("Get", ctx, "r-1").Return(stored, nil)
	res.On("CheckIn", ctx, "r-1", "door-1").Return(&models.Reservation{ID: "r-1", EventID: "evt-1", Status: models.ReservationCheckedIn}, nil).Once()

	code, err := gen.Encode(checkin.Payload{ReservationID: "r-1", EventID: "evt-1", Persons: 2})
	require.NoError(t, err)

	r, err := gen.CheckIn(ctx, code, "door-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCheckedIn, r.Status)

	wrongEvent, err := gen.Encode(checkin.Payload{ReservationID: "r-1", EventID: "evt-9"})
	require.NoError(t, err)
	_, err = gen.CheckIn(ctx, wrongEvent, "door-1")
	assert.True(t, domain.IsValidation(err))

	res.AssertExpectations(t)
}
