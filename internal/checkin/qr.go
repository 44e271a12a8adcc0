package checkin

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"

	"github.com/skip2/go-qrcode"
)

// Payload is what the door scanner reads back from a QR code.
type Payload struct {
	ReservationID string    `json:"rid"`
	EventID       string    `json:"eid"`
	Persons       int       `json:"n"`
	IssuedAt      time.Time `json:"iat"`
}

// Reservations is the part of the reservation service check-in needs.
type Reservations interface {
	Get(ctx context.Context, id string) (*models.Reservation, error)
	CheckIn(ctx context.Context, id, actor string) (*models.Reservation, error)
}

type QRGenerator struct {
	secret       []byte
	size         int
	reservations Reservations
	now          func() time.Time
}

func NewQRGenerator(secret string, size int, reservations Reservations) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	if size <= 0 {
		size = 256
	}
	return &QRGenerator{secret: hashed[:], size: size, reservations: reservations, now: time.Now}
}

// Generate returns a PNG for a confirmed (or already checked-in) reservation.
func (q *QRGenerator) Generate(ctx context.Context, reservationID string) ([]byte, error) {
	r, err := q.reservations.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.ReservationConfirmed && r.Status != models.ReservationCheckedIn {
		return nil, fmt.Errorf("reservation %s is %s, no check-in code: %w", r.ID, r.Status, domain.ErrInvalidTransition)
	}
	code, err := q.Encode(Payload{
		ReservationID: r.ID,
		EventID:       r.EventID,
		Persons:       r.NumberOfPersons,
		IssuedAt:      q.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(code, qrcode.Medium, q.size)
}

// Encode seals p into the string printed in the QR code.
func (q *QRGenerator) Encode(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	gcm, err := q.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decode opens a scanned code. Anything not sealed with our secret is a validation error.
func (q *QRGenerator) Decode(code string) (*Payload, error) {
	raw, err := base64.URLEncoding.DecodeString(code)
	if err != nil {
		return nil, fmt.Errorf("unreadable check-in code: %w", domain.ErrValidation)
	}
	gcm, err := q.aead()
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("short check-in code: %w", domain.ErrValidation)
	}
	data, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("check-in code not issued here: %w", domain.ErrValidation)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("check-in code payload: %w", domain.ErrValidation)
	}
	return &p, nil
}

// CheckIn decodes a scanned code and moves the reservation to checked_in.
func (q *QRGenerator) CheckIn(ctx context.Context, code, actor string) (*models.Reservation, error) {
	p, err := q.Decode(code)
	if err != nil {
		return nil, err
	}
	r, err := q.reservations.Get(ctx, p.ReservationID)
	if err != nil {
		return nil, err
	}
	if r.EventID != p.EventID {
		return nil, fmt.Errorf("check-in code does not match the event of %s: %w", r.ID, domain.ErrValidation)
	}
	return q.reservations.CheckIn(ctx, r.ID, actor)
}

func (q *QRGenerator) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(q.secret)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
