package reservation_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ms-reservations/internal/bulk"
	"ms-reservations/internal/checkin"
	"ms-reservations/internal/domain"
	"ms-reservations/internal/logger"
	"ms-reservations/internal/reservation"
	"ms-reservations/internal/sse"
	"ms-reservations/internal/utils"
	"ms-reservations/internal/waitlist"

	"github.com/go-chi/chi/v5"
)

// OptionSweeper triggers an immediate option expiry pass. The expiry scheduler
// implements it so manual runs share the overlap guard with the ticker.
type OptionSweeper interface {
	ExpireOptionsNow(ctx context.Context) (*reservation.SweepResult, error)
}

type Handler struct {
	Reservations *reservation.Service
	Waitlist     *waitlist.Service
	Bulk         *bulk.Coordinator
	Sweeper      OptionSweeper
	QR           *checkin.QRGenerator
	Emitter      *sse.CapacityEmitter
	Logger       *logger.Logger
}

func NewHandler(
	reservations *reservation.Service,
	wl *waitlist.Service,
	coordinator *bulk.Coordinator,
	sweeper OptionSweeper,
	qr *checkin.QRGenerator,
	emitter *sse.CapacityEmitter,
	log *logger.Logger,
) *Handler {
	return &Handler{
		Reservations: reservations,
		Waitlist:     wl,
		Bulk:         coordinator,
		Sweeper:      sweeper,
		QR:           qr,
		Emitter:      emitter,
		Logger:       log,
	}
}

// RegisterPublicRoutes mounts the customer facing endpoints.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/reservations", h.CreateReservation)
	r.Get("/reservations/{id}", h.GetReservation)
	r.Get("/reservations/{id}/qr", h.GetQRCode)
	r.Post("/pricing/quote", h.Quote)
	r.Get("/events/{eventId}/capacity", h.GetCapacity)
	r.Get("/events/{eventId}/capacity/stream", h.StreamCapacity)
	r.Post("/events/{eventId}/waitlist", h.JoinWaitlist)
	r.Post("/waitlist/convert", h.ConvertOffer)
}

// RegisterAdminRoutes mounts the staff endpoints. The caller is responsible for the
// auth and role middleware.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/events", h.OpenEvent)
	r.Get("/events/{eventId}/reservations", h.ListReservations)
	r.Post("/events/{eventId}/reconcile", h.Reconcile)
	r.Get("/events/{eventId}/waitlist", h.ListWaitlist)
	r.Delete("/waitlist/{entryId}", h.CancelWaitlistEntry)

	r.Post("/reservations/bulk-status", h.BulkStatusChange)
	r.Route("/reservations/{id}", func(r chi.Router) {
		r.Post("/confirm", h.Confirm)
		r.Post("/reject", h.Reject)
		r.Post("/cancel", h.Cancel)
		r.Post("/convert", h.ConvertOption)
		r.Post("/extend-option", h.ExtendOption)
		r.Post("/archive", h.Archive)
		r.Post("/pay", h.MarkAsPaid)
		r.Put("/payment-status", h.SetPaymentStatus)
		r.Put("/price-override", h.SetPriceOverride)
		r.Delete("/price-override", h.ClearPriceOverride)
		r.Post("/notes", h.AddNote)
		r.Put("/tags", h.SetTags)
		r.Delete("/", h.DeleteReservation)
	})

	r.Post("/options/expire", h.ExpireOptionsNow)
	r.Post("/checkin", h.CheckIn)
}

func (h *Handler) decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, domain.ErrValidation)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsConflict(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientCapacity):
		return "insufficient_capacity"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrCapacityConflict), errors.Is(err, domain.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, domain.ErrOfferExpired):
		return "offer_expired"
	case errors.Is(err, domain.ErrOfferUsed):
		return "offer_used"
	case domain.IsValidation(err):
		return "validation"
	case domain.IsNotFound(err):
		return "not_found"
	}
	return "internal"
}

// writeError maps domain errors onto HTTP statuses. A capacity shortfall carries the
// remaining count and, when the party fits the event at all, where to join the waitlist.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	}

	resp := utils.ErrorResponse(op+" failed", err.Error())
	resp.Code = codeFor(err)

	var ce *reservation.CapacityError
	if errors.As(err, &ce) {
		details := map[string]interface{}{
			"event_id":           ce.EventID,
			"requested":          ce.Requested,
			"remaining":          ce.Remaining,
			"waitlist_available": ce.WaitlistAvailable,
		}
		if ce.WaitlistAvailable {
			details["waitlist_url"] = fmt.Sprintf("/api/events/%s/waitlist", ce.EventID)
		}
		resp.Details = details
	}
	_ = utils.WriteJSON(w, status, resp)
}

func (h *Handler) writeOK(w http.ResponseWriter, status int, message string, data interface{}) {
	if err := utils.WriteJSON(w, status, utils.SuccessResponse(message, data)); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
