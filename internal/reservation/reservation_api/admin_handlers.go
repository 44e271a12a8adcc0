package reservation_api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ms-reservations/internal/auth"
	"ms-reservations/internal/bulk"
	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"
	resdb "ms-reservations/internal/reservation/db"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

type extendRequest struct {
	Until time.Time `json:"until"`
}

type overrideRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type noteRequest struct {
	Message string `json:"message"`
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

type checkInRequest struct {
	Code string `json:"code"`
}

func (h *Handler) OpenEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.Event
	if err := h.decode(r, &ev); err != nil {
		h.writeError(w, "OpenEvent", err)
		return
	}
	if err := h.Reservations.OpenEvent(r.Context(), &ev); err != nil {
		h.writeError(w, "OpenEvent", err)
		return
	}
	h.writeOK(w, http.StatusCreated, "Event opened", ev)
}

// ListReservations accepts ?status=a,b and ?archived=true.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	var f resdb.Filter
	for _, s := range splitCSV(r.URL.Query().Get("status")) {
		st, err := models.ParseReservationStatus(s)
		if err != nil {
			h.writeError(w, "ListReservations", fmt.Errorf("%v: %w", err, domain.ErrValidation))
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	if v := r.URL.Query().Get("archived"); v != "" {
		archived, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, "ListReservations", fmt.Errorf("archived must be a boolean: %w", domain.ErrValidation))
			return
		}
		f.IncludeArchived = archived
	}

	list, err := h.Reservations.ListByEvent(r.Context(), chi.URLParam(r, "eventId"), f)
	if err != nil {
		h.writeError(w, "ListReservations", err)
		return
	}
	h.writeOK(w, http.StatusOK, fmt.Sprintf("%d reservations", len(list)), list)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	remaining, err := h.Reservations.Reconcile(r.Context(), eventID)
	if err != nil {
		h.writeError(w, "Reconcile", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Capacity reconciled", map[string]interface{}{"event_id": eventID, "remaining": remaining})
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reservations.Confirm(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Confirm", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Reservation confirmed", res)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var body reasonRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, "Reject", err)
		return
	}
	res, err := h.Reservations.Reject(r.Context(), chi.URLParam(r, "id"), body.Reason, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Reject", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Reservation rejected", res)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var body reasonRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, "Cancel", err)
		return
	}
	res, err := h.Reservations.Cancel(r.Context(), chi.URLParam(r, "id"), body.Reason, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Cancel", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Reservation cancelled", res)
}

func (h *Handler) ConvertOption(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reservations.ConvertOption(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "ConvertOption", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Option converted", res)
}

func (h *Handler) ExtendOption(w http.ResponseWriter, r *http.Request) {
	var body extendRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, "ExtendOption", err)
		return
	}
	res, err := h.Reservations.ExtendOption(r.Context(), chi.URLParam(r, "id"), body.Until, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "ExtendOption", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Option extended", res)
}

func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reservations.Archive(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "Archive", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Reservation archived", res)
}

func (h *Handler) DeleteReservation(w http.ResponseWriter, r *http.Request) {
	if err := h.Reservations.Delete(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context())); err != nil {
		h.writeError(w, "DeleteReservation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MarkAsPaid(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reservations.MarkAsPaid(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "MarkAsPaid", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Payment recorded", res)
}

func (h *Handler) SetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var body models.PaymentUpdateRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, "SetPaymentStatus", err)
		return
	}
	status, err := models.ParsePaymentStatus(string(body.Status))
	if err != nil {
		h.writeError(w, "SetPaymentStatus", fmt.Errorf("%v: %w", err, domain.ErrValidation))
		return
	}
	res, err := h.Reservations.SetPaymentStatus(r.Context(), chi.URLParam(r, "id"), status, body.Note, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "SetPaymentStatus", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Payment status updated", res)
}

func (h *Handler) SetPriceOverride(w http.ResponseWriter, r *http.Request) {
	var body overrideRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, "SetPriceOverride", err)
		return
	}
	res, err := h.Reservations.SetPriceOverride(r.Context(), chi.URLParam(r, "id"), body.Amount, body.Reason, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "SetPriceOverride", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Price override set", res)
}

func (h *Handler) ClearPriceOverride(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reservations.ClearPriceOverride(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "ClearPriceOverride", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Price override cleared", res)
}

func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	var body noteRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, "AddNote", err)
		return
	}
	res, err := h.Reservations.AddNote(r.Context(), chi.URLParam(r, "id"), body.Message, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "AddNote", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Note added", res)
}

func (h *Handler) SetTags(w http.ResponseWriter, r *http.Request) {
	var body tagsRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, "SetTags", err)
		return
	}
	res, err := h.Reservations.SetTags(r.Context(), chi.URLParam(r, "id"), body.Tags, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "SetTags", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Tags updated", res)
}

// BulkStatusChange always answers 200 once the request is well formed; per item
// failures are reported in the body.
func (h *Handler) BulkStatusChange(w http.ResponseWriter, r *http.Request) {
	var req bulk.Request
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, "BulkStatusChange", err)
		return
	}
	req.Actor = auth.UserID(r.Context())

	res, err := h.Bulk.Apply(r.Context(), req)
	if err != nil {
		h.writeError(w, "BulkStatusChange", err)
		return
	}
	h.writeOK(w, http.StatusOK, fmt.Sprintf("%d succeeded, %d failed", res.SuccessCount, res.FailureCount), res)
}

func (h *Handler) ExpireOptionsNow(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sweeper.ExpireOptionsNow(r.Context())
	if err != nil {
		h.writeError(w, "ExpireOptionsNow", err)
		return
	}
	h.writeOK(w, http.StatusOK, fmt.Sprintf("%d options expired", res.Expired), res)
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var body checkInRequest
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, "CheckIn", err)
		return
	}
	if body.Code == "" {
		h.writeError(w, "CheckIn", fmt.Errorf("code is required: %w", domain.ErrValidation))
		return
	}
	res, err := h.QR.CheckIn(r.Context(), body.Code, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "CheckIn", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Checked in", res)
}

// ListWaitlist accepts ?status=pending,notified.
func (h *Handler) ListWaitlist(w http.ResponseWriter, r *http.Request) {
	var statuses []models.WaitlistStatus
	for _, s := range splitCSV(r.URL.Query().Get("status")) {
		statuses = append(statuses, models.WaitlistStatus(s))
	}
	entries, err := h.Waitlist.ListByEvent(r.Context(), chi.URLParam(r, "eventId"), statuses...)
	if err != nil {
		h.writeError(w, "ListWaitlist", err)
		return
	}
	h.writeOK(w, http.StatusOK, fmt.Sprintf("%d waitlist entries", len(entries)), entries)
}

func (h *Handler) CancelWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Waitlist.Cancel(r.Context(), chi.URLParam(r, "entryId"))
	if err != nil {
		h.writeError(w, "CancelWaitlistEntry", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Waitlist entry cancelled", entry)
}
