package reservation_api

import (
	"fmt"
	"net/http"

	"ms-reservations/internal/auth"
	"ms-reservations/internal/models"
	"ms-reservations/internal/pricing"
	"ms-reservations/internal/reservation"
	"ms-reservations/internal/waitlist"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var in reservation.CreateInput
	if err := h.decode(r, &in); err != nil {
		h.writeError(w, "CreateReservation", err)
		return
	}
	in.Actor = auth.UserID(r.Context())
	h.Logger.Debug("API", fmt.Sprintf("CreateReservation: event=%s mode=%s persons=%d", in.EventID, in.Mode, in.NumberOfPersons))

	res, err := h.Reservations.CreateReservation(r.Context(), in)
	if err != nil {
		h.writeError(w, "CreateReservation", err)
		return
	}
	h.writeOK(w, http.StatusCreated, "Reservation created", res)
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.Reservations.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "GetReservation", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Reservation", res)
}

type quoteRequest struct {
	EventID string `json:"event_id"`
	pricing.Request
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, "Quote", err)
		return
	}
	snap, err := h.Reservations.ComputePrice(r.Context(), req.EventID, req.Request)
	if err != nil {
		h.writeError(w, "Quote", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Price quote", snap)
}

func (h *Handler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	view, err := h.Reservations.Remaining(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.writeError(w, "GetCapacity", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Remaining capacity", view)
}

func (h *Handler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	png, err := h.QR.Generate(r.Context(), id)
	if err != nil {
		h.writeError(w, "GetQRCode", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "checkin-"+id+".png"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetQRCode: write failed: %v", err))
	}
}

func (h *Handler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	var req models.WaitlistJoinRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, "JoinWaitlist", err)
		return
	}
	req.EventID = chi.URLParam(r, "eventId")

	entry, err := h.Waitlist.Join(r.Context(), req)
	if err != nil {
		h.writeError(w, "JoinWaitlist", err)
		return
	}
	h.writeOK(w, http.StatusCreated, "Added to waitlist", entry)
}

func (h *Handler) ConvertOffer(w http.ResponseWriter, r *http.Request) {
	var in waitlist.ConvertInput
	if err := h.decode(r, &in); err != nil {
		h.writeError(w, "ConvertOffer", err)
		return
	}
	res, err := h.Waitlist.Convert(r.Context(), in)
	if err != nil {
		h.writeError(w, "ConvertOffer", err)
		return
	}
	h.writeOK(w, http.StatusCreated, "Waitlist offer converted", res)
}
