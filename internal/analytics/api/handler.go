package analytics_api

import (
	"fmt"
	"net/http"

	"ms-reservations/internal/analytics"
	"ms-reservations/internal/domain"
	"ms-reservations/internal/logger"
	"ms-reservations/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

// NewHandler creates a new analytics handler
func NewHandler(service *analytics.Service, logger *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

// RegisterRoutes registers the analytics routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events/{eventId}/occupancy", h.GetOccupancy)
}

func (h *Handler) GetOccupancy(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	h.Logger.Debug("API", fmt.Sprintf("GetOccupancy: eventId=%s", eventID))

	occ, err := h.Service.GetOccupancy(r.Context(), eventID)
	if err != nil {
		status := http.StatusInternalServerError
		if domain.IsNotFound(err) {
			status = http.StatusNotFound
		}
		h.Logger.Error("API", fmt.Sprintf("GetOccupancy: %v", err))
		_ = utils.WriteJSON(w, status, utils.ErrorResponse("Could not build occupancy report", err.Error()))
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Occupancy report", occ))
}
