package reservation_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-reservations/internal/sse"

	"github.com/go-chi/chi/v5"
)

const heartbeatInterval = 25 * time.Second

// StreamCapacity pushes the event's remaining capacity as server-sent events: one
// snapshot on connect, then one message per capacity movement.
func (h *Handler) StreamCapacity(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	view, err := h.Reservations.Remaining(ctx, eventID)
	if err != nil {
		h.writeError(w, "StreamCapacity", err)
		return
	}

	setupSSEHeaders(w)
	updates := h.Emitter.Subscribe(ctx, eventID)

	h.writeEvent(w, "capacity", sse.CapacityUpdate{EventID: eventID, Remaining: view.Remaining, At: time.Now().UTC()})
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to capacity stream for event %s (%d clients)", eventID, h.Emitter.ClientCount(eventID)))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			h.writeEvent(w, "capacity", u)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client left capacity stream for event %s", eventID))
			return
		}
	}
}

func (h *Handler) writeEvent(w http.ResponseWriter, name string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize %s event: %v", name, err))
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
