package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/klimadev/chamalead-sub000/internal/sse"
	"github.com/klimadev/chamalead-sub000/internal/util"
)

// EventsHandler streams pairing session events to the connect dialog.
type EventsHandler struct {
	broker *sse.Broker
}

func NewEventsHandler(broker *sse.Broker) *EventsHandler {
	return &EventsHandler{broker: broker}
}

// GET /admin/pairing/events?instance=<id>
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	instanceID := r.URL.Query().Get("instance")
	if !util.IsValidInstanceName(instanceID) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid instance"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(instanceID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("instance", instanceID).
		Int("clients", h.broker.ClientCount(instanceID)).
		Msg("pairing event stream established")

	ctx := r.Context()

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("instance", instanceID).
				Msg("pairing event stream closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("instance", instanceID).
				Msg("pairing event stream closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("instance", instanceID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
