package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-assistant/internal/assistant"
	"github.com/capitalize-ai/listing-assistant/internal/middleware"
	"github.com/capitalize-ai/listing-assistant/internal/model"
	"github.com/capitalize-ai/listing-assistant/pkg/logger"
	"github.com/capitalize-ai/listing-assistant/pkg/metrics"
)

const defaultHeartbeat = 30 * time.Second

// EventsHandler streams session events over server-sent events.
type EventsHandler struct {
	registry  *assistant.Registry
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(registry *assistant.Registry, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		registry:  registry,
		logger:    logger.OrGlobal(log),
		heartbeat: defaultHeartbeat,
	}
}

// Stream handles GET /api/v1/assistant/events
// The first event is a "snapshot" of the session; every later event is
// named after its model.EventType.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctrl := h.registry.Get(ctx, sessionID)
	events, cancel := ctrl.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	if err := sendSSEEvent(w, flusher, "snapshot", ctrl.Snapshot()); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("session_id", sessionID))
			return

		case ev, ok := <-events:
			if !ok {
				// Session evicted or closed.
				return
			}
			if err := sendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				h.logger.Debug("SSE write failed", zap.String("session_id", sessionID), zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
