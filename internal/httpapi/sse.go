package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/conduit-run/conduitd/internal/eventbus"
)

// handleSSE streams this session's bus events verbatim, one SSE event per
// bus event, in the literal `event: <bus-event-type>\ndata: <json>\n\n`
// format. Unlike the consumer WebSocket, nothing here is translated into
// a narrower vocabulary.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan eventbus.Event, 32)
	sub := s.bus.Subscribe(func(ev eventbus.Event) {
		select {
		case events <- ev:
		default:
			log.WithField("session_id", sessionID).Warn("SSE subscriber channel full, dropping event")
		}
	}, sessionID)
	defer sub.Unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
