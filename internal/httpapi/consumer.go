package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/conduit-run/conduitd/internal/eventbus"
)

// consumerInbound is the inbound frame shape for the external-consumer
// WebSocket.
type consumerInbound struct {
	Action  string `json:"action"`
	Content string `json:"content"`
}

// handleConsumerWS upgrades one external consumer's connection and fans
// this session's bus events out to it. Unlike the agent-facing bridge,
// more than one consumer may attach to the same session, so no previous
// connection is closed here.
func (s *Server) handleConsumerWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("consumer websocket upgrade failed")
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(frame consumerOutbound) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(frame); err != nil {
			log.WithError(err).Debug("failed to write consumer frame")
		}
	}

	write(consumerOutbound{Event: "connected", SessionID: sessionID})

	sub := s.bus.Subscribe(func(ev eventbus.Event) {
		if out, ok := translateForConsumer(ev); ok {
			write(out)
		}
	}, sessionID)
	defer sub.Unsubscribe()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var in consumerInbound
		if err := json.Unmarshal(data, &in); err != nil {
			write(consumerOutbound{Event: "error", SessionID: sessionID, Message: "malformed frame"})
			continue
		}

		switch in.Action {
		case "message":
			if err := s.mgr.SendMessage(r.Context(), sessionID, in.Content); err != nil {
				write(consumerOutbound{Event: "error", SessionID: sessionID, Message: err.Error()})
			}
		case "interrupt":
			if err := s.mgr.Interrupt(r.Context(), sessionID); err != nil {
				write(consumerOutbound{Event: "error", SessionID: sessionID, Message: err.Error()})
			}
		default:
			write(consumerOutbound{Event: "error", SessionID: sessionID, Message: "unknown action"})
		}
	}
}
