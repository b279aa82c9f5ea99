package httpapi

import (
	"encoding/json"

	"github.com/conduit-run/conduitd/internal/eventbus"
)

// consumerOutbound is the outbound frame shape for the external-consumer
// WebSocket.
type consumerOutbound struct {
	Event     string          `json:"event"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
}

type envelopePeek struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

// translateForConsumer maps one internal bus event onto the
// external-consumer vocabulary. Bus events this package has no
// translation for are dropped, not forwarded raw —
// the consumer WebSocket is a deliberately narrower surface than the SSE
// stream, which forwards every bus event type unfiltered.
func translateForConsumer(ev eventbus.Event) (consumerOutbound, bool) {
	switch ev.Type {
	case "session.message":
		raw, ok := ev.Data.(json.RawMessage)
		if !ok {
			return consumerOutbound{}, false
		}
		var peek envelopePeek
		_ = json.Unmarshal(raw, &peek)
		switch {
		case peek.Type == "system" && peek.Subtype == "init":
			return consumerOutbound{Event: "system_init", SessionID: ev.SessionID, Data: raw}, true
		case peek.Type == "assistant":
			return consumerOutbound{Event: "assistant", SessionID: ev.SessionID, Data: raw}, true
		default:
			return consumerOutbound{}, false
		}

	case "stream.event":
		raw, ok := ev.Data.(json.RawMessage)
		if !ok {
			return consumerOutbound{}, false
		}
		return consumerOutbound{Event: "stream_event", SessionID: ev.SessionID, Data: raw}, true

	case "session.result":
		raw, ok := ev.Data.(json.RawMessage)
		if !ok {
			return consumerOutbound{}, false
		}
		return consumerOutbound{Event: "result", SessionID: ev.SessionID, Data: raw}, true

	case "session.error":
		reason, _ := ev.Data.(map[string]string)
		return consumerOutbound{Event: "error", SessionID: ev.SessionID, Message: reason["reason"]}, true

	case "session.closed":
		return consumerOutbound{Event: "session_status", SessionID: ev.SessionID, Status: "closed"}, true

	default:
		return consumerOutbound{}, false
	}
}
