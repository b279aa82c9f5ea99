// Package router implements a pure dispatch function: it performs no I/O
// and holds no state, reading just enough of each inbound frame to pick a
// callback and a bus event type.
package router

import (
	"encoding/json"

	"github.com/conduit-run/conduitd/internal/eventbus"
	"github.com/conduit-run/conduitd/internal/logging"
	"github.com/conduit-run/conduitd/internal/protocol"
)

var log = logging.For("router")

// Callbacks are the nullable typed handlers the session manager installs.
type Callbacks struct {
	OnSystemInit        func(protocol.SystemMessage)
	OnAssistant         func(json.RawMessage)
	OnStreamEvent       func(json.RawMessage)
	OnResult            func(protocol.ResultMessage)
	OnPermissionRequest func(protocol.ControlRequest)
}

// Dispatch routes one parsed inbound message for sessionID, invoking the
// matching callback (if non-nil and installed) and publishing the
// corresponding bus event.
func Dispatch(bus *eventbus.Bus, sessionID string, raw json.RawMessage, cb Callbacks) {
	var envelope protocol.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.WithError(err).Warn("inbound frame missing a type discriminator")
		return
	}

	switch envelope.Type {
	case protocol.TypeSystem:
		dispatchSystem(bus, sessionID, raw, cb)

	case protocol.TypeAssistant:
		if cb.OnAssistant != nil {
			cb.OnAssistant(raw)
		}
		bus.Emit(eventbus.Event{Type: "session.message", SessionID: sessionID, Data: raw})

	case protocol.TypeStreamEvent, protocol.TypeToolProgress:
		if cb.OnStreamEvent != nil {
			cb.OnStreamEvent(raw)
		}
		bus.Emit(eventbus.Event{Type: "stream.event", SessionID: sessionID, Data: raw})

	case protocol.TypeResult:
		dispatchResult(bus, sessionID, raw, cb)

	case protocol.TypeControlRequest:
		dispatchControlRequest(bus, sessionID, raw, cb)

	case protocol.TypeKeepAlive:
		// no event, no callback; nothing downstream depends on ever
		// receiving one.

	default:
		log.WithField("type", envelope.Type).Warn("unknown inbound message type; forwarding as generic session message")
		bus.Emit(eventbus.Event{Type: "session.message", SessionID: sessionID, Data: raw})
	}
}

func dispatchSystem(bus *eventbus.Bus, sessionID string, raw json.RawMessage, cb Callbacks) {
	var msg protocol.SystemMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.WithError(err).Warn("malformed system message")
		return
	}

	if msg.Subtype == protocol.SubtypeInit && cb.OnSystemInit != nil {
		cb.OnSystemInit(msg)
	}
	bus.Emit(eventbus.Event{Type: "session.message", SessionID: sessionID, Data: raw})
}

func dispatchResult(bus *eventbus.Bus, sessionID string, raw json.RawMessage, cb Callbacks) {
	var msg protocol.ResultMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.WithError(err).Warn("malformed result message")
		return
	}

	if cb.OnResult != nil {
		cb.OnResult(msg)
	}
	bus.Emit(eventbus.Event{Type: "session.result", SessionID: sessionID, Data: raw})
}

func dispatchControlRequest(bus *eventbus.Bus, sessionID string, raw json.RawMessage, cb Callbacks) {
	var msg protocol.ControlRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.WithError(err).Warn("malformed control_request message")
		return
	}

	switch msg.Request.Subtype {
	case protocol.SubtypeInit:
		// treated as a system/init equivalent
		if cb.OnSystemInit != nil {
			cb.OnSystemInit(protocol.SystemMessage{Type: protocol.TypeSystem, Subtype: protocol.SubtypeInit})
		}
		bus.Emit(eventbus.Event{Type: "session.message", SessionID: sessionID, Data: raw})

	case protocol.SubtypeCanUseTool:
		if cb.OnPermissionRequest != nil {
			cb.OnPermissionRequest(msg)
		}
		// permission callback only — no bus event.

	default:
		log.WithField("subtype", msg.Request.Subtype).Warn("unknown control_request subtype")
		bus.Emit(eventbus.Event{Type: "session.message", SessionID: sessionID, Data: raw})
	}
}
