package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conduit-run/conduitd/internal/eventbus"
	"github.com/conduit-run/conduitd/internal/protocol"
)

func TestDispatch_SystemInit(t *testing.T) {
	bus := eventbus.New()
	var events []eventbus.Event
	bus.Subscribe(func(e eventbus.Event) { events = append(events, e) }, "")

	var gotInit protocol.SystemMessage
	cb := Callbacks{OnSystemInit: func(m protocol.SystemMessage) { gotInit = m }}

	raw := json.RawMessage(`{"type":"system","subtype":"init","session_id":"agent-1","model":"opus"}`)
	Dispatch(bus, "s1", raw, cb)

	require.Equal(t, "agent-1", gotInit.SessionID)
	require.Len(t, events, 1)
	require.Equal(t, "session.message", events[0].Type)
}

func TestDispatch_Result(t *testing.T) {
	bus := eventbus.New()
	var events []eventbus.Event
	bus.Subscribe(func(e eventbus.Event) { events = append(events, e) }, "")

	var got protocol.ResultMessage
	cb := Callbacks{OnResult: func(m protocol.ResultMessage) { got = m }}

	raw := json.RawMessage(`{"type":"result","subtype":"success","total_cost_usd":0.05,"usage":{"input_tokens":100,"output_tokens":50}}`)
	Dispatch(bus, "s1", raw, cb)

	require.Equal(t, 0.05, got.TotalCostUSD)
	require.Equal(t, 100, got.Usage.InputTokens)
	require.Len(t, events, 1)
	require.Equal(t, "session.result", events[0].Type)
}

func TestDispatch_CanUseToolOnlyInvokesPermissionCallback(t *testing.T) {
	bus := eventbus.New()
	var events []eventbus.Event
	bus.Subscribe(func(e eventbus.Event) { events = append(events, e) }, "")

	var got protocol.ControlRequest
	cb := Callbacks{OnPermissionRequest: func(r protocol.ControlRequest) { got = r }}

	raw := json.RawMessage(`{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool","tool_name":"Bash","tool_input":{"command":"ls"}}}`)
	Dispatch(bus, "s1", raw, cb)

	require.Equal(t, "r1", got.RequestID)
	require.Empty(t, events, "can_use_tool must not emit a bus event")
}

func TestDispatch_KeepAliveIsIgnored(t *testing.T) {
	bus := eventbus.New()
	var events []eventbus.Event
	bus.Subscribe(func(e eventbus.Event) { events = append(events, e) }, "")

	Dispatch(bus, "s1", json.RawMessage(`{"type":"keep_alive"}`), Callbacks{})
	require.Empty(t, events)
}

func TestDispatch_UnknownTypeForwardsAsSessionMessage(t *testing.T) {
	bus := eventbus.New()
	var events []eventbus.Event
	bus.Subscribe(func(e eventbus.Event) { events = append(events, e) }, "")

	Dispatch(bus, "s1", json.RawMessage(`{"type":"something_new"}`), Callbacks{})
	require.Len(t, events, 1)
	require.Equal(t, "session.message", events[0].Type)
}

func TestDispatch_StreamEventAndToolProgressBothEmitStreamEvent(t *testing.T) {
	bus := eventbus.New()
	var events []eventbus.Event
	bus.Subscribe(func(e eventbus.Event) { events = append(events, e) }, "")

	Dispatch(bus, "s1", json.RawMessage(`{"type":"stream_event"}`), Callbacks{})
	Dispatch(bus, "s1", json.RawMessage(`{"type":"tool_progress"}`), Callbacks{})

	require.Len(t, events, 2)
	require.Equal(t, "stream.event", events[0].Type)
	require.Equal(t, "stream.event", events[1].Type)
}
