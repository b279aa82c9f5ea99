package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/conduit-run/conduitd/internal/config"
	"github.com/conduit-run/conduitd/internal/eventbus"
	"github.com/conduit-run/conduitd/internal/permission"
	"github.com/conduit-run/conduitd/internal/session"
	"github.com/conduit-run/conduitd/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store, *eventbus.Bus, *httptest.Server) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New()
	perm := permission.New(st)
	mgr := session.New(&config.Config{
		Bridge:   config.BridgeConfig{PortRangeStart: 19200, PortRangeEnd: 19210},
		Sessions: config.SessionsConfig{MaxActive: 8},
	}, st, bus, perm)

	s := New(mgr, bus, st)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, st, bus, ts
}

func createTestSession(t *testing.T, st *store.Store) string {
	t.Helper()
	id := uuid.New().String()
	require.NoError(t, st.CreateSession(context.Background(), &store.Session{
		ID: id, Name: "s1", Status: "idle", CreatedAt: time.Now(),
	}))
	return id
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestHandleConsumerWS_SendsConnectedFrame(t *testing.T) {
	_, st, _, ts := newTestServer(t)
	id := createTestSession(t, st)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/sessions/"+id+"/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame consumerOutbound
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "connected", frame.Event)
	require.Equal(t, id, frame.SessionID)
}

func TestHandleConsumerWS_UnknownActionReturnsErrorFrame(t *testing.T) {
	_, st, _, ts := newTestServer(t)
	id := createTestSession(t, st)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/sessions/"+id+"/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var connected consumerOutbound
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "not-a-real-action"}))

	var frame consumerOutbound
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "error", frame.Event)
	require.Equal(t, "unknown action", frame.Message)
}

func TestHandleConsumerWS_MessageActionErrorsWhenSessionNotLive(t *testing.T) {
	_, st, _, ts := newTestServer(t)
	id := createTestSession(t, st)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/sessions/"+id+"/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var connected consumerOutbound
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "message", "content": "hello"}))

	var frame consumerOutbound
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "error", frame.Event)
	require.NotEmpty(t, frame.Message, "a session not known to the manager must surface an error, not hang")
}

func TestHandleConsumerWS_SessionNotFoundIs404(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/sessions/does-not-exist/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleSSE_ForwardsBusEventsVerbatim(t *testing.T) {
	_, st, bus, ts := newTestServer(t)
	id := createTestSession(t, st)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sessions/"+id+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// give the handler a moment to subscribe before emitting.
	time.Sleep(50 * time.Millisecond)
	bus.Emit(eventbus.Event{Type: "session.closed", SessionID: id})

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: session.closed\n", line)
}
