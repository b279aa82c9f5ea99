// Package bridge implements a per-session WebSocket server: a local
// listener the agent subprocess dials into, rather than an outbound
// connection to a remote control plane. The server-side
// upgrade/one-client/replace-on-reconnect shape is grounded on
// other_examples/amurg-ai-amurg__router.go's HandleRuntimeWS, while the
// mutex-guarded-connection, one-shot onConnect, and Send-that-never-
// propagates-errors idioms carry over from a comparable dialing client.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/conduit-run/conduitd/internal/logging"
	"github.com/conduit-run/conduitd/internal/metrics"
	"github.com/conduit-run/conduitd/internal/protocol"
)

var log = logging.For("bridge")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Bridge is one session's ephemeral WebSocket server: a single-port
// listener accepting exactly one attached client.
type Bridge struct {
	port     int
	listener net.Listener
	server   *http.Server

	mu         sync.Mutex
	conn       *websocket.Conn
	parser     *protocol.Parser
	onMessage  protocol.LineHandler
	onConnect  func()
	connectFired bool
}

// Listen binds a WebSocket server to localhost:port. Failure here must
// propagate as a failed acquisition so the caller can release the port
// and mark the session errored.
func Listen(port int) (*Bridge, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}

	b := &Bridge{port: port, listener: ln}
	b.parser = protocol.NewParser(func(raw json.RawMessage) {
		b.mu.Lock()
		handler := b.onMessage
		b.mu.Unlock()
		if handler != nil {
			handler(raw)
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handleUpgrade)
	b.server = &http.Server{Handler: mux}

	go func() {
		if err := b.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithField("port", port).Warn("bridge listener stopped")
		}
	}()

	return b, nil
}

// Port returns the bound port.
func (b *Bridge) Port() int { return b.port }

// OnMessage installs the callback invoked for every fully-parsed inbound
// NDJSON value.
func (b *Bridge) OnMessage(handler protocol.LineHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMessage = handler
}

// OnConnect installs a callback that fires the first time a client
// connects after installation. If a client is already attached when
// OnConnect is called, it fires immediately.
func (b *Bridge) OnConnect(cb func()) {
	b.mu.Lock()
	alreadyConnected := b.conn != nil
	b.onConnect = cb
	b.connectFired = false
	b.mu.Unlock()

	if alreadyConnected {
		b.fireConnect()
	}
}

func (b *Bridge) fireConnect() {
	b.mu.Lock()
	cb := b.onConnect
	already := b.connectFired
	b.connectFired = true
	b.mu.Unlock()

	if !already && cb != nil {
		cb()
	}
}

func (b *Bridge) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("bridge upgrade failed")
		return
	}

	b.mu.Lock()
	previous := b.conn
	b.conn = conn
	b.mu.Unlock()

	if previous != nil {
		// One-client policy: an older connection is closed with a normal
		// closure and replaced.
		metrics.BridgeReplacedConnections.Inc()
		_ = previous.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced by new connection"))
		_ = previous.Close()
	}

	b.fireConnect()
	go b.readLoop(conn)
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			b.handleDisconnect(conn)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		b.parser.Feed(protocol.EnsureTerminated(data))
	}
}

func (b *Bridge) handleDisconnect(conn *websocket.Conn) {
	b.parser.Flush()

	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
}

// IsConnected reports whether a client is currently attached.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Send serializes msg as one NDJSON line and writes it as a text frame. If
// no client is attached, this is a no-op that logs a warning — the caller
// is expected to have gated on IsConnected. Serialization and I/O errors
// are logged and swallowed; the bridge never propagates send failures.
func (b *Bridge) Send(msg any) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		log.Warn("send called with no client attached; dropping frame")
		return
	}

	line, err := protocol.Serialize(msg)
	if err != nil {
		log.WithError(err).Error("failed to serialize outbound frame")
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
		log.WithError(err).Warn("failed to write outbound frame")
	}
}

// Close shuts down the listener and, if attached, the current connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return b.server.Shutdown(ctx)
}
