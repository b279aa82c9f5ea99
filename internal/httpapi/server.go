// Package httpapi is a thin HTTP/WebSocket binding: an external-consumer
// WebSocket, an SSE stream, and a Prometheus /metrics endpoint. It exists
// to make the core reachable end to end; a general-purpose REST surface
// is out of scope, so this package implements exactly those two wire
// contracts.
package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conduit-run/conduitd/internal/eventbus"
	"github.com/conduit-run/conduitd/internal/logging"
	"github.com/conduit-run/conduitd/internal/session"
	"github.com/conduit-run/conduitd/internal/store"
)

var log = logging.For("httpapi")

// Server wires the session manager and event bus behind an http.Handler.
type Server struct {
	mgr      *session.Manager
	bus      *eventbus.Bus
	store    *store.Store
	upgrader websocket.Upgrader
}

func New(mgr *session.Manager, bus *eventbus.Bus, st *store.Store) *Server {
	return &Server{
		mgr:   mgr,
		bus:   bus,
		store: st,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed http.Handler, in the shape Go 1.22+'s
// pattern-based ServeMux supports natively (path wildcards, method
// prefixes) — no router library is needed for two routes plus /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/{id}/ws", s.handleConsumerWS)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleSSE)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}
