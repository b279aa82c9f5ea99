// Package session implements the session lifecycle state machine that owns
// every other core component: a mutex-guarded map of live entities plus
// typed lifecycle handlers, generalized from tmux pane sessions to
// bridge-backed agent subprocess sessions.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-run/conduitd/internal/bridge"
	"github.com/conduit-run/conduitd/internal/conduiterr"
	"github.com/conduit-run/conduitd/internal/config"
	"github.com/conduit-run/conduitd/internal/eventbus"
	"github.com/conduit-run/conduitd/internal/launcher"
	"github.com/conduit-run/conduitd/internal/logging"
	"github.com/conduit-run/conduitd/internal/metrics"
	"github.com/conduit-run/conduitd/internal/permission"
	"github.com/conduit-run/conduitd/internal/proc"
	"github.com/conduit-run/conduitd/internal/protocol"
	"github.com/conduit-run/conduitd/internal/router"
	"github.com/conduit-run/conduitd/internal/store"
)

var log = logging.For("session-manager")

// connectTimeout is a var, not a const, so tests can shrink it rather than
// wait out the real 15-second production timeout.
var connectTimeout = 15 * time.Second

// Statuses for a session's lifecycle state machine.
const (
	StatusStarting   = "starting"
	StatusIdle       = "idle"
	StatusActive     = "active"
	StatusCompacting = "compacting"
	StatusError      = "error"
	StatusClosed     = "closed"
)

// activeSession is the in-memory record for one live session. Only the
// Manager ever retains this; every other component addresses a session by
// id alone.
type activeSession struct {
	mu        sync.Mutex
	id        string
	projectID string
	port      int
	bridge    *bridge.Bridge
	process   *launcher.Process
	agentID   string
	closing   bool // set before a deliberate Kill, to suppress the unexpected-exit handler
}

// Manager orchestrates the bridge, launcher, permission engine, and store
// behind the session lifecycle state machine.
type Manager struct {
	cfg   *config.Config
	store *store.Store
	bus   *eventbus.Bus
	perm  *permission.Engine
	pool  *portPool

	mu     sync.Mutex
	active map[string]*activeSession
}

func New(cfg *config.Config, st *store.Store, bus *eventbus.Bus, perm *permission.Engine) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  st,
		bus:    bus,
		perm:   perm,
		pool:   newPortPool(cfg.Bridge.PortRangeStart, cfg.Bridge.PortRangeEnd),
		active: make(map[string]*activeSession),
	}
}

// CreateInput is everything the caller supplies to start a new session.
type CreateInput struct {
	ProjectID          string
	Name               string
	Model              string
	PermissionMode     string
	ResumeSessionID    string
	ForkSession        bool
	SystemPrompt       string
	AppendSystemPrompt string
}

// Create spawns a new agent subprocess and suspends until the bridge's
// onConnect fires, the connect timeout elapses, or the subprocess exits —
// whichever comes first.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*store.Session, error) {
	if in.PermissionMode != "" && !launcher.ValidPermissionModes[in.PermissionMode] {
		return nil, conduiterr.NewValidationError(fmt.Sprintf("invalid permission mode %q", in.PermissionMode), nil)
	}
	if in.Name == "" {
		return nil, conduiterr.NewValidationError("session name is required", nil)
	}

	m.mu.Lock()
	if m.cfg.Sessions.MaxActive > 0 && len(m.active) >= m.cfg.Sessions.MaxActive {
		m.mu.Unlock()
		return nil, conduiterr.NewConflictError("global session cap reached", nil)
	}
	m.mu.Unlock()

	port, err := m.pool.Allocate()
	if err != nil {
		return nil, err
	}

	br, err := bridge.Listen(port)
	if err != nil {
		m.pool.Release(port)
		return nil, conduiterr.NewBridgeError("failed to bind bridge listener", err)
	}

	sessionID := uuid.New().String()
	now := time.Now()
	if err := m.store.CreateSession(ctx, &store.Session{
		ID: sessionID, ProjectID: in.ProjectID, Name: in.Name, Status: StatusStarting,
		Model: in.Model, WSPort: port, CreatedAt: now,
	}); err != nil {
		br.Close()
		m.pool.Release(port)
		return nil, conduiterr.NewInternalError("failed to persist session", err)
	}

	// as and its inbound handler must exist before the subprocess is
	// spawned: the subprocess dials the bridge and may send its first
	// frame before this call ever reaches the connect select below, and
	// the bridge drops any frame that arrives with no handler installed.
	as := &activeSession{id: sessionID, projectID: in.ProjectID, port: port, bridge: br}
	br.OnMessage(func(raw json.RawMessage) { m.handleInbound(as, raw) })

	proc, err := launcher.Spawn(launcher.Spec{
		BinaryPath:         m.cfg.CLI.Path,
		SDKURL:             fmt.Sprintf("ws://localhost:%d", port),
		Model:              in.Model,
		PermissionMode:     in.PermissionMode,
		ResumeSessionID:    in.ResumeSessionID,
		ForkSession:        in.ForkSession,
		SystemPrompt:       in.SystemPrompt,
		AppendSystemPrompt: in.AppendSystemPrompt,
		AccessToken:        m.cfg.Security.AccessToken,
	})
	if err != nil {
		br.Close()
		m.pool.Release(port)
		_ = m.store.DeleteSession(ctx, sessionID)
		return nil, err
	}
	_ = m.store.SetCLIPID(ctx, sessionID, proc.PID())

	as.mu.Lock()
	as.process = proc
	as.mu.Unlock()

	m.mu.Lock()
	m.active[sessionID] = as
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()
	metrics.PortsAllocated.Set(float64(m.pool.Count()))

	connectCh := make(chan struct{}, 1)
	exitCh := make(chan error, 1)
	br.OnConnect(func() { nonBlockingSend(connectCh, struct{}{}) })
	proc.OnExit(func(err error) { nonBlockingSendErr(exitCh, err) })

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()

	select {
	case <-connectCh:
		metrics.BridgeConnects.Inc()
		_ = m.store.SetStatus(ctx, sessionID, StatusIdle)
		proc.OnExit(func(err error) { m.handleUnexpectedExit(as, err) })
		return m.store.GetSession(ctx, sessionID)

	case exitErr := <-exitCh:
		return nil, m.failCreate(ctx, as, "cli_failed_to_connect", exitErr)

	case <-timer.C:
		proc.Kill()
		return nil, m.failCreate(ctx, as, "connect_timeout", nil)
	}
}

func nonBlockingSend[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func nonBlockingSendErr(ch chan error, err error) { nonBlockingSend(ch, err) }

// failCreate releases every partially-acquired resource for a session that
// failed to come up, and records the terminal error state.
func (m *Manager) failCreate(ctx context.Context, as *activeSession, reason string, cause error) error {
	m.mu.Lock()
	delete(m.active, as.id)
	m.mu.Unlock()

	as.bridge.Close()
	m.pool.Release(as.port)
	metrics.ActiveSessions.Dec()
	metrics.PortsAllocated.Set(float64(m.pool.Count()))
	metrics.SpawnTerminations.WithLabelValues(reason).Inc()

	errMsg := string(as.process.GetStderr())
	if errMsg == "" && cause != nil {
		errMsg = cause.Error()
	}
	_ = m.store.SetErrorAndClose(ctx, as.id, errMsg, time.Now())

	m.bus.Emit(eventbus.Event{Type: "session.error", SessionID: as.id, Data: map[string]string{"reason": reason}})
	metrics.SessionCreateFailures.WithLabelValues(conduiterr.KindSpawn.String()).Inc()

	return conduiterr.NewSpawnError(fmt.Sprintf("session failed to come up: %s", reason), cause)
}

// handleUnexpectedExit fires when a live (non-starting) session's
// subprocess exits without having been deliberately killed.
func (m *Manager) handleUnexpectedExit(as *activeSession, cause error) {
	as.mu.Lock()
	if as.closing {
		as.mu.Unlock()
		return
	}
	as.mu.Unlock()

	m.mu.Lock()
	if _, ok := m.active[as.id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, as.id)
	m.mu.Unlock()

	as.bridge.Close()
	m.pool.Release(as.port)
	metrics.ActiveSessions.Dec()
	metrics.PortsAllocated.Set(float64(m.pool.Count()))
	metrics.SpawnTerminations.WithLabelValues("unexpected_exit").Inc()

	errMsg := string(as.process.GetStderr())
	if errMsg == "" && cause != nil {
		errMsg = cause.Error()
	}

	ctx := context.Background()
	if err := m.store.SetErrorAndClose(ctx, as.id, errMsg, time.Now()); err != nil {
		log.WithError(err).WithField("session_id", as.id).Error("failed to persist unexpected-exit state")
	}

	m.bus.Emit(eventbus.Event{Type: "session.error", SessionID: as.id, Data: map[string]string{"reason": "unexpected_exit"}})
}

// handleInbound feeds one parsed inbound frame through the router and into
// this session's typed handlers, in arrival order — handleInbound is only
// ever invoked from the bridge's single per-connection read loop, so no
// extra locking is needed to preserve per-session order.
func (m *Manager) handleInbound(as *activeSession, raw json.RawMessage) {
	ctx := context.Background()

	router.Dispatch(m.bus, as.id, raw, router.Callbacks{
		OnSystemInit: func(msg protocol.SystemMessage) { m.onSystemInit(ctx, as, msg) },
		OnResult:     func(msg protocol.ResultMessage) { m.onResult(ctx, as, msg) },
		OnAssistant: func(data json.RawMessage) {
			_ = m.store.AppendMessage(ctx, uuid.New().String(), as.id, "inbound", protocol.TypeAssistant, string(data), time.Now())
		},
		OnPermissionRequest: func(req protocol.ControlRequest) { m.onPermissionRequest(ctx, as, req) },
	})
}

func (m *Manager) onSystemInit(ctx context.Context, as *activeSession, msg protocol.SystemMessage) {
	as.mu.Lock()
	alreadyKnown := as.agentID != ""
	if !alreadyKnown && msg.SessionID != "" {
		as.agentID = msg.SessionID
	}
	as.mu.Unlock()

	if !alreadyKnown && msg.SessionID != "" {
		if err := m.store.SetAgentID(ctx, as.id, msg.SessionID); err != nil {
			log.WithError(err).WithField("session_id", as.id).Warn("failed to persist agent id")
		}
	}

	if err := m.store.SetStatus(ctx, as.id, StatusActive); err != nil {
		log.WithError(err).WithField("session_id", as.id).Warn("failed to persist status transition to active")
	}
}

func (m *Manager) onResult(ctx context.Context, as *activeSession, msg protocol.ResultMessage) {
	if err := m.store.ApplyResult(ctx, as.id, msg.TotalCostUSD, msg.Usage.InputTokens, msg.Usage.OutputTokens, time.Now()); err != nil {
		log.WithError(err).WithField("session_id", as.id).Error("failed to apply result metrics")
	}
	raw, _ := json.Marshal(msg)
	_ = m.store.AppendMessage(ctx, uuid.New().String(), as.id, "inbound", protocol.TypeResult, string(raw), time.Now())
}

func (m *Manager) onPermissionRequest(ctx context.Context, as *activeSession, req protocol.ControlRequest) {
	decision := m.perm.Evaluate(ctx, permission.Request{
		SessionID: as.id,
		ProjectID: as.projectID,
		RequestID: req.RequestID,
		ToolName:  req.Request.ToolName,
		ToolInput: req.Request.ToolInput,
		DecidedBy: "permission-engine",
	})

	response := protocol.NewControlResponse(req.RequestID, protocol.PermissionDecisionIO{
		Behavior:     decision.Behavior,
		UpdatedInput: decision.UpdatedInput,
	})
	as.bridge.Send(response)
}

// SendMessage hands one consumer-authored message into the agent's current
// turn.
func (m *Manager) SendMessage(ctx context.Context, sessionID, content string) error {
	as, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	if !as.bridge.IsConnected() {
		return conduiterr.NewConflictError("session is not connected", nil)
	}

	as.bridge.Send(protocol.NewUserFrame(content))

	if err := m.store.SetStatus(ctx, sessionID, StatusActive); err != nil {
		return conduiterr.NewInternalError("failed to persist status transition", err)
	}

	frame, _ := json.Marshal(protocol.NewUserFrame(content))
	return m.store.AppendMessage(ctx, uuid.New().String(), sessionID, "outbound", "user", string(frame), time.Now())
}

// Interrupt sends {type:"interrupt"}; it causes no state transition.
func (m *Manager) Interrupt(_ context.Context, sessionID string) error {
	as, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	as.bridge.Send(protocol.NewInterruptFrame())
	return nil
}

// Kill terminates a session's subprocess and bridge and marks it closed.
func (m *Manager) Kill(ctx context.Context, sessionID string) error {
	as, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	as.mu.Lock()
	as.closing = true
	as.mu.Unlock()

	m.mu.Lock()
	delete(m.active, sessionID)
	m.mu.Unlock()

	as.process.Kill()
	as.bridge.Close()
	m.pool.Release(as.port)
	metrics.ActiveSessions.Dec()
	metrics.PortsAllocated.Set(float64(m.pool.Count()))

	if err := m.store.CloseSession(ctx, sessionID, time.Now()); err != nil {
		return conduiterr.NewInternalError("failed to persist closed status", err)
	}

	m.bus.Emit(eventbus.Event{Type: "session.closed", SessionID: sessionID})
	return nil
}

func (m *Manager) lookup(sessionID string) (*activeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	as, ok := m.active[sessionID]
	if !ok {
		return nil, conduiterr.NewNotFoundError("session not found or not live", nil)
	}
	return as, nil
}

// OrphanCleanup finds every persisted session whose status is neither
// closed nor error, attempts a graceful termination signal against its
// recorded cli_pid (swallowing "no such process" errors, and skipping the
// signal when proc.Mismatch shows the pid now runs another program), and
// marks it error with closed_at set. It is idempotent: a second run finds
// nothing left to clean up.
func (m *Manager) OrphanCleanup(ctx context.Context) error {
	sessions, err := m.store.ListNonTerminalSessions(ctx)
	if err != nil {
		return fmt.Errorf("list non-terminal sessions: %w", err)
	}

	now := time.Now()
	for _, sess := range sessions {
		if sess.CLIPID > 0 {
			if proc.Mismatch(sess.CLIPID, m.cfg.CLI.Path) {
				log.WithField("session_id", sess.ID).WithField("pid", sess.CLIPID).
					Debug("recorded pid now belongs to a different process; skipping signal")
			} else if err := syscall.Kill(sess.CLIPID, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
				log.WithError(err).WithField("session_id", sess.ID).Warn("unexpected error signalling orphaned subprocess")
			}
		}
		if err := m.store.SetErrorAndClose(ctx, sess.ID, "orphaned on restart", now); err != nil {
			return fmt.Errorf("mark orphan %s as error: %w", sess.ID, err)
		}
	}
	return nil
}

// Shutdown kills every live session and clears the event bus, for a clean
// process exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Kill(ctx, id); err != nil {
			log.WithError(err).WithField("session_id", id).Warn("failed to kill session during shutdown")
		}
	}
	m.bus.Clear()
}
