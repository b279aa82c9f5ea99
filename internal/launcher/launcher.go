// Package launcher spawns and supervises a single agent subprocess: argv
// construction, a bounded stderr capture, and a spawn/exit-watcher/
// Close-once shape adapted from a PTY-attached child process supervisor
// into a plain stdio child with no controlling terminal.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/conduit-run/conduitd/internal/conduiterr"
	"github.com/conduit-run/conduitd/internal/logging"
)

var log = logging.For("launcher")

const (
	stderrCap = 4 * 1024
	killGrace = 5 * time.Second
)

// Spec describes how to build and run the agent subprocess.
type Spec struct {
	BinaryPath         string
	SDKURL             string
	Model              string
	PermissionMode     string
	ResumeSessionID    string
	ForkSession        bool
	SystemPrompt       string
	AppendSystemPrompt string
	AccessToken        string
}

// BuildArgv constructs the argv for the agent CLI. The SDK-url flag is
// mandatory; all others are appended only when non-empty.
func (s Spec) BuildArgv() []string {
	argv := []string{"--sdk-url", s.SDKURL}
	if s.Model != "" {
		argv = append(argv, "--model", s.Model)
	}
	if s.PermissionMode != "" {
		argv = append(argv, "--permission-mode", s.PermissionMode)
	}
	if s.ResumeSessionID != "" {
		argv = append(argv, "--resume", s.ResumeSessionID)
	}
	if s.ForkSession {
		argv = append(argv, "--fork-session")
	}
	if s.SystemPrompt != "" {
		argv = append(argv, "--system-prompt", s.SystemPrompt)
	}
	if s.AppendSystemPrompt != "" {
		argv = append(argv, "--append-system-prompt", s.AppendSystemPrompt)
	}
	return argv
}

// ValidPermissionModes enumerates the permission modes the agent CLI
// accepts. Any other value must be rejected before spawn with a
// validation error.
var ValidPermissionModes = map[string]bool{
	"acceptEdits":        true,
	"bypassPermissions":  true,
	"default":            true,
	"delegate":           true,
	"dontAsk":            true,
	"plan":               true,
}

// Process supervises one spawned agent subprocess.
type Process struct {
	cmd    *exec.Cmd
	pid    int
	stderr *ringBuffer

	mu       sync.Mutex
	exited   bool
	exitErr  error
	onExit   []func(error)
	closed   chan struct{}
	closeOne sync.Once
}

// Spawn starts the agent subprocess described by spec. It fails
// synchronously with a *conduiterr.Error of KindSpawn if no PID is
// produced.
func Spawn(spec Spec) (*Process, error) {
	if spec.PermissionMode != "" && !ValidPermissionModes[spec.PermissionMode] {
		return nil, conduiterr.NewValidationError(fmt.Sprintf("invalid permission mode %q", spec.PermissionMode), nil)
	}

	cmd := exec.Command(spec.BinaryPath, spec.BuildArgv()...)
	cmd.Env = os.Environ()
	if spec.AccessToken != "" {
		cmd.Env = append(cmd.Env, "CONDUIT_ACCESS_TOKEN="+spec.AccessToken)
	}

	rb := newRingBuffer(stderrCap)
	cmd.Stderr = rb
	cmd.Stdout = nil

	if err := cmd.Start(); err != nil {
		return nil, conduiterr.NewSpawnError("failed to start agent subprocess", err)
	}
	if cmd.Process == nil {
		return nil, conduiterr.NewSpawnError("agent subprocess produced no PID", nil)
	}

	p := &Process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		stderr: rb,
		closed: make(chan struct{}),
	}

	go p.waitForExit()

	return p, nil
}

// PID returns the subprocess's process id.
func (p *Process) PID() int { return p.pid }

// GetStderr returns a copy of the captured, bounded stderr output.
func (p *Process) GetStderr() []byte { return p.stderr.Snapshot() }

// OnExit registers a callback invoked exactly once when the subprocess
// exits, with the exit error (nil on clean exit).
func (p *Process) OnExit(cb func(error)) {
	p.mu.Lock()
	if p.exited {
		err := p.exitErr
		p.mu.Unlock()
		cb(err)
		return
	}
	p.onExit = append(p.onExit, cb)
	p.mu.Unlock()
}

// Done returns a channel closed once the subprocess has exited.
func (p *Process) Done() <-chan struct{} { return p.closed }

func (p *Process) waitForExit() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	p.exitErr = err
	callbacks := p.onExit
	p.onExit = nil
	p.mu.Unlock()

	p.closeOne.Do(func() { close(p.closed) })

	for _, cb := range callbacks {
		cb(err)
	}
}

// Kill sends a graceful termination signal, then escalates to an
// uncatchable one if the process has not exited after the 5-second grace
// window.
func (p *Process) Kill() {
	if p.cmd.Process == nil {
		return
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.WithError(err).WithField("pid", p.pid).Debug("SIGTERM failed, process likely already gone")
	}

	select {
	case <-p.closed:
		return
	case <-time.After(killGrace):
	}

	select {
	case <-p.closed:
		return
	default:
		_ = p.cmd.Process.Kill()
	}
}
