package process

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
)

// StdioMode selects where child stdout/stderr go
type StdioMode int

const (
	StdioDiscard StdioMode = iota
	StdioInherit
)

func (m StdioMode) String() string {
	switch m {
	case StdioInherit:
		return "inherit"
	default:
		return "discard"
	}
}

func ParseStdioMode(s string) (StdioMode, error) {
	switch strings.ToLower(s) {
	case "discard", "":
		return StdioDiscard, nil
	case "inherit":
		return StdioInherit, nil
	default:
		return StdioDiscard, errors.NewValidationError("unknown output mode: "+s, nil)
	}
}

// LaunchSpec describes how to start one child
type LaunchSpec struct {
	ID               string
	ExecutablePath   string
	Args             []string
	WorkingDirectory string
	Environment      []string
}

func (s LaunchSpec) String() string {
	return strings.TrimSpace(s.ExecutablePath + " " + strings.Join(s.Args, " "))
}

type State int

const (
	StateUnknown State = iota
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// PollResult is a point-in-time view of a child; ExitCode is set only when Exited
type PollResult struct {
	State    State
	ExitCode int
}

func (r PollResult) Running() bool { return r.State == StateRunning }
func (r PollResult) Exited() bool  { return r.State == StateExited }

// Handle wraps one spawned OS process
type Handle struct {
	spec      LaunchSpec
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	done     chan struct{}
	mutex    sync.Mutex
	exitCode int
	exitedAt time.Time
	waitErr  error

	terminateRequests int32
}

// Spawn starts the child and returns immediately. The child gets its own process group.
func Spawn(spec LaunchSpec, stdio StdioMode) (*Handle, error) {
	if err := ValidateLaunchSpec(spec); err != nil {
		return nil, errors.NewSpawnError("invalid launch spec", err).WithContext("id", spec.ID)
	}

	path, err := resolveExecutable(spec.ExecutablePath)
	if err != nil {
		return nil, errors.NewSpawnError("executable not usable", err).
			WithContext("id", spec.ID).
			WithContext("executable_path", spec.ExecutablePath)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = append(os.Environ(), spec.Environment...)

	setupProcessAttributes(cmd)

	if stdio == StdioInherit {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.NewSpawnError("failed to start the process", err).
			WithContext("id", spec.ID).
			WithContext("executable_path", spec.ExecutablePath)
	}

	h := &Handle{
		spec:      spec,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		exitCode:  -1,
	}

	go h.wait()

	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()

	h.mutex.Lock()
	h.waitErr = err
	h.exitedAt = time.Now()
	if h.cmd.ProcessState != nil {
		h.exitCode = h.cmd.ProcessState.ExitCode()
	}
	h.mutex.Unlock()

	close(h.done)
}

func (h *Handle) PID() int              { return h.pid }
func (h *Handle) Spec() LaunchSpec      { return h.spec }
func (h *Handle) StartedAt() time.Time  { return h.startedAt }
func (h *Handle) Done() <-chan struct{} { return h.done }

// Poll never blocks
func (h *Handle) Poll() PollResult {
	select {
	case <-h.done:
		h.mutex.Lock()
		defer h.mutex.Unlock()
		return PollResult{State: StateExited, ExitCode: h.exitCode}
	default:
		return PollResult{State: StateRunning}
	}
}

// ExitedAt is zero while the process runs
func (h *Handle) ExitedAt() time.Time {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.exitedAt
}

// Uptime is measured up to exit for finished processes
func (h *Handle) Uptime() time.Duration {
	if exitedAt := h.ExitedAt(); !exitedAt.IsZero() {
		return exitedAt.Sub(h.startedAt)
	}
	return time.Since(h.startedAt)
}

// exited reports whether the wait goroutine has reaped the process. After that the pid
// may be reused, so nothing is signalled any more.
func (h *Handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Terminate sends a graceful termination request and returns without waiting.
// It is a no-op once the process has exited.
func (h *Handle) Terminate() error {
	if h.exited() {
		return nil
	}
	atomic.AddInt32(&h.terminateRequests, 1)
	if err := sendTerminate(h); err != nil {
		return errors.NewProcessError("failed to send termination signal", err).
			WithContext("id", h.spec.ID).
			WithContext("pid", h.pid)
	}
	return nil
}

// TerminateRequests counts Terminate calls on this handle
func (h *Handle) TerminateRequests() int {
	return int(atomic.LoadInt32(&h.terminateRequests))
}

// Kill forcefully terminates the process (and its group on Unix)
func (h *Handle) Kill() error {
	if h.exited() {
		return nil
	}
	if err := sendKill(h); err != nil {
		return errors.NewProcessError("failed to kill process", err).
			WithContext("id", h.spec.ID).
			WithContext("pid", h.pid)
	}
	return nil
}

func (h *Handle) String() string {
	return fmt.Sprintf("%s (pid %d)", h.spec.ID, h.pid)
}
