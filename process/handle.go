// Package process spawns and supervises assistant CLI processes attached to
// pseudo-terminals.
package process

import (
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/zhubert/shepherd/logger"
)

var (
	// ErrNotAlive is returned when writing to a process that already exited.
	ErrNotAlive = errors.New("process is not alive")

	// ErrTerminationTimeout is returned when a process survives the full
	// interrupt, SIGTERM, SIGKILL escalation.
	ErrTerminationTimeout = errors.New("process did not exit after SIGKILL")
)

// SpawnError wraps a failure to start or initialize the process.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Spec describes the process to spawn. OnLine is invoked from the reader
// goroutine for each sanitized output line; OnExit fires exactly once when
// the process exits for any reason.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	OnLine  func(line string)
	OnExit  func(code int, err error)
}

const (
	// readinessDelay is how long a process must survive after spawn before
	// it is considered up.
	readinessDelay = 500 * time.Millisecond

	// killWait bounds the wait after SIGKILL.
	killWait = 2 * time.Second

	// Terminal geometry for the child. A wide terminal keeps the assistant
	// from hard-wrapping output lines it would otherwise emit whole.
	ptyRows = 24
	ptyCols = 200
)

// PTYHandle supervises one process attached to a pseudo-terminal. The
// master side is read by a dedicated goroutine that splits output into lines
// and forwards them through Spec.OnLine.
type PTYHandle struct {
	spec Spec

	mu     sync.Mutex
	cmd    *osexec.Cmd
	master *os.File
	pid    int

	exited   chan struct{}
	exitOnce sync.Once
	exitCode int
	exitErr  error
}

// NewPTYHandle creates a handle. The process does not exist until Start.
func NewPTYHandle(spec Spec) *PTYHandle {
	return &PTYHandle{
		spec:   spec,
		exited: make(chan struct{}),
	}
}

// Start spawns the process on a fresh PTY and begins reading its output.
func (h *PTYHandle) Start() error {
	cmd := osexec.Command(h.spec.Command, h.spec.Args...)
	cmd.Dir = h.spec.Dir
	if len(h.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), h.spec.Env...)
	}

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})
	if err != nil {
		return &SpawnError{Command: h.spec.Command, Err: err}
	}

	h.mu.Lock()
	h.cmd = cmd
	h.master = master
	h.pid = cmd.Process.Pid
	h.mu.Unlock()

	logger.WithComponent("process").Debug("spawned process",
		"command", h.spec.Command, "pid", cmd.Process.Pid, "dir", h.spec.Dir)

	go h.readLoop(master, cmd)
	return nil
}

// WaitReady blocks until the process has survived the readiness delay or
// exited. Returns a SpawnError when the process died during startup.
func (h *PTYHandle) WaitReady(timeout time.Duration) error {
	delay := readinessDelay
	if timeout > 0 && timeout < delay {
		delay = timeout
	}

	select {
	case <-h.exited:
		return &SpawnError{
			Command: h.spec.Command,
			Err:     fmt.Errorf("process exited during startup (code %d)", h.exitCode),
		}
	case <-time.After(delay):
	}

	if !h.IsAlive() {
		return &SpawnError{Command: h.spec.Command, Err: errors.New("process died during startup")}
	}
	return nil
}

// Write sends text to the process followed by a carriage return, which the
// PTY line discipline treats as Enter.
func (h *PTYHandle) Write(text string) error {
	h.mu.Lock()
	master := h.master
	h.mu.Unlock()

	if master == nil || !h.IsAlive() {
		return ErrNotAlive
	}
	if _, err := master.Write([]byte(text + "\r")); err != nil {
		return fmt.Errorf("writing to process: %w", err)
	}
	return nil
}

// IsAlive reports whether the process is currently running, probed live with
// a null signal rather than cached state.
func (h *PTYHandle) IsAlive() bool {
	h.mu.Lock()
	pid := h.pid
	h.mu.Unlock()

	if pid == 0 {
		return false
	}
	select {
	case <-h.exited:
		return false
	default:
	}
	return unix.Kill(pid, 0) == nil
}

// Pid returns the process id, or 0 before Start.
func (h *PTYHandle) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Exited returns a channel closed when the process has exited and its exit
// status recorded.
func (h *PTYHandle) Exited() <-chan struct{} { return h.exited }

// Terminate stops the process, escalating through three stages: an
// interrupt byte (Ctrl-C) on the PTY, then SIGTERM, then SIGKILL. Each stage
// waits the grace period before escalating. Returns nil once the process
// exits; ErrTerminationTimeout if even SIGKILL does not take.
func (h *PTYHandle) Terminate(grace time.Duration) error {
	h.mu.Lock()
	master := h.master
	cmd := h.cmd
	h.mu.Unlock()

	if cmd == nil {
		return nil
	}
	select {
	case <-h.exited:
		return nil
	default:
	}

	log := logger.WithComponent("process")

	if master != nil {
		master.Write([]byte{0x03})
		if h.waitExit(grace) {
			return nil
		}
	}

	log.Debug("interrupt ignored, sending SIGTERM", "pid", cmd.Process.Pid)
	cmd.Process.Signal(unix.SIGTERM)
	if h.waitExit(grace) {
		return nil
	}

	log.Warn("SIGTERM ignored, sending SIGKILL", "pid", cmd.Process.Pid)
	cmd.Process.Kill()
	if h.waitExit(killWait) {
		return nil
	}
	return ErrTerminationTimeout
}

func (h *PTYHandle) waitExit(d time.Duration) bool {
	select {
	case <-h.exited:
		return true
	case <-time.After(d):
		return false
	}
}

// readLoop drains the PTY master, forwarding complete lines, then reaps the
// process. Runs until the master returns an error, which happens when the
// child exits and the PTY closes.
func (h *PTYHandle) readLoop(master *os.File, cmd *osexec.Cmd) {
	buf := make([]byte, 4096)
	carry := ""
	for {
		n, err := master.Read(buf)
		if n > 0 {
			var lines []string
			lines, carry = splitLines(carry, string(buf[:n]))
			for _, line := range lines {
				h.emit(line)
			}
		}
		if err != nil {
			break
		}
	}
	h.emit(carry)

	waitErr := cmd.Wait()
	code := 0
	if waitErr != nil {
		code = -1
		var exitErr *osexec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
	}
	master.Close()

	// OnExit runs before the exited channel closes so that anyone blocked in
	// Terminate observes the final session state once Terminate returns.
	h.exitOnce.Do(func() {
		h.exitCode = code
		h.exitErr = waitErr
		if h.spec.OnExit != nil {
			h.spec.OnExit(code, waitErr)
		}
		close(h.exited)
	})
}

func (h *PTYHandle) emit(line string) {
	clean := sanitizeLine(line)
	if clean == "" {
		return
	}
	if h.spec.OnLine != nil {
		h.spec.OnLine(clean)
	}
}
