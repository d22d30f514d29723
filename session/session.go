package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhubert/shepherd/logger"
)

var (
	// ErrSessionNotActive is returned when an operation requires a running
	// process but the session is still starting or already terminal.
	ErrSessionNotActive = errors.New("session is not active")

	// ErrNoPendingPrompt is returned by Respond when the session is not
	// waiting for input.
	ErrNoPendingPrompt = errors.New("session has no pending prompt")
)

// ProcessHandle is what a session needs from the process it supervises.
// Implemented by process.PTYHandle; tests substitute fakes.
type ProcessHandle interface {
	// Write sends text to the process followed by a carriage return.
	Write(text string) error

	// IsAlive reports whether the process is currently running.
	IsAlive() bool

	// Pid returns the process id, or 0 before the process starts.
	Pid() int

	// Terminate stops the process, escalating from interrupt to SIGTERM to
	// SIGKILL, and blocks until it exits or the escalation is exhausted.
	Terminate(grace time.Duration) error
}

// Status is a point-in-time snapshot of a session. Both adapters serialize
// it directly, so the JSON field names are the wire format.
type Status struct {
	ID            string    `json:"session_id"`
	Name          string    `json:"name"`
	WorkingDir    string    `json:"working_dir"`
	State         State     `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	PromptText    string    `json:"prompt_text,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	ExitCode      *int      `json:"exit_code,omitempty"`
	Pid           int       `json:"pid,omitempty"`
	Alive         bool      `json:"alive"`
	LogLines      int       `json:"log_lines"`
}

// Params configures a new session.
type Params struct {
	ID             string
	Name           string
	WorkingDir     string
	BufferCapacity int
	TruncateWidth  int
	Detector       *Detector
	Quiescence     time.Duration
}

// Session supervises one assistant process: it owns the state machine, the
// output buffer, and prompt detection. Output arrives via HandleOutput from
// the process reader goroutine; adapters call the remaining methods
// concurrently.
type Session struct {
	id         string
	name       string
	workingDir string
	createdAt  time.Time

	buffer     *OutputBuffer
	detector   *Detector
	quiescence time.Duration
	log        *slog.Logger

	mu            sync.Mutex
	state         State
	lastActivity  time.Time
	promptText    string
	promptTimer   *time.Timer
	handle        ProcessHandle
	failureReason string
	exitCode      *int
}

// New creates a session in the Starting state. No process exists yet; the
// caller spawns one and attaches it with AttachHandle.
func New(p Params) *Session {
	now := time.Now()
	return &Session{
		id:           p.ID,
		name:         p.Name,
		workingDir:   p.WorkingDir,
		createdAt:    now,
		buffer:       NewOutputBuffer(p.BufferCapacity, p.TruncateWidth),
		detector:     p.Detector,
		quiescence:   p.Quiescence,
		log:          logger.WithSession(p.ID),
		state:        StateStarting,
		lastActivity: now,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Name returns the session's display name.
func (s *Session) Name() string { return s.name }

// WorkingDir returns the directory the process runs in.
func (s *Session) WorkingDir() string { return s.workingDir }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AttachHandle binds the spawned process to the session.
func (s *Session) AttachHandle(h ProcessHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
}

// MarkActive transitions Starting to Active once the spawn completed.
// Returns false if the session left Starting in the meantime (terminated
// during spawn, or the process already died).
func (s *Session) MarkActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStarting {
		return false
	}
	s.state = StateActive
	s.log.Info("session active", "pid", s.pidLocked())
	return true
}

// MarkFailed moves any non-terminal session to Failed with a reason.
func (s *Session) MarkFailed(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	s.stopTimerLocked()
	s.state = StateFailed
	s.failureReason = reason
	s.promptText = ""
	s.log.Error("session failed", "reason", reason)
}

// HandleOutput records one line of process output. Called from the process
// reader goroutine for every line the process emits.
func (s *Session) HandleOutput(line string) {
	s.buffer.Append(line)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = time.Now()
	if s.state == StateWaitingForInput {
		// New output means the process was not blocked after all.
		s.state = StateActive
		s.promptText = ""
	}
	if s.state == StateActive || s.state == StateStarting {
		s.resetTimerLocked()
	}
}

// HandleExit records process exit. A requested termination lands in
// Terminated; anything else is a Failed session.
func (s *Session) HandleExit(code int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimerLocked()
	s.exitCode = &code
	s.promptText = ""

	switch {
	case s.state == StateTerminating:
		s.state = StateTerminated
		s.log.Info("session terminated", "exit_code", code)
	case s.state.Terminal():
		// Already settled.
	default:
		s.state = StateFailed
		s.failureReason = fmt.Sprintf("process exited unexpectedly (code %d)", code)
		if err != nil {
			s.failureReason = fmt.Sprintf("process exited unexpectedly: %v", err)
		}
		s.log.Error("session failed", "reason", s.failureReason)
	}
}

// Send writes text to the process. Valid while the session is Active or
// WaitingForInput; in the latter case the send doubles as the prompt
// response and the session returns to Active.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive && s.state != StateWaitingForInput {
		return ErrSessionNotActive
	}
	if err := s.handle.Write(text); err != nil {
		return err
	}
	s.buffer.Append("USER: " + text)
	s.lastActivity = time.Now()
	if s.state == StateWaitingForInput {
		s.state = StateActive
		s.promptText = ""
	}
	s.resetTimerLocked()
	return nil
}

// Respond answers a detected prompt. Valid only while WaitingForInput.
func (s *Session) Respond(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateWaitingForInput {
		return ErrNoPendingPrompt
	}
	if err := s.handle.Write(text); err != nil {
		return err
	}
	s.buffer.Append("RESPONSE: " + text)
	s.lastActivity = time.Now()
	s.state = StateActive
	s.promptText = ""
	s.resetTimerLocked()
	return nil
}

// Terminate requests a graceful stop. Idempotent: terminal sessions return
// nil immediately. If the process has not spawned yet, the session moves to
// Terminating and the spawner is expected to clean up.
func (s *Session) Terminate(grace time.Duration) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	s.state = StateTerminating
	s.promptText = ""
	h := s.handle
	if h == nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.log.Info("terminating session")
	// HandleExit fires from the process monitor before Terminate returns,
	// so the state settles without holding the lock here.
	return h.Terminate(grace)
}

// PromptText returns the detected prompt line, or "" when none is pending.
func (s *Session) PromptText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptText
}

// Logs renders up to n recent output lines, oldest first.
func (s *Session) Logs(n int, mode RenderMode) []string {
	return s.buffer.Tail(n, mode)
}

// Snapshot returns a consistent view of the session for adapters.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	alive := false
	if s.handle != nil {
		alive = s.handle.IsAlive()
	}
	return Status{
		ID:            s.id,
		Name:          s.name,
		WorkingDir:    s.workingDir,
		State:         s.state,
		CreatedAt:     s.createdAt,
		LastActivity:  s.lastActivity,
		PromptText:    s.promptText,
		FailureReason: s.failureReason,
		ExitCode:      s.exitCode,
		Pid:           s.pidLocked(),
		Alive:         alive,
		LogLines:      s.buffer.Len(),
	}
}

// CheckPrompt re-runs detection on demand without waiting for the
// quiescence timer. Returns the prompt text and true when the session is
// (or just became) WaitingForInput.
func (s *Session) CheckPrompt() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateWaitingForInput {
		return s.promptText, true
	}
	if s.state != StateActive {
		return "", false
	}
	line, ok := s.detector.Detect(s.buffer.TailEntries(recentWindow))
	if !ok {
		return "", false
	}
	s.markWaitingLocked(line)
	return line, true
}

// recentWindow bounds how many trailing lines detection considers.
const recentWindow = 5

func (s *Session) pidLocked() int {
	if s.handle == nil {
		return 0
	}
	return s.handle.Pid()
}

func (s *Session) resetTimerLocked() {
	if s.detector == nil || s.quiescence <= 0 {
		return
	}
	s.stopTimerLocked()
	s.promptTimer = time.AfterFunc(s.quiescence, s.evaluatePrompt)
}

func (s *Session) stopTimerLocked() {
	if s.promptTimer != nil {
		s.promptTimer.Stop()
		s.promptTimer = nil
	}
}

// evaluatePrompt runs when output has been quiet for the quiescence window.
func (s *Session) evaluatePrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return
	}
	line, ok := s.detector.Detect(s.buffer.TailEntries(recentWindow))
	if !ok {
		return
	}
	s.markWaitingLocked(line)
}

func (s *Session) markWaitingLocked(line string) {
	s.state = StateWaitingForInput
	s.promptText = line
	s.buffer.Append("PROMPT: " + line)
	s.log.Info("prompt detected", "prompt", line)
}
