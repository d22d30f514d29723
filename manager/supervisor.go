// Package manager coordinates the registry of supervised sessions. It owns
// session creation and lookup; per-process concerns live in the process
// package and per-session state in the session package.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhubert/shepherd/config"
	"github.com/zhubert/shepherd/exec"
	"github.com/zhubert/shepherd/logger"
	"github.com/zhubert/shepherd/process"
	"github.com/zhubert/shepherd/session"
)

var (
	// ErrNotFound is returned when no session has the requested id.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidWorkingDir is returned when a create request names a
	// directory that does not exist or is not a directory.
	ErrInvalidWorkingDir = errors.New("invalid working directory")
)

// Handle is what the supervisor needs from a spawned process. Satisfied by
// process.PTYHandle; tests inject fakes.
type Handle interface {
	session.ProcessHandle
	Start() error
	WaitReady(timeout time.Duration) error
}

// HandleFactory creates the process handle for a session. Injectable so
// tests can run the full lifecycle without real processes.
type HandleFactory func(spec process.Spec) (Handle, error)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithHandleFactory overrides how process handles are created.
func WithHandleFactory(f HandleFactory) Option {
	return func(s *Supervisor) { s.factory = f }
}

// WithExecutor overrides the command executor used for orphan cleanup.
func WithExecutor(ex exec.CommandExecutor) Option {
	return func(s *Supervisor) { s.executor = ex }
}

// PendingPrompt describes a session currently blocked on input.
type PendingPrompt struct {
	SessionID string
	Name      string
	Prompt    string
}

// Health summarizes the registry for the health endpoint.
type Health struct {
	Sessions int
	ByState  map[string]int
	Alive    int
}

// Supervisor is the session registry. All lookups go through it, and it is
// the only component that creates sessions. Safe for concurrent use.
type Supervisor struct {
	cfg      *config.Config
	factory  HandleFactory
	executor exec.CommandExecutor
	detector *session.Detector
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
	order    []string // creation order for stable listings
}

// New creates a supervisor from config. Fails if the configured prompt
// patterns do not compile.
func New(cfg *config.Config, opts ...Option) (*Supervisor, error) {
	detector, err := session.NewDetector(cfg.PromptPatterns)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:      cfg,
		detector: detector,
		executor: exec.NewRealExecutor(),
		log:      logger.WithComponent("manager"),
		sessions: make(map[string]*session.Session),
	}
	s.factory = func(spec process.Spec) (Handle, error) {
		return process.NewPTYHandle(spec), nil
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create registers a new session and spawns its process in the background.
// The returned status is in the starting state; callers poll Get or List to
// observe the spawn outcome.
func (s *Supervisor) Create(name, workingDir string) (session.Status, error) {
	if workingDir == "" {
		workingDir = s.cfg.DefaultWorkingDir
	}
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return session.Status{}, fmt.Errorf("resolving working directory: %w", err)
		}
		workingDir = wd
	}
	info, err := os.Stat(workingDir)
	if err != nil {
		return session.Status{}, fmt.Errorf("%w: %q: %v", ErrInvalidWorkingDir, workingDir, err)
	}
	if !info.IsDir() {
		return session.Status{}, fmt.Errorf("%w: %q is not a directory", ErrInvalidWorkingDir, workingDir)
	}

	id := uuid.NewString()
	if name == "" {
		name = "session-" + id[:8]
	}

	sess := session.New(session.Params{
		ID:             id,
		Name:           name,
		WorkingDir:     workingDir,
		BufferCapacity: s.cfg.BufferCapacity,
		TruncateWidth:  s.cfg.TruncateWidth,
		Detector:       s.detector,
		Quiescence:     s.cfg.QuiescenceWindow(),
	})

	s.mu.Lock()
	s.sessions[id] = sess
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.log.Info("session created", "session_id", id, "name", name, "working_dir", workingDir)
	go s.spawn(sess)

	return sess.Snapshot(), nil
}

// spawn runs the asynchronous part of session creation.
func (s *Supervisor) spawn(sess *session.Session) {
	spec := process.Spec{
		Command: s.cfg.Command,
		Args:    s.cfg.CommandArgs(sess.ID()),
		Dir:     sess.WorkingDir(),
		OnLine:  sess.HandleOutput,
		OnExit:  sess.HandleExit,
	}

	h, err := s.factory(spec)
	if err != nil {
		sess.MarkFailed(err.Error())
		return
	}
	if err := h.Start(); err != nil {
		sess.MarkFailed(err.Error())
		return
	}
	sess.AttachHandle(h)

	if err := h.WaitReady(s.cfg.SpawnTimeout()); err != nil {
		sess.MarkFailed(err.Error())
		h.Terminate(s.cfg.GracePeriod())
		return
	}
	if !sess.MarkActive() {
		// Terminated while still spawning; the process is now ours to reap.
		h.Terminate(s.cfg.GracePeriod())
	}
}

// Get returns the status of one session.
func (s *Supervisor) Get(id string) (session.Status, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return session.Status{}, err
	}
	return sess.Snapshot(), nil
}

// List returns all sessions in creation order, terminal ones included.
func (s *Supervisor) List() []session.Status {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.order))
	for _, id := range s.order {
		sessions = append(sessions, s.sessions[id])
	}
	s.mu.Unlock()

	out := make([]session.Status, len(sessions))
	for i, sess := range sessions {
		out[i] = sess.Snapshot()
	}
	return out
}

// Send writes a message to a session's process.
func (s *Supervisor) Send(id, text string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	return sess.Send(text)
}

// Logs returns up to n recent output lines from a session, oldest first.
// n <= 0 returns everything buffered.
func (s *Supervisor) Logs(id string, n int, full bool) ([]string, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	mode := session.RenderTruncated
	if full {
		mode = session.RenderFull
	}
	return sess.Logs(n, mode), nil
}

// Terminate gracefully stops a session's process. Idempotent.
func (s *Supervisor) Terminate(id string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	return sess.Terminate(s.cfg.GracePeriod())
}

// Respond answers a pending prompt on a session.
func (s *Supervisor) Respond(id, text string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	return sess.Respond(text)
}

// CheckPrompts sweeps every session for pending prompts, running on-demand
// detection on active ones. Returns one entry per waiting session, in
// creation order.
func (s *Supervisor) CheckPrompts() []PendingPrompt {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.order))
	for _, id := range s.order {
		sessions = append(sessions, s.sessions[id])
	}
	s.mu.Unlock()

	var pending []PendingPrompt
	for _, sess := range sessions {
		if prompt, ok := sess.CheckPrompt(); ok {
			pending = append(pending, PendingPrompt{
				SessionID: sess.ID(),
				Name:      sess.Name(),
				Prompt:    prompt,
			})
		}
	}
	return pending
}

// Health reports registry-wide counters.
func (s *Supervisor) Health() Health {
	statuses := s.List()
	h := Health{
		Sessions: len(statuses),
		ByState:  make(map[string]int),
	}
	for _, st := range statuses {
		h.ByState[st.State.String()]++
		if st.Alive {
			h.Alive++
		}
	}
	return h
}

// Shutdown terminates every non-terminal session in parallel and waits for
// all of them to settle.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	s.log.Info("shutting down all sessions", "count", len(sessions))
	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *session.Session) {
			defer wg.Done()
			if err := sess.Terminate(s.cfg.GracePeriod()); err != nil {
				s.log.Error("session did not terminate cleanly",
					"session_id", sess.ID(), "error", err)
			}
		}(sess)
	}
	wg.Wait()
}

// CleanupOrphans kills assistant processes left behind by earlier runs that
// no current session accounts for. Returns how many were killed.
func (s *Supervisor) CleanupOrphans(ctx context.Context) (int, error) {
	s.mu.Lock()
	known := make(map[string]bool, len(s.sessions))
	for id := range s.sessions {
		known[id] = true
	}
	s.mu.Unlock()

	return process.CleanupOrphans(ctx, s.executor, s.cfg.Command, known)
}

func (s *Supervisor) lookup(id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}
