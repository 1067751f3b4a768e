package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/restquest/internal/session"
)

// RunState is the lifecycle state reported by [Runner.Status].
type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateError     RunState = "error"
)

var (
	// ErrBusy is returned by [Runner.Start] while a session is running.
	ErrBusy = errors.New("app: a session is already running")

	// ErrNotRunning is returned by [Runner.Stop] when no session is running.
	ErrNotRunning = errors.New("app: no session is running")
)

// Builder assembles a fresh session for one run.
type Builder func() (*session.Session, error)

// Status describes the most recent run. Live is set only while a session is
// running.
type Status struct {
	State          RunState          `json:"state"`
	Message        string            `json:"message"`
	SessionID      string            `json:"session_id,omitempty"`
	StartedAt      *time.Time        `json:"started_at"`
	FinishedAt     *time.Time        `json:"finished_at"`
	TranscriptPath string            `json:"transcript_path,omitempty"`
	Recommendation string            `json:"recommendation,omitempty"`
	Answered       int               `json:"answered"`
	Running        bool              `json:"running"`
	Live           *session.Snapshot `json:"live,omitempty"`
}

// Runner runs at most one session at a time in the background.
// All exported methods are safe for concurrent use.
type Runner struct {
	build Builder
	now   func() time.Time

	// stopTimeout bounds the wait for a running session when Run returns.
	stopTimeout time.Duration

	mu      sync.Mutex
	base    context.Context
	status  Status
	current *session.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// RunnerOption is a functional option for [NewRunner].
type RunnerOption func(*Runner)

// WithRunnerClock replaces time.Now for status timestamps.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithStopTimeout sets how long [Runner.Run] waits for a cancelled session
// to wind down. Defaults to 10s.
func WithStopTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.stopTimeout = d }
}

// NewRunner returns an idle Runner that calls build for every new session.
func NewRunner(build Builder, opts ...RunnerOption) *Runner {
	r := &Runner{
		build:       build,
		now:         time.Now,
		stopTimeout: 10 * time.Second,
		base:        context.Background(),
		status:      Status{State: StateIdle, Message: "Ready for a new session"},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start builds a session and runs it in the background. It returns the new
// session ID, or [ErrBusy] if a session is still running.
func (r *Runner) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return "", ErrBusy
	}

	s, err := r.build()
	if err != nil {
		finished := r.now().UTC()
		r.status = Status{State: StateError, Message: err.Error(), FinishedAt: &finished}
		return "", err
	}

	ctx, cancel := context.WithCancel(r.base)
	started := r.now().UTC()
	done := make(chan struct{})
	r.current, r.cancel, r.done = s, cancel, done
	r.status = Status{
		State:     StateRunning,
		Message:   "Session in progress",
		SessionID: s.ID(),
		StartedAt: &started,
	}

	go func() {
		defer close(done)
		defer cancel()
		res, err := s.Run(ctx)
		r.finish(s, res, err)
	}()

	slog.Info("session runner started session", "session_id", s.ID())
	return s.ID(), nil
}

func (r *Runner) finish(s *session.Session, res *session.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	finished := r.now().UTC()
	st := r.status
	st.FinishedAt = &finished
	if res != nil {
		st.TranscriptPath = res.TranscriptPath
		st.Recommendation = res.Recommendation
		st.Answered = len(res.Questions)
	}
	switch {
	case err == nil:
		st.State, st.Message = StateCompleted, "Session finished"
	case errors.Is(err, context.Canceled):
		st.State, st.Message = StateCompleted, "Session stopped"
	default:
		st.State, st.Message = StateError, err.Error()
		slog.Error("session failed", "session_id", s.ID(), "err", err)
	}
	r.status = st
	r.current, r.cancel, r.done = nil, nil, nil
}

// Stop asks the running session to end. It does not wait; poll
// [Runner.Status] or call [Runner.Wait].
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ErrNotRunning
	}
	r.cancel()
	r.status.Message = "Stopping session"
	return nil
}

// Wait blocks until the running session (if any) has finished or ctx is
// done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current run status, including a live snapshot while a
// session is running.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.status
	st.Running = r.current != nil
	if r.current != nil {
		snap := r.current.Snapshot()
		st.Live = &snap
	}
	return st
}

// Run makes ctx the parent of every session started afterwards and blocks
// until ctx is done. It then stops the running session and waits for it up
// to the stop timeout.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.base = ctx
	r.mu.Unlock()

	<-ctx.Done()

	if err := r.Stop(); err == nil {
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.stopTimeout)
		defer cancel()
		if err := r.Wait(waitCtx); err != nil {
			slog.Warn("session did not stop in time", "timeout", r.stopTimeout)
		}
	}
	return nil
}
