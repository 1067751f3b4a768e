// Package conversation implements the timed questionnaire controller.
//
// A [Machine] walks init → prompt → listening → report for every question
// and ends in done. Transitions are driven by elapsed wall-clock time passed
// in by the caller, except for [Machine.ForceFinalize] which ends a listening
// phase early. Entering listening and leaving it are reported as a [Signal]
// the caller must act on.
package conversation

import (
	"log/slog"
	"sync"
	"time"
)

// State is the controller phase.
type State int

const (
	StateInit State = iota
	StatePrompt
	StateListening
	StateReport
	StateDone
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePrompt:
		return "prompt"
	case StateListening:
		return "listening"
	case StateReport:
		return "report"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Signal tells the caller what a transition requires.
type Signal int

const (
	// SignalNone means no action.
	SignalNone Signal = iota

	// SignalReset is emitted on prompt → listening. The caller resets the
	// smoother and live label, starts the histogram and selects the
	// question's frame source.
	SignalReset

	// SignalFinalize is emitted on listening → report. The caller finalizes
	// the histogram, resolves a label and records the result.
	SignalFinalize
)

func (s Signal) String() string {
	switch s {
	case SignalReset:
		return "reset"
	case SignalFinalize:
		return "finalize"
	default:
		return "none"
	}
}

// Config holds phase durations and the initial question count.
type Config struct {
	PromptDuration   time.Duration
	ResponseDuration time.Duration
	ReportDuration   time.Duration
	Questions        int
}

// DefaultConfig returns 3s / 8s / 2s phases for n questions.
func DefaultConfig(n int) Config {
	return Config{
		PromptDuration:   3 * time.Second,
		ResponseDuration: 8 * time.Second,
		ReportDuration:   2 * time.Second,
		Questions:        n,
	}
}

// Snapshot is a read-only view of the machine.
type Snapshot struct {
	State      State     `json:"-"`
	StateName  string    `json:"state"`
	Index      int       `json:"index"`
	Questions  int       `json:"questions"`
	Since      time.Time `json:"since"`
	LastForced bool      `json:"last_forced"`
}

// Machine is the conversation state machine. It is safe for concurrent use;
// readers such as a status endpoint may call [Machine.Snapshot] while the
// capture loop drives it.
type Machine struct {
	cfg Config

	mu        sync.Mutex
	state     State
	index     int
	since     time.Time
	questions int
	forced    bool
}

// New creates a machine in [StateInit]. now is the moment the session
// started; the first prompt phase is timed from it.
func New(cfg Config, now time.Time) *Machine {
	return &Machine{cfg: cfg, state: StateInit, since: now, questions: cfg.Questions}
}

// Update advances the machine according to the time elapsed since the last
// transition and returns the signal for the transition taken, if any. At most
// one timed transition happens per call.
func (m *Machine) Update(now time.Time) Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateInit {
		if m.questions <= 0 {
			m.enter(StateDone, now)
			return SignalNone
		}
		// The prompt phase keeps the init timestamp.
		m.state, m.index = StatePrompt, 0
		slog.Debug("conversation state", "state", m.state, "index", m.index)
	}

	elapsed := now.Sub(m.since)
	switch m.state {
	case StatePrompt:
		if elapsed >= m.cfg.PromptDuration {
			m.forced = false
			m.enter(StateListening, now)
			return SignalReset
		}
	case StateListening:
		if elapsed >= m.cfg.ResponseDuration {
			m.forced = false
			m.enter(StateReport, now)
			return SignalFinalize
		}
	case StateReport:
		if elapsed >= m.cfg.ReportDuration {
			if m.index+1 < m.questions {
				m.index++
				m.enter(StatePrompt, now)
			} else {
				m.enter(StateDone, now)
			}
		}
	}
	return SignalNone
}

// ForceFinalize ends the listening phase immediately, as when the response
// clip runs out. It only acts in [StateListening]; in any other state it
// returns [SignalNone], so a question is never finalized twice.
func (m *Machine) ForceFinalize(now time.Time) Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateListening {
		return SignalNone
	}
	m.forced = true
	m.enter(StateReport, now)
	return SignalFinalize
}

func (m *Machine) enter(s State, now time.Time) {
	m.state, m.since = s, now
	slog.Debug("conversation state", "state", s, "index", m.index, "forced", m.forced)
}

// SetQuestionCount changes how many questions the session asks. It is used
// when a follow-up question is appended mid-session. Values below the number
// of questions already reached are raised to it.
func (m *Machine) SetQuestionCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions = max(n, m.index+1)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Index returns the 0-based index of the current question.
func (m *Machine) Index() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// Done reports whether the machine reached its terminal state.
func (m *Machine) Done() bool { return m.State() == StateDone }

// Snapshot returns the current state for display.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:      m.state,
		StateName:  m.state.String(),
		Index:      m.index,
		Questions:  m.questions,
		Since:      m.since,
		LastForced: m.forced,
	}
}
