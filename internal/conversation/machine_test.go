package conversation_test

import (
	"testing"
	"time"

	"github.com/MrWong99/restquest/internal/conversation"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d float64) time.Time { return t0.Add(time.Duration(d * float64(time.Second))) }

type step struct {
	at     float64
	signal conversation.Signal
	state  conversation.State
	index  int
}

func run(t *testing.T, m *conversation.Machine, steps []step) {
	t.Helper()
	for i, s := range steps {
		sig := m.Update(at(s.at))
		if sig != s.signal || m.State() != s.state || m.Index() != s.index {
			t.Fatalf("step %d at %.1fs: got %s/%s/%d, want %s/%s/%d",
				i, s.at, sig, m.State(), m.Index(), s.signal, s.state, s.index)
		}
	}
}

func TestMachine_TimedScenario(t *testing.T) {
	t.Parallel()
	m := conversation.New(conversation.DefaultConfig(2), t0)
	if m.State() != conversation.StateInit {
		t.Fatalf("initial state = %s, want init", m.State())
	}

	run(t, m, []step{
		{0, conversation.SignalNone, conversation.StatePrompt, 0},
		{2.9, conversation.SignalNone, conversation.StatePrompt, 0},
		{3.0, conversation.SignalReset, conversation.StateListening, 0},
		{10.9, conversation.SignalNone, conversation.StateListening, 0},
		{11.0, conversation.SignalFinalize, conversation.StateReport, 0},
		{13.0, conversation.SignalNone, conversation.StatePrompt, 1},
		{16.0, conversation.SignalReset, conversation.StateListening, 1},
		{24.0, conversation.SignalFinalize, conversation.StateReport, 1},
		{26.0, conversation.SignalNone, conversation.StateDone, 1},
		{100, conversation.SignalNone, conversation.StateDone, 1},
	})
}

func TestMachine_FirstUpdateAfterPromptDuration(t *testing.T) {
	t.Parallel()
	m := conversation.New(conversation.DefaultConfig(1), t0)
	if sig := m.Update(at(3)); sig != conversation.SignalReset {
		t.Fatalf("Update = %s, want reset", sig)
	}
	if m.State() != conversation.StateListening {
		t.Fatalf("state = %s, want listening", m.State())
	}
}

func TestMachine_ForcedFinalizeEmitsOnce(t *testing.T) {
	t.Parallel()
	m := conversation.New(conversation.DefaultConfig(2), t0)
	run(t, m, []step{
		{0, conversation.SignalNone, conversation.StatePrompt, 0},
		{3, conversation.SignalReset, conversation.StateListening, 0},
	})

	if sig := m.ForceFinalize(at(5)); sig != conversation.SignalFinalize {
		t.Fatalf("ForceFinalize = %s, want finalize", sig)
	}
	if m.State() != conversation.StateReport {
		t.Fatalf("state = %s, want report", m.State())
	}
	if !m.Snapshot().LastForced {
		t.Error("snapshot does not mark the finalize as forced")
	}

	if sig := m.ForceFinalize(at(5.5)); sig != conversation.SignalNone {
		t.Errorf("second ForceFinalize = %s, want none", sig)
	}
	// The original listening timer would have expired at 11s.
	var finalizes int
	for _, s := range []float64{6, 6.9, 11, 11.5} {
		if m.Update(at(s)) == conversation.SignalFinalize {
			finalizes++
		}
	}
	if finalizes != 0 {
		t.Errorf("timer emitted %d extra finalize signals", finalizes)
	}
	if m.Index() != 1 {
		t.Errorf("index = %d, want 1 after report elapsed", m.Index())
	}
}

func TestMachine_ForceFinalizeOutsideListening(t *testing.T) {
	t.Parallel()
	m := conversation.New(conversation.DefaultConfig(1), t0)
	if sig := m.ForceFinalize(t0); sig != conversation.SignalNone {
		t.Errorf("ForceFinalize in init = %s", sig)
	}
	m.Update(t0)
	if sig := m.ForceFinalize(at(1)); sig != conversation.SignalNone {
		t.Errorf("ForceFinalize in prompt = %s", sig)
	}
	if m.State() != conversation.StatePrompt {
		t.Errorf("state = %s, want prompt", m.State())
	}
}

func TestMachine_NoQuestions(t *testing.T) {
	t.Parallel()
	m := conversation.New(conversation.DefaultConfig(0), t0)
	m.Update(t0)
	if !m.Done() {
		t.Errorf("state = %s, want done", m.State())
	}
}

func TestMachine_SetQuestionCountExtendsSession(t *testing.T) {
	t.Parallel()
	m := conversation.New(conversation.DefaultConfig(1), t0)
	run(t, m, []step{
		{0, conversation.SignalNone, conversation.StatePrompt, 0},
		{3, conversation.SignalReset, conversation.StateListening, 0},
		{11, conversation.SignalFinalize, conversation.StateReport, 0},
	})
	m.SetQuestionCount(2)
	run(t, m, []step{
		{13, conversation.SignalNone, conversation.StatePrompt, 1},
	})

	m.SetQuestionCount(0)
	if got := m.Snapshot().Questions; got != 2 {
		t.Errorf("questions = %d, want clamp to 2", got)
	}
}
