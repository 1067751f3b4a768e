package app_test

import (
	"context"
	"errors"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/restquest/internal/app"
	"github.com/MrWong99/restquest/internal/session"
	visionmock "github.com/MrWong99/restquest/pkg/vision/mock"
)

// sessionBuilder returns a Builder producing sessions over a live mock
// source. response sets how long each question listens.
func sessionBuilder(t *testing.T, opener *visionmock.Opener, response time.Duration) app.Builder {
	t.Helper()
	return func() (*session.Session, error) {
		cfg := session.DefaultConfig("How do you feel?")
		cfg.PromptDuration = 30 * time.Millisecond
		cfg.ResponseDuration = response
		cfg.ReportDuration = 20 * time.Millisecond
		cfg.FrameInterval = 5 * time.Millisecond
		cfg.WarmupTimeout = 10 * time.Millisecond
		cfg.JoinTimeout = time.Second
		cfg.LiveTarget = "live"
		cfg.TranscriptPath = t.TempDir() + "/transcript.json"
		return session.New(cfg, session.Components{
			Opener: opener.Open,
			Fuser:  testFuser(t),
		}, session.WithMetrics(testMetrics(t)))
	}
}

func liveOpener() *visionmock.Opener {
	return &visionmock.Opener{Sources: map[string]*visionmock.Source{
		"live": {Frames: -1, Fill: color.Gray{Y: 255}},
	}}
}

func waitFor(t *testing.T, r *app.Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestRunner_InitialStatus(t *testing.T) {
	t.Parallel()
	r := app.NewRunner(sessionBuilder(t, liveOpener(), time.Second))
	st := r.Status()
	if st.State != app.StateIdle || st.Running || st.Live != nil {
		t.Errorf("status = %+v, want idle", st)
	}
	if st.Message == "" {
		t.Error("idle status should carry a message")
	}
}

func TestRunner_CompletesSession(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := app.NewRunner(
		sessionBuilder(t, liveOpener(), 100*time.Millisecond),
		app.WithRunnerClock(func() time.Time { return fixed }),
	)

	id, err := r.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("Start returned an empty session id")
	}
	waitFor(t, r)

	st := r.Status()
	if st.State != app.StateCompleted || st.Message != "Session finished" {
		t.Errorf("state = %q (%q), want completed", st.State, st.Message)
	}
	if st.Running || st.Live != nil {
		t.Errorf("finished status still running: %+v", st)
	}
	if st.SessionID != id {
		t.Errorf("SessionID = %q, want %q", st.SessionID, id)
	}
	if st.StartedAt == nil || !st.StartedAt.Equal(fixed) || st.FinishedAt == nil {
		t.Errorf("timestamps = %v / %v", st.StartedAt, st.FinishedAt)
	}
	if st.Answered != 1 {
		t.Errorf("Answered = %d, want 1", st.Answered)
	}
	if st.TranscriptPath == "" {
		t.Error("TranscriptPath should be set after a completed session")
	}
}

func TestRunner_StartWhileRunning(t *testing.T) {
	t.Parallel()
	r := app.NewRunner(sessionBuilder(t, liveOpener(), time.Minute))

	if _, err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := r.Start(); !errors.Is(err, app.ErrBusy) {
		t.Errorf("second Start err = %v, want ErrBusy", err)
	}

	st := r.Status()
	if st.State != app.StateRunning || !st.Running {
		t.Errorf("status = %+v, want running", st)
	}
	if st.Live == nil || st.Live.SessionID != st.SessionID {
		t.Errorf("live snapshot = %+v", st.Live)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitFor(t, r)

	st = r.Status()
	if st.State != app.StateCompleted || st.Message != "Session stopped" {
		t.Errorf("state = %q (%q), want completed/stopped", st.State, st.Message)
	}
	if st.Running {
		t.Error("Running should be false after Stop")
	}

	// A new session can start once the old one is gone.
	if _, err := r.Start(); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
	_ = r.Stop()
	waitFor(t, r)
}

func TestRunner_StopWhenIdle(t *testing.T) {
	t.Parallel()
	r := app.NewRunner(sessionBuilder(t, liveOpener(), time.Second))
	if err := r.Stop(); !errors.Is(err, app.ErrNotRunning) {
		t.Errorf("Stop err = %v, want ErrNotRunning", err)
	}
	if err := r.Wait(context.Background()); err != nil {
		t.Errorf("Wait on idle runner = %v", err)
	}
}

func TestRunner_BuildError(t *testing.T) {
	t.Parallel()
	r := app.NewRunner(func() (*session.Session, error) {
		return nil, errors.New("no questions configured")
	})
	if _, err := r.Start(); err == nil {
		t.Fatal("expected build error")
	}
	st := r.Status()
	if st.State != app.StateError || st.Message != "no questions configured" {
		t.Errorf("status = %+v, want error", st)
	}
	if st.Running {
		t.Error("Running should be false after a build error")
	}
}

func TestRunner_SessionError(t *testing.T) {
	t.Parallel()
	opener := &visionmock.Opener{OpenErr: errors.New("no camera")}
	r := app.NewRunner(sessionBuilder(t, opener, time.Second))

	if _, err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, r)

	st := r.Status()
	if st.State != app.StateError {
		t.Fatalf("state = %q, want error", st.State)
	}
	if !strings.Contains(st.Message, "frame source unavailable") {
		t.Errorf("message = %q", st.Message)
	}
}

func TestRunner_RunStopsSessionOnCancel(t *testing.T) {
	t.Parallel()
	opener := liveOpener()
	r := app.NewRunner(sessionBuilder(t, opener, time.Minute), app.WithStopTimeout(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	if _, err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if st := r.Status(); st.Running {
		t.Errorf("session still running after Run returned: %+v", st)
	}
	if !opener.Sources["live"].IsClosed() {
		t.Error("live source not released")
	}
}
