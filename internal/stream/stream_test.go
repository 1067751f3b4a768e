package stream_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/restquest/internal/stream"
	"github.com/MrWong99/restquest/pkg/vision/mock"
)

func newManager(t *testing.T, clipFrames int) (*stream.Manager, *mock.Source, *mock.Source) {
	t.Helper()
	live := &mock.Source{Frames: -1}
	clip := &mock.Source{Frames: clipFrames}
	op := &mock.Opener{Sources: map[string]*mock.Source{"0": live, "q1.mp4": clip}}
	m, err := stream.New(context.Background(), op.Open, "0", map[int]string{1: "q1.mp4"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, live, clip
}

func TestNew_LiveOpenFailure(t *testing.T) {
	t.Parallel()
	op := &mock.Opener{OpenErr: errors.New("no such device")}
	if _, err := stream.New(context.Background(), op.Open, "0", nil); err == nil {
		t.Fatal("expected error when the live source cannot be opened")
	}
}

func TestRead_LiveWithoutClip(t *testing.T) {
	t.Parallel()
	m, live, _ := newManager(t, 2)
	if err := m.StartQuestion(context.Background(), 0); err != nil {
		t.Fatalf("StartQuestion: %v", err)
	}
	ok, _, exhausted := m.Read()
	if !ok || exhausted {
		t.Fatalf("Read = ok %v exhausted %v, want a live frame", ok, exhausted)
	}
	if live.ReadCount != 1 {
		t.Errorf("live reads = %d, want 1", live.ReadCount)
	}
}

func TestRead_ClipExhaustionReportedOnce(t *testing.T) {
	t.Parallel()
	m, live, clip := newManager(t, 2)
	if err := m.StartQuestion(context.Background(), 1); err != nil {
		t.Fatalf("StartQuestion: %v", err)
	}
	if !m.UsingSubstitute() {
		t.Fatal("clip not selected for question 1")
	}

	var exhaustedCount int
	for range 6 {
		ok, _, exhausted := m.Read()
		if !ok {
			t.Fatal("Read returned no frame")
		}
		if exhausted {
			exhaustedCount++
		}
	}
	if exhaustedCount != 1 {
		t.Errorf("exhausted reported %d times, want 1", exhaustedCount)
	}
	if !clip.IsClosed() {
		t.Error("exhausted clip was not released")
	}
	if m.UsingSubstitute() {
		t.Error("manager still reports the clip as active")
	}
	if live.ReadCount != 4 {
		t.Errorf("live reads = %d, want 4 after the clip ended", live.ReadCount)
	}
}

func TestFinishQuestion_ReleasesClip(t *testing.T) {
	t.Parallel()
	m, live, clip := newManager(t, 100)
	_ = m.StartQuestion(context.Background(), 1)
	m.Read()
	m.FinishQuestion()

	if !clip.IsClosed() {
		t.Error("FinishQuestion did not release the clip")
	}
	if live.IsClosed() {
		t.Error("FinishQuestion released the live source")
	}
	if ok, _, exhausted := m.Read(); !ok || exhausted {
		t.Errorf("Read after finish = ok %v exhausted %v", ok, exhausted)
	}
}

func TestStartQuestion_MissingClipFallsBackToLive(t *testing.T) {
	t.Parallel()
	live := &mock.Source{Frames: -1}
	op := &mock.Opener{Sources: map[string]*mock.Source{"0": live}}
	m, err := stream.New(context.Background(), op.Open, "0", map[int]string{0: "gone.mp4"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.StartQuestion(context.Background(), 0); err != nil {
		t.Fatalf("StartQuestion: %v", err)
	}
	if m.UsingSubstitute() {
		t.Error("manager selected a clip that failed to open")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()
	m, live, clip := newManager(t, 5)
	_ = m.StartQuestion(context.Background(), 1)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !live.IsClosed() || !clip.IsClosed() {
		t.Errorf("live closed %v, clip closed %v; want both", live.IsClosed(), clip.IsClosed())
	}
	if ok, _, _ := m.Read(); ok {
		t.Error("Read succeeded after Close")
	}
	if err := m.StartQuestion(context.Background(), 0); !errors.Is(err, stream.ErrClosed) {
		t.Errorf("StartQuestion after Close = %v, want ErrClosed", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
