// Package stream selects the frame source for each question.
//
// A [Manager] holds the live source for its whole lifetime. Questions that
// have a prerecorded response clip configured play that clip instead; when
// the clip runs out the manager switches back to the live source and reports
// the exhaustion exactly once so the caller can finalize early.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/restquest/pkg/vision"
)

// ErrClosed is returned by operations on a closed [Manager].
var ErrClosed = errors.New("stream: manager closed")

// Manager owns the live source and the current question's substitute
// source. All methods are safe for concurrent use, although in practice only
// the capture loop reads frames.
type Manager struct {
	open  vision.Opener
	clips map[int]string

	mu        sync.Mutex
	live      vision.Source
	sub       vision.Source
	subTarget string
	question  int
	closed    bool
}

// New opens the live source at liveTarget. clips maps a 0-based question
// index to a substitute clip target; it may be nil. A live source that fails
// to open is returned as an error.
func New(ctx context.Context, open vision.Opener, liveTarget string, clips map[int]string) (*Manager, error) {
	live, err := open(ctx, liveTarget)
	if err != nil {
		return nil, fmt.Errorf("stream: open live source %q: %w", liveTarget, err)
	}
	c := make(map[int]string, len(clips))
	for i, t := range clips {
		if t != "" {
			c[i] = t
		}
	}
	return &Manager{open: open, clips: c, live: live, question: -1}, nil
}

// StartQuestion selects the source for question index. A configured clip
// that cannot be opened is logged and the live source is used instead.
func (m *Manager) StartQuestion(ctx context.Context, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.releaseSubLocked()
	m.question = index

	target, ok := m.clips[index]
	if !ok {
		return nil
	}
	src, err := m.open(ctx, target)
	if err != nil {
		slog.Warn("response clip unavailable, using live source", "index", index, "clip", target, "err", err)
		return nil
	}
	m.sub, m.subTarget = src, target
	slog.Debug("response clip started", "index", index, "clip", target)
	return nil
}

// Read returns the next frame from the active source. exhausted is true on
// the single call where a substitute clip ran out and the manager fell back
// to the live source; frame then comes from the live source. ok is false
// when no frame could be read this call.
func (m *Manager) Read() (ok bool, frame vision.Frame, exhausted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, vision.Frame{}, false
	}

	if m.sub != nil {
		f, more, err := m.sub.Read()
		switch {
		case err != nil:
			slog.Debug("response clip read failed", "clip", m.subTarget, "err", err)
			return false, vision.Frame{}, false
		case more:
			return true, f, false
		}
		slog.Debug("response clip exhausted", "index", m.question, "clip", m.subTarget)
		m.releaseSubLocked()
		exhausted = true
	}

	f, more, err := m.live.Read()
	if err != nil {
		slog.Debug("live source read failed", "err", err)
		return false, vision.Frame{}, exhausted
	}
	return more, f, exhausted
}

// UsingSubstitute reports whether a clip is currently the active source.
func (m *Manager) UsingSubstitute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub != nil
}

// FinishQuestion releases the substitute clip, if any, and restores the live
// source.
func (m *Manager) FinishQuestion() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseSubLocked()
}

func (m *Manager) releaseSubLocked() {
	if m.sub == nil {
		return
	}
	if err := m.sub.Close(); err != nil {
		slog.Debug("close response clip", "clip", m.subTarget, "err", err)
	}
	m.sub, m.subTarget = nil, ""
}

// Close releases every source. Further reads report no frame.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.releaseSubLocked()
	if err := m.live.Close(); err != nil {
		return fmt.Errorf("stream: close live source: %w", err)
	}
	return nil
}
