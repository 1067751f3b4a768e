// Package mock provides in-memory implementations of [audio.Recorder] and
// [audio.Player] for use in unit tests.
//
// Both mocks are safe for concurrent use and record every call.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/restquest/pkg/audio"
)

// Recorder is a mock implementation of [audio.Recorder].
type Recorder struct {
	mu sync.Mutex

	// Clip is returned by every successful Record call. When its format is
	// zero, [audio.SpeechFormat] is used.
	Clip audio.Clip

	// Err, if non-nil, is returned by Record.
	Err error

	// Wait makes Record block for the requested duration (or until ctx is
	// cancelled) like a real device would.
	Wait bool

	// Func, if set, overrides every other field.
	Func func(ctx context.Context, d time.Duration) (audio.Clip, error)

	// Calls holds the requested durations in call order.
	Calls []time.Duration
}

// Record implements [audio.Recorder].
func (r *Recorder) Record(ctx context.Context, d time.Duration) (audio.Clip, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, d)
	fn, clip, err, wait := r.Func, r.Clip, r.Err, r.Wait
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, d)
	}
	if clip.Format == (audio.Format{}) {
		clip.Format = audio.SpeechFormat
	}
	if wait {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return clip, ctx.Err()
		}
	}
	if err != nil {
		return audio.Clip{}, err
	}
	return clip, nil
}

// CallCount returns the number of Record invocations.
func (r *Recorder) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Play.
	Err error

	// Played holds a copy of every payload passed to Play.
	Played [][]byte
}

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, encoded []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Played = append(p.Played, append([]byte(nil), encoded...))
	return p.Err
}

// PlayCount returns the number of Play invocations.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}

var (
	_ audio.Recorder = (*Recorder)(nil)
	_ audio.Player   = (*Player)(nil)
)
