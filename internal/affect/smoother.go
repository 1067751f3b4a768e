// Package affect turns a stream of per-frame emotion distributions into the
// signals the questionnaire reads: a smoothed live average for on-screen
// feedback, a duration-weighted per-question spectrum, and a resolved
// dominant label that may be a blended emotion.
//
// None of the types in this package are safe for concurrent use. They are
// owned and mutated by the capture loop only.
package affect

import "github.com/MrWong99/restquest/pkg/emotion"

// DefaultWindow is the smoothing window used when none is configured.
const DefaultWindow = 15

// Smoother keeps the W most recent distributions in a circular buffer and
// exposes their per-key mean.
type Smoother struct {
	window []emotion.Distribution
	pos    int // next write position
	filled int // number of slots in use (up to len(window))
}

// SmootherOption configures a [Smoother].
type SmootherOption func(*Smoother)

// WithWindow sets the window size. Values below 1 are ignored.
func WithWindow(n int) SmootherOption {
	return func(s *Smoother) {
		if n > 0 {
			s.window = make([]emotion.Distribution, n)
		}
	}
}

// NewSmoother creates a Smoother with [DefaultWindow] slots unless overridden.
func NewSmoother(opts ...SmootherOption) *Smoother {
	s := &Smoother{window: make([]emotion.Distribution, DefaultWindow)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Window returns the configured window size.
func (s *Smoother) Window() int { return len(s.window) }

// Update appends d, evicting the oldest sample once the window is full, and
// returns the new running average. Empty distributions are ignored and the
// current average is returned unchanged.
func (s *Smoother) Update(d emotion.Distribution) emotion.Distribution {
	if d.Empty() {
		return s.Average()
	}
	s.window[s.pos] = d.Clone()
	s.pos = (s.pos + 1) % len(s.window)
	if s.filled < len(s.window) {
		s.filled++
	}
	return s.Average()
}

// Average returns the per-key mean over the samples currently held. With no
// samples it returns an all-zero distribution; callers check [Smoother.HasData].
func (s *Smoother) Average() emotion.Distribution {
	out := emotion.Zero()
	if s.filled == 0 {
		return out
	}
	for i := 0; i < s.filled; i++ {
		idx := (s.pos - s.filled + i + len(s.window)) % len(s.window)
		for _, k := range emotion.Keys {
			out[k] += s.window[idx][k]
		}
	}
	for _, k := range emotion.Keys {
		out[k] /= float64(s.filled)
	}
	return out
}

// HasData reports whether at least one sample is held.
func (s *Smoother) HasData() bool { return s.filled > 0 }

// Len returns the number of samples currently held.
func (s *Smoother) Len() int { return s.filled }

// Reset clears the window.
func (s *Smoother) Reset() {
	for i := range s.window {
		s.window[i] = nil
	}
	s.pos = 0
	s.filled = 0
}
