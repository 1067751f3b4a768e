// Package imagedir plays back a directory of still images (PNG or JPEG) as a
// frame source. It stands in for a prerecorded response clip: frames are
// paced against the wall clock at a fixed rate and the source reports
// exhaustion once the clip's duration has elapsed.
package imagedir

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/restquest/pkg/vision"
)

const defaultFPS = 15

// Source implements vision.Source over a sorted list of image files.
type Source struct {
	files []string
	fps   float64
	loop  bool
	now   func() time.Time

	mu      sync.Mutex
	started time.Time
	lastIdx int
	last    image.Image
	seq     uint64
	closed  bool
}

// Option is a functional option for [Open].
type Option func(*Source)

// WithFPS sets the playback rate in frames per second. Defaults to 15.
func WithFPS(fps float64) Option {
	return func(s *Source) {
		if fps > 0 {
			s.fps = fps
		}
	}
}

// WithLoop makes the clip restart instead of exhausting.
func WithLoop(loop bool) Option {
	return func(s *Source) { s.loop = loop }
}

// WithClock overrides the wall clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// Open lists the images under dir. The directory must contain at least one
// .png, .jpg or .jpeg file.
func Open(dir string, opts ...Option) (*Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("imagedir: read %q: %w", dir, err)
	}
	s := &Source{fps: defaultFPS, now: time.Now, lastIdx: -1}
	for _, o := range opts {
		o(s)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			s.files = append(s.files, filepath.Join(dir, e.Name()))
		}
	}
	if len(s.files) == 0 {
		return nil, fmt.Errorf("imagedir: no images in %q", dir)
	}
	sort.Strings(s.files)
	return s, nil
}

// Opener adapts [Open] to vision.Opener.
func Opener(opts ...Option) vision.Opener {
	return func(_ context.Context, target string) (vision.Source, error) {
		return Open(target, opts...)
	}
}

// Duration returns the playback length of one pass through the clip.
func (s *Source) Duration() time.Duration {
	return time.Duration(float64(time.Second) * float64(len(s.files)) / s.fps)
}

// Read implements vision.Source. The first call starts the playback clock.
func (s *Source) Read() (vision.Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vision.Frame{}, false, nil
	}

	now := s.now()
	if s.started.IsZero() {
		s.started = now
	}
	idx := int(now.Sub(s.started).Seconds() * s.fps)
	if idx >= len(s.files) {
		if !s.loop {
			return vision.Frame{}, false, nil
		}
		idx %= len(s.files)
	}

	if idx != s.lastIdx || s.last == nil {
		img, err := decode(s.files[idx])
		if err != nil {
			return vision.Frame{}, true, err
		}
		s.last, s.lastIdx = img, idx
	}
	s.seq++
	return vision.Frame{Image: s.last, Seq: s.seq, CapturedAt: now}, true, nil
}

// Close implements vision.Source.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.last = nil
	return nil
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imagedir: open %q: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("imagedir: decode %q: %w", path, err)
	}
	return img, nil
}

var _ vision.Source = (*Source)(nil)
