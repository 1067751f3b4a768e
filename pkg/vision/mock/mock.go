// Package mock provides test doubles for vision.Source, vision.Opener and
// vision.Detector.
//
// Source plays back a fixed number of frames (or forever when Frames is
// negative) and records Close calls. Opener hands out pre-built sources by
// target name and can inject open failures.
package mock

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/MrWong99/restquest/pkg/vision"
)

// Source is a mock implementation of vision.Source.
type Source struct {
	mu sync.Mutex

	// Frames is the number of frames returned before the source reports
	// exhaustion. A negative value never exhausts.
	Frames int

	// Fill is the colour of every generated frame. Zero value is black.
	Fill color.Color

	// ReadErr, if non-nil, is returned by every Read.
	ReadErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ReadCount is the number of Read calls.
	ReadCount int

	// Closed reports whether Close has been called.
	Closed bool

	served uint64
}

// Read implements vision.Source.
func (s *Source) Read() (vision.Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadCount++
	if s.ReadErr != nil {
		return vision.Frame{}, true, s.ReadErr
	}
	if s.Closed || (s.Frames >= 0 && s.served >= uint64(s.Frames)) {
		return vision.Frame{}, false, nil
	}
	s.served++
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	if s.Fill != nil {
		for i := range img.Pix {
			img.Pix[i] = color.GrayModel.Convert(s.Fill).(color.Gray).Y
		}
	}
	return vision.Frame{Image: img, Seq: s.served, CapturedAt: time.Now()}, true, nil
}

// Close implements vision.Source.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return s.CloseErr
}

// IsClosed reports whether Close has been called.
func (s *Source) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}

// Opener hands out sources keyed by target.
type Opener struct {
	mu sync.Mutex

	// Sources maps a target to the source returned for it.
	Sources map[string]*Source

	// OpenErr, if non-nil, is returned by every Open call.
	OpenErr error

	// Opened records every target passed to Open in order.
	Opened []string
}

// Open matches the vision.Opener signature.
func (o *Opener) Open(_ context.Context, target string) (vision.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Opened = append(o.Opened, target)
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	src, ok := o.Sources[target]
	if !ok {
		return nil, fmt.Errorf("mock: %w: %q", errUnknownTarget, target)
	}
	return src, nil
}

var errUnknownTarget = errors.New("unknown target")

// Detector is a mock implementation of vision.Detector.
type Detector struct {
	mu sync.Mutex

	// Regions, if non-nil, is returned for every frame. When nil the whole
	// frame is returned as a single region.
	Regions []vision.Region

	// Err, if non-nil, is returned by Detect.
	Err error

	// Calls counts Detect invocations.
	Calls int
}

// Detect implements vision.Detector.
func (d *Detector) Detect(ctx context.Context, frame vision.Frame) ([]vision.Region, error) {
	d.mu.Lock()
	d.Calls++
	regions, err := d.Regions, d.Err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if regions != nil {
		return regions, nil
	}
	return vision.FullFrame{}.Detect(ctx, frame)
}

var (
	_ vision.Source   = (*Source)(nil)
	_ vision.Detector = (*Detector)(nil)
)
