// Package vision defines the frame-source and face-detector contracts the
// questionnaire consumes, plus two trivial detectors for pre-framed input.
//
// Concrete sources live in subpackages:
//   - imagedir: a directory of still images played back as a clip.
//   - ffmpeg: a camera device or video file decoded by an ffmpeg subprocess.
//   - mock: scripted frames for tests.
package vision

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/disintegration/imaging"
)

// ErrNoFrame is returned by [Source.Read] implementations that distinguish a
// transient miss from exhaustion. Callers treat it as "skip this tick".
var ErrNoFrame = errors.New("vision: no frame available")

// Frame is one decoded image from a [Source].
type Frame struct {
	Image      image.Image
	Seq        uint64
	CapturedAt time.Time
}

// Region is a cropped area of a frame handed to the classifiers.
type Region struct {
	Bounds image.Rectangle
	Image  image.Image
}

// Source yields frames until it is exhausted.
type Source interface {
	// Read returns the next frame. ok is false once the source is exhausted
	// (end of clip, device gone); err reports a failed read that may be retried.
	Read() (frame Frame, ok bool, err error)

	// Close releases the underlying device, file or process.
	Close() error
}

// Opener opens a Source for a device identifier or file path.
type Opener func(ctx context.Context, target string) (Source, error)

// Detector locates faces in a frame. Implementations return regions in
// descending confidence; callers only consume the first one.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]Region, error)
}

// Crop returns the region of img bounded by r, clipped to the image bounds.
func Crop(img image.Image, r image.Rectangle) Region {
	r = r.Intersect(img.Bounds())
	return Region{Bounds: r, Image: imaging.Crop(img, r)}
}

// FullFrame is a [Detector] that treats the whole frame as the face. It suits
// inputs that are already framed on the subject, such as prerecorded clips.
type FullFrame struct{}

// Detect implements Detector.
func (FullFrame) Detect(_ context.Context, frame Frame) ([]Region, error) {
	if frame.Image == nil {
		return nil, nil
	}
	return []Region{{Bounds: frame.Image.Bounds(), Image: frame.Image}}, nil
}

// CenterCrop is a [Detector] that returns a centred square covering Fraction
// of the shorter image side.
type CenterCrop struct {
	Fraction float64
}

// Detect implements Detector.
func (c CenterCrop) Detect(_ context.Context, frame Frame) ([]Region, error) {
	if frame.Image == nil {
		return nil, nil
	}
	f := c.Fraction
	if f <= 0 || f > 1 {
		f = 0.6
	}
	b := frame.Image.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	side = int(float64(side) * f)
	if side <= 0 {
		return nil, nil
	}
	cx, cy := b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2
	r := image.Rect(cx-side/2, cy-side/2, cx-side/2+side, cy-side/2+side)
	return []Region{Crop(frame.Image, r)}, nil
}
