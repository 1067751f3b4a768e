package inference

import (
	"image"

	"github.com/disintegration/imaging"
)

// Enhancer preprocesses a cropped face region before classification.
type Enhancer interface {
	Enhance(region image.Image) image.Image
}

// ContrastSharpen boosts contrast, sharpens, and upscales regions whose
// shorter side is below MinSide. Zero fields disable the matching step.
type ContrastSharpen struct {
	// Contrast is a percentage in [-100, 100].
	Contrast float64

	// Sigma is the Gaussian sharpening strength.
	Sigma float64

	// MinSide is the smallest edge length, in pixels, passed to classifiers.
	MinSide int
}

// DefaultEnhancer returns the enhancement used when none is configured.
func DefaultEnhancer() ContrastSharpen {
	return ContrastSharpen{Contrast: 20, Sigma: 0.8, MinSide: 96}
}

// Enhance implements Enhancer.
func (c ContrastSharpen) Enhance(region image.Image) image.Image {
	if region == nil {
		return nil
	}
	out := region
	b := out.Bounds()
	if side := min(b.Dx(), b.Dy()); c.MinSide > 0 && side > 0 && side < c.MinSide {
		scale := float64(c.MinSide) / float64(side)
		out = imaging.Resize(out, int(float64(b.Dx())*scale+0.5), int(float64(b.Dy())*scale+0.5), imaging.Lanczos)
	}
	if c.Contrast != 0 {
		out = imaging.AdjustContrast(out, c.Contrast)
	}
	if c.Sigma > 0 {
		out = imaging.Sharpen(out, c.Sigma)
	}
	return out
}

var _ Enhancer = ContrastSharpen{}
