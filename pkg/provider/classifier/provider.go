// Package classifier defines the Provider interface for facial emotion
// classifiers.
//
// A classifier receives one cropped face region and returns raw scores keyed
// by whatever label vocabulary the model uses. Callers reconcile the
// vocabulary with emotion.Normalize; classifiers never normalise themselves.
//
// Implementations must be safe for concurrent use.
package classifier

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
)

// Scores maps a model-specific emotion label to a weight. Weights need not
// be probabilities.
type Scores map[string]float64

// Provider is the abstraction over any facial emotion classifier.
type Provider interface {
	// Classify scores region. An empty result with a nil error means the model
	// ran but found nothing usable.
	Classify(ctx context.Context, region image.Image) (Scores, error)
}

// EncodeJPEG encodes img as a JPEG with the given quality (1-100). It is the
// wire format shared by the HTTP and vision-model classifiers.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("classifier: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
