//go:build !onnx

package onnx

import (
	"context"
	"errors"
	"image"

	"github.com/MrWong99/restquest/pkg/provider/classifier"
)

// ErrNativeUnavailable indicates the ONNX backend is not compiled in.
var ErrNativeUnavailable = errors.New("onnx: backend not available (build with -tags onnx)")

// NativeAvailable reports that no native backend is compiled in.
func NativeAvailable() bool { return false }

// Provider is a placeholder so callers compile without the onnx tag.
type Provider struct{}

// New returns ErrNativeUnavailable when built without the onnx tag.
func New(_ Config) (*Provider, error) {
	return nil, ErrNativeUnavailable
}

// Classify always fails with ErrNativeUnavailable.
func (p *Provider) Classify(context.Context, image.Image) (classifier.Scores, error) {
	return nil, ErrNativeUnavailable
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }

var _ classifier.Provider = (*Provider)(nil)
