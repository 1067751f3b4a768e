//go:build onnx

package onnx

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/restquest/pkg/provider/classifier"
)

// ErrNativeUnavailable is never returned when the onnx tag is set; it exists
// so callers can match on it regardless of build tags.
var ErrNativeUnavailable = errors.New("onnx: backend not available (build with -tags onnx)")

// NativeAvailable reports that the ONNX backend is compiled in.
func NativeAvailable() bool { return true }

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// Provider runs an ONNX emotion model. A single session is shared and
// guarded by a mutex since the input/output tensors are reused.
type Provider struct {
	cfg Config

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// New loads the model and allocates the tensors.
func New(cfg Config) (*Provider, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx: model path must not be empty")
	}
	cfg.applyDefaults()

	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("onnx: initialise runtime: %w", ortInitErr)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(cfg.Size), int64(cfg.Size)))
	if err != nil {
		return nil, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(cfg.Labels))))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("onnx: create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}
	return &Provider{cfg: cfg, session: session, input: input, output: output}, nil
}

// Classify implements classifier.Provider. The region is converted to
// grayscale and resized to the model's input edge; pixel values stay in the
// 0-255 range FER+ was trained on.
func (p *Provider) Classify(ctx context.Context, region image.Image) (classifier.Scores, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gray := imaging.Grayscale(imaging.Resize(region, p.cfg.Size, p.cfg.Size, imaging.Linear))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, errors.New("onnx: provider is closed")
	}

	data := p.input.GetData()
	for y := 0; y < p.cfg.Size; y++ {
		for x := 0; x < p.cfg.Size; x++ {
			// NRGBA from imaging; grayscale has R == G == B.
			data[y*p.cfg.Size+x] = float32(gray.Pix[y*gray.Stride+x*4])
		}
	}
	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}

	probs := softmax(p.output.GetData())
	scores := make(classifier.Scores, len(probs))
	for i, v := range probs {
		if i < len(p.cfg.Labels) {
			scores[p.cfg.Labels[i]] = v
		}
	}
	return scores, nil
}

// Close releases ONNX Runtime resources. Safe to call multiple times.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	if p.input != nil {
		p.input.Destroy()
		p.input = nil
	}
	if p.output != nil {
		p.output.Destroy()
		p.output = nil
	}
	return nil
}

var _ classifier.Provider = (*Provider)(nil)
