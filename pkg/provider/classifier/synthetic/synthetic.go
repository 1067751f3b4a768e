// Package synthetic provides a classifier.Provider that invents plausible
// emotion scores. It backs the questionnaire's mock mode so the full
// pipeline can run on machines without any emotion model installed.
package synthetic

import (
	"context"
	"image"
	"math/rand/v2"
	"sync"

	"github.com/MrWong99/restquest/pkg/emotion"
	"github.com/MrWong99/restquest/pkg/provider/classifier"
)

// Provider returns a random distribution per call, optionally tilted toward
// one base key.
type Provider struct {
	mu   sync.Mutex
	rng  *rand.Rand
	bias string
	tilt float64
}

// Option is a functional option for [New].
type Option func(*Provider)

// WithSeed makes the output reproducible.
func WithSeed(seed uint64) Option {
	return func(p *Provider) { p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithBias adds tilt (0..1) of extra weight to key on every call.
func WithBias(key string, tilt float64) Option {
	return func(p *Provider) {
		p.bias = emotion.Canonical(key)
		p.tilt = tilt
	}
}

// New creates a synthetic classifier.
func New(opts ...Option) *Provider {
	p := &Provider{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Classify implements classifier.Provider.
func (p *Provider) Classify(ctx context.Context, _ image.Image) (classifier.Scores, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	scores := make(classifier.Scores, len(emotion.Keys))
	for _, k := range emotion.Keys {
		scores[k] = p.rng.Float64()
	}
	if p.bias != "" && p.tilt > 0 {
		scores[p.bias] += p.tilt * float64(len(emotion.Keys))
	}
	return scores, nil
}

var _ classifier.Provider = (*Provider)(nil)
