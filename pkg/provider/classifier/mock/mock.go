// Package mock provides a test double for the classifier.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Scores: classifier.Scores{"happy": 1}}
//	scores, err := p.Classify(ctx, img)
package mock

import (
	"context"
	"image"
	"maps"
	"sync"

	"github.com/MrWong99/restquest/pkg/provider/classifier"
)

// Provider is a mock implementation of classifier.Provider.
type Provider struct {
	mu sync.Mutex

	// Scores is returned by Classify (copied per call).
	Scores classifier.Scores

	// Err, if non-nil, is returned by Classify.
	Err error

	// Func, if set, overrides Scores and Err entirely. Use it to block, to
	// vary the answer per call, or to observe the context.
	Func func(ctx context.Context, region image.Image) (classifier.Scores, error)

	// Calls counts Classify invocations.
	Calls int
}

// Classify implements classifier.Provider.
func (p *Provider) Classify(ctx context.Context, region image.Image) (classifier.Scores, error) {
	p.mu.Lock()
	p.Calls++
	fn, scores, err := p.Func, maps.Clone(p.Scores), p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, region)
	}
	if err != nil {
		return nil, err
	}
	return scores, nil
}

// Set replaces the canned scores. Safe to call while Classify runs elsewhere.
func (p *Provider) Set(scores classifier.Scores, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Scores, p.Err = scores, err
}

// CallCount returns the number of Classify invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls
}

var _ classifier.Provider = (*Provider)(nil)
