// Package inference turns cropped face regions into emotion distributions.
//
// An [Engine] fans a region out to one or more classifier providers and fuses
// their normalised answers into a single [emotion.Distribution]. A [Worker]
// runs the engine on its own goroutine behind a depth-1 freshest-wins slot so
// the capture loop never waits for a model.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/restquest/internal/observe"
	"github.com/MrWong99/restquest/internal/resilience"
	"github.com/MrWong99/restquest/pkg/emotion"
	"github.com/MrWong99/restquest/pkg/provider/classifier"
)

// Policy selects how an [Engine] combines its classifiers.
type Policy string

const (
	// PolicyEnsemble queries every classifier and averages the successful
	// answers with equal weight.
	PolicyEnsemble Policy = "ensemble"

	// PolicyFallback tries classifiers in order and keeps the first answer.
	PolicyFallback Policy = "fallback"
)

// ParsePolicy maps a config string to a Policy. The empty string selects
// [PolicyEnsemble].
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyEnsemble:
		return PolicyEnsemble, nil
	case PolicyFallback:
		return PolicyFallback, nil
	default:
		return "", fmt.Errorf("inference: unknown fusion policy %q", s)
	}
}

// errEmptyScores marks a successful call that carried no usable weight.
var errEmptyScores = errors.New("inference: classifier returned no usable scores")

// Classifier is a named provider as registered in the engine.
type Classifier struct {
	Name     string
	Provider classifier.Provider
}

type guarded struct {
	name     string
	provider classifier.Provider
	breaker  *resilience.CircuitBreaker
}

// Engine fuses the output of several classifiers. It is safe for concurrent
// use as long as the underlying providers are.
type Engine struct {
	classifiers           []guarded
	policy                Policy
	emptyTriggersFallback bool
	enhancer              Enhancer
	metrics               *observe.Metrics
	breakerCfg            resilience.CircuitBreakerConfig
}

// Option is a functional option for [NewEngine].
type Option func(*Engine)

// WithPolicy sets the fusion policy. Defaults to [PolicyEnsemble].
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithEmptyTriggersFallback controls whether an empty-but-successful answer
// counts as a failure. Under [PolicyFallback] a failure moves on to the next
// classifier; when false an empty answer ends the round with no signal.
func WithEmptyTriggersFallback(v bool) Option {
	return func(e *Engine) { e.emptyTriggersFallback = v }
}

// WithEnhancer sets the preprocessing pass. A nil enhancer disables it.
func WithEnhancer(en Enhancer) Option {
	return func(e *Engine) { e.enhancer = en }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCircuitBreaker sets the breaker template applied to every classifier.
// The Name field is replaced by the classifier name.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(e *Engine) { e.breakerCfg = cfg }
}

// NewEngine creates an engine over classifiers, preserving their order.
func NewEngine(classifiers []Classifier, opts ...Option) *Engine {
	e := &Engine{
		policy:   PolicyEnsemble,
		enhancer: DefaultEnhancer(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	for _, c := range classifiers {
		cfg := e.breakerCfg
		cfg.Name = "classifier/" + c.Name
		e.classifiers = append(e.classifiers, guarded{
			name:     c.Name,
			provider: c.Provider,
			breaker:  resilience.NewCircuitBreaker(cfg),
		})
	}
	return e
}

// Len reports the number of configured classifiers.
func (e *Engine) Len() int { return len(e.classifiers) }

// Policy returns the configured fusion policy.
func (e *Engine) Policy() Policy { return e.policy }

// Classify runs one fusion round on region. A nil result means no signal:
// there were no classifiers, every call failed, or nothing usable came back.
// Classifier errors are logged and never returned.
func (e *Engine) Classify(ctx context.Context, region image.Image) emotion.Distribution {
	if len(e.classifiers) == 0 || region == nil {
		return nil
	}
	start := time.Now()
	if e.enhancer != nil {
		region = e.enhancer.Enhance(region)
	}

	var d emotion.Distribution
	switch e.policy {
	case PolicyFallback:
		d = e.fallback(ctx, region)
	default:
		d = e.ensemble(ctx, region)
	}

	e.metrics.InferenceDuration.Record(ctx, time.Since(start).Seconds())
	if d == nil {
		e.metrics.EmptyRounds.Add(ctx, 1)
	}
	return d
}

func (e *Engine) ensemble(ctx context.Context, region image.Image) emotion.Distribution {
	results := make([]emotion.Distribution, len(e.classifiers))
	var g errgroup.Group
	for i := range e.classifiers {
		g.Go(func() error {
			d, err := e.call(ctx, e.classifiers[i], region)
			if err == nil {
				results[i] = d
			}
			return nil
		})
	}
	_ = g.Wait()
	return emotion.Mean(results...)
}

func (e *Engine) fallback(ctx context.Context, region image.Image) emotion.Distribution {
	for _, c := range e.classifiers {
		d, err := e.call(ctx, c, region)
		switch {
		case err == nil:
			return d
		case errors.Is(err, errEmptyScores) && !e.emptyTriggersFallback:
			return nil
		}
	}
	return nil
}

// call invokes one classifier through its breaker. An empty answer is
// returned as errEmptyScores; it only trips the breaker when
// emptyTriggersFallback is set.
func (e *Engine) call(ctx context.Context, c guarded, region image.Image) (emotion.Distribution, error) {
	var out emotion.Distribution
	var empty bool
	start := time.Now()
	err := c.breaker.Execute(func() error {
		scores, err := classify(ctx, c, region)
		if err != nil {
			return err
		}
		if !usable(scores) {
			empty = true
			if e.emptyTriggersFallback {
				return errEmptyScores
			}
			return nil
		}
		out = emotion.Normalize(scores)
		return nil
	})
	e.metrics.ClassifierDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("classifier", c.name)))

	switch {
	case err != nil && !errors.Is(err, errEmptyScores):
		e.metrics.RecordProviderRequest(ctx, c.name, "classifier", "error")
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			e.metrics.RecordProviderError(ctx, c.name, "classifier")
		}
		slog.Debug("classifier failed", "classifier", c.name, "err", err)
		return nil, err
	case empty:
		e.metrics.RecordProviderRequest(ctx, c.name, "classifier", "empty")
		slog.Debug("classifier returned no usable scores", "classifier", c.name)
		return nil, errEmptyScores
	}
	e.metrics.RecordProviderRequest(ctx, c.name, "classifier", "ok")
	return out, nil
}

// classify calls the provider and turns a panic into an error, so a broken
// model counts as a failed call and cannot take down the fan-out goroutine.
func classify(ctx context.Context, c guarded, region image.Image) (scores classifier.Scores, err error) {
	defer func() {
		if r := recover(); r != nil {
			scores, err = nil, fmt.Errorf("inference: classifier %s panicked: %v", c.name, r)
		}
	}()
	return c.provider.Classify(ctx, region)
}

// usable reports whether scores carry positive finite weight on at least one
// vocabulary key.
func usable(scores classifier.Scores) bool {
	for k, v := range scores {
		if emotion.Canonical(k) == "" || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v > 0 {
			return true
		}
	}
	return false
}
