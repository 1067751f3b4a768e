package inference_test

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/restquest/internal/inference"
	"github.com/MrWong99/restquest/internal/observe"
	"github.com/MrWong99/restquest/internal/resilience"
	"github.com/MrWong99/restquest/pkg/emotion"
	"github.com/MrWong99/restquest/pkg/provider/classifier"
	"github.com/MrWong99/restquest/pkg/provider/classifier/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func face() image.Image { return image.NewGray(image.Rect(0, 0, 64, 64)) }

func newEngine(t *testing.T, providers []*mock.Provider, opts ...inference.Option) *inference.Engine {
	t.Helper()
	cs := make([]inference.Classifier, len(providers))
	for i, p := range providers {
		cs[i] = inference.Classifier{Name: string(rune('a' + i)), Provider: p}
	}
	opts = append([]inference.Option{inference.WithMetrics(testMetrics(t)), inference.WithEnhancer(nil)}, opts...)
	return inference.NewEngine(cs, opts...)
}

var errModel = errors.New("model exploded")

func TestEngine_EnsembleAveragesNormalisedOutputs(t *testing.T) {
	t.Parallel()
	a := &mock.Provider{Scores: classifier.Scores{"happiness": 3, "sadness": 1}}
	b := &mock.Provider{Scores: classifier.Scores{"neutral": 10}}
	e := newEngine(t, []*mock.Provider{a, b})

	got := e.Classify(context.Background(), face())
	want := emotion.Distribution{
		emotion.Happy:   0.375,
		emotion.Sad:     0.125,
		emotion.Neutral: 0.5,
	}
	for _, k := range emotion.Keys {
		if diff := got[k] - want[k]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s = %v, want %v", k, got[k], want[k])
		}
	}
}

func TestEngine_EnsembleSkipsFailures(t *testing.T) {
	t.Parallel()
	a := &mock.Provider{Err: errModel}
	b := &mock.Provider{Scores: classifier.Scores{"fear": 1}}
	e := newEngine(t, []*mock.Provider{a, b})

	got := e.Classify(context.Background(), face())
	if key, score := got.Dominant(); key != emotion.Fear || score != 1 {
		t.Errorf("dominant = %s %v, want fear 1", key, score)
	}
}

func TestEngine_NoSignal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		providers []*mock.Provider
	}{
		{"no classifiers", nil},
		{"all fail", []*mock.Provider{{Err: errModel}, {Err: errModel}}},
		{"all empty", []*mock.Provider{{Scores: classifier.Scores{}}, {Scores: classifier.Scores{"contempt": 1}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newEngine(t, tc.providers)
			if got := e.Classify(context.Background(), face()); got != nil {
				t.Errorf("Classify = %v, want nil", got)
			}
		})
	}
}

func TestEngine_FallbackPolicy(t *testing.T) {
	t.Parallel()

	t.Run("error moves to next", func(t *testing.T) {
		t.Parallel()
		a := &mock.Provider{Err: errModel}
		b := &mock.Provider{Scores: classifier.Scores{"sad": 1}}
		c := &mock.Provider{Scores: classifier.Scores{"happy": 1}}
		e := newEngine(t, []*mock.Provider{a, b, c}, inference.WithPolicy(inference.PolicyFallback))

		got := e.Classify(context.Background(), face())
		if key, _ := got.Dominant(); key != emotion.Sad {
			t.Errorf("dominant = %q, want sad", key)
		}
		if c.CallCount() != 0 {
			t.Errorf("third classifier called %d times, want 0", c.CallCount())
		}
	})

	t.Run("empty is no signal by default", func(t *testing.T) {
		t.Parallel()
		a := &mock.Provider{Scores: classifier.Scores{}}
		b := &mock.Provider{Scores: classifier.Scores{"happy": 1}}
		e := newEngine(t, []*mock.Provider{a, b}, inference.WithPolicy(inference.PolicyFallback))

		if got := e.Classify(context.Background(), face()); got != nil {
			t.Errorf("Classify = %v, want nil", got)
		}
		if b.CallCount() != 0 {
			t.Errorf("second classifier called %d times, want 0", b.CallCount())
		}
	})

	t.Run("empty triggers fallback when enabled", func(t *testing.T) {
		t.Parallel()
		a := &mock.Provider{Scores: classifier.Scores{"neutral": 0}}
		b := &mock.Provider{Scores: classifier.Scores{"happy": 1}}
		e := newEngine(t, []*mock.Provider{a, b},
			inference.WithPolicy(inference.PolicyFallback),
			inference.WithEmptyTriggersFallback(true),
		)

		got := e.Classify(context.Background(), face())
		if key, _ := got.Dominant(); key != emotion.Happy {
			t.Errorf("dominant = %q, want happy", key)
		}
	})
}

func TestEngine_BreakerSkipsBrokenClassifier(t *testing.T) {
	t.Parallel()
	a := &mock.Provider{Err: errModel}
	b := &mock.Provider{Scores: classifier.Scores{"happy": 1}}
	e := newEngine(t, []*mock.Provider{a, b},
		inference.WithPolicy(inference.PolicyFallback),
		inference.WithCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}),
	)
	for range 5 {
		e.Classify(context.Background(), face())
	}
	if got := a.CallCount(); got != 2 {
		t.Errorf("broken classifier called %d times, want 2 before the breaker opens", got)
	}
	if got := b.CallCount(); got != 5 {
		t.Errorf("healthy classifier called %d times, want 5", got)
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]inference.Policy{
		"":         inference.PolicyEnsemble,
		"ensemble": inference.PolicyEnsemble,
		"fallback": inference.PolicyFallback,
	} {
		got, err := inference.ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := inference.ParsePolicy("vote"); err == nil {
		t.Error("ParsePolicy(vote): expected error")
	}
}

func TestContrastSharpen_UpscalesSmallRegions(t *testing.T) {
	t.Parallel()
	en := inference.ContrastSharpen{Contrast: 10, Sigma: 0.5, MinSide: 64}
	out := en.Enhance(image.NewGray(image.Rect(0, 0, 32, 16)))
	if b := out.Bounds(); b.Dx() != 128 || b.Dy() != 64 {
		t.Errorf("enhanced size = %dx%d, want 128x64", b.Dx(), b.Dy())
	}
	big := en.Enhance(image.NewGray(image.Rect(0, 0, 100, 80)))
	if b := big.Bounds(); b.Dx() != 100 || b.Dy() != 80 {
		t.Errorf("large region resized to %dx%d", b.Dx(), b.Dy())
	}
}

func TestEngine_PanickingClassifierCountsAsFailure(t *testing.T) {
	t.Parallel()
	boom := func(context.Context, image.Image) (classifier.Scores, error) { panic("model blew up") }

	for _, policy := range []inference.Policy{inference.PolicyEnsemble, inference.PolicyFallback} {
		t.Run(string(policy), func(t *testing.T) {
			t.Parallel()
			bad := &mock.Provider{Func: boom}
			good := &mock.Provider{Scores: classifier.Scores{"happy": 1}}
			e := newEngine(t, []*mock.Provider{bad, good},
				inference.WithPolicy(policy),
				inference.WithCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}),
			)

			w := inference.NewWorker(e, inference.WithWorkerMetrics(testMetrics(t)))
			w.Start(context.Background())
			defer w.Stop(time.Second)

			w.Submit(face())
			waitFor(t, func() bool { return w.Completed() == 1 })
			got, _ := w.Latest()
			if key, score := got.Dominant(); key != emotion.Happy || score != 1 {
				t.Errorf("dominant = %s %v, want happy 1 from the healthy classifier", key, score)
			}

			// The panic tripped the breaker, so the next round skips it.
			w.Submit(face())
			waitFor(t, func() bool { return w.Completed() == 2 })
			if n := bad.CallCount(); n != 1 {
				t.Errorf("panicking classifier called %d times, want 1", n)
			}
		})
	}
}
