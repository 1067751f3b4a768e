package affect_test

import (
	"math"
	"reflect"
	"testing"

	"github.com/MrWong99/restquest/internal/affect"
	"github.com/MrWong99/restquest/pkg/emotion"
)

func dist(raw map[string]float64) emotion.Distribution { return emotion.Normalize(raw) }

// ── Smoother ─────────────────────────────────────────────────────────────────

func TestSmoother_EmptyAverageIsZero(t *testing.T) {
	t.Parallel()
	s := affect.NewSmoother()
	if s.HasData() {
		t.Fatal("new smoother reports data")
	}
	if got := s.Average().Sum(); got != 0 {
		t.Errorf("average sum = %v, want 0", got)
	}
	if s.Window() != affect.DefaultWindow {
		t.Errorf("window = %d, want %d", s.Window(), affect.DefaultWindow)
	}
}

func TestSmoother_DropsOldestBeyondWindow(t *testing.T) {
	t.Parallel()
	a := dist(map[string]float64{"angry": 1})
	b := dist(map[string]float64{"happy": 1})
	c := dist(map[string]float64{"sad": 1})
	d := dist(map[string]float64{"happy": 0.5, "neutral": 0.5})

	s := affect.NewSmoother(affect.WithWindow(3))
	for _, x := range []emotion.Distribution{a, b, c} {
		s.Update(x)
	}
	got := s.Update(d)

	want := emotion.Mean(b, c, d)
	if !emotion.ApproxEqual(got, want, 1e-9) {
		t.Errorf("average = %v, want mean(B,C,D) = %v", got, want)
	}
	if got[emotion.Angry] != 0 {
		t.Errorf("angry = %v, oldest sample was not evicted", got[emotion.Angry])
	}
	if s.Len() != 3 {
		t.Errorf("len = %d, want 3", s.Len())
	}
}

func TestSmoother_ResetAndIgnoreEmpty(t *testing.T) {
	t.Parallel()
	s := affect.NewSmoother(affect.WithWindow(2))
	s.Update(dist(map[string]float64{"fear": 1}))
	s.Update(nil)
	if s.Len() != 1 {
		t.Fatalf("len = %d after empty update, want 1", s.Len())
	}
	s.Reset()
	if s.HasData() {
		t.Error("HasData after Reset")
	}
	got := s.Update(dist(map[string]float64{"sad": 1}))
	if got[emotion.Sad] != 1 || got[emotion.Fear] != 0 {
		t.Errorf("average after reset = %v, want only sad", got)
	}
}

// ── Resolver ─────────────────────────────────────────────────────────────────

func TestResolver_Derive(t *testing.T) {
	t.Parallel()
	r, err := affect.NewResolver([]affect.Mix{
		{Label: "anxiety", Components: [2]string{emotion.Fear, emotion.Sad}},
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	got := r.Derive(dist(map[string]float64{"fear": 0.6, "sad": 0.2, "happy": 0.2}))
	if math.Abs(got["anxiety"]-0.4) > 1e-9 {
		t.Errorf("anxiety = %v, want 0.4", got["anxiety"])
	}
}

func TestResolver_PickLabel(t *testing.T) {
	t.Parallel()
	r, err := affect.NewResolver(affect.DefaultMixes)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	tests := []struct {
		name      string
		d         emotion.Distribution
		wantLabel string
		wantScore float64
	}{
		{"base wins", dist(map[string]float64{"happy": 1}), "happy", 1},
		{"blend ties its component", dist(map[string]float64{"fear": 0.5, "sad": 0.5}), "fear", 0.5},
		{"tie goes to base", dist(map[string]float64{"happy": 0.5, "surprise": 0.5}), "happy", 0.5},
		{"empty", nil, affect.UnknownLabel, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := r.PickLabel(tc.d)
			if got.Name != tc.wantLabel {
				t.Errorf("label = %q, want %q", got.Name, tc.wantLabel)
			}
			if math.Abs(got.Score-tc.wantScore) > 1e-9 {
				t.Errorf("score = %v, want %v", got.Score, tc.wantScore)
			}
		})
	}
}

func TestResolver_PickLabelDeterministic(t *testing.T) {
	t.Parallel()
	r, err := affect.NewResolver(affect.DefaultMixes)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	d := dist(map[string]float64{"angry": 0.2, "disgust": 0.2, "sad": 0.2, "fear": 0.2, "surprise": 0.2})
	first := r.PickLabel(d)
	for i := 0; i < 50; i++ {
		got := r.PickLabel(d)
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("call %d = %+v, want %+v", i, got, first)
		}
	}
	// Equal base weights tie with equal blends; the first base key wins.
	if first.Name != emotion.Angry {
		t.Errorf("label = %q, want angry", first.Name)
	}
}

func TestNewResolver_RejectsBadMixes(t *testing.T) {
	t.Parallel()
	for _, mixes := range [][]affect.Mix{
		{{Label: "", Components: [2]string{emotion.Fear, emotion.Sad}}},
		{{Label: "happy", Components: [2]string{emotion.Fear, emotion.Sad}}},
		{{Label: "x", Components: [2]string{emotion.Fear, "boredom"}}},
		{
			{Label: "x", Components: [2]string{emotion.Fear, emotion.Sad}},
			{Label: "x", Components: [2]string{emotion.Happy, emotion.Sad}},
		},
	} {
		if _, err := affect.NewResolver(mixes); err == nil {
			t.Errorf("NewResolver(%v) succeeded, want error", mixes)
		}
	}
}

// ── Histogram ────────────────────────────────────────────────────────────────

func TestHistogram_WeightedAverage(t *testing.T) {
	t.Parallel()
	d1 := dist(map[string]float64{"happy": 1})
	d2 := dist(map[string]float64{"sad": 1})
	d3 := dist(map[string]float64{"sad": 0.5, "neutral": 0.5})

	h := affect.NewHistogram()
	h.Accumulate(d1, 0.1)
	h.Accumulate(d2, 0.3)
	h.Accumulate(d3, 0.6)

	got := h.Finalize()
	want := emotion.Zero()
	want[emotion.Happy] = 0.1
	want[emotion.Sad] = 0.3 + 0.3
	want[emotion.Neutral] = 0.3
	if !emotion.ApproxEqual(got, want, 1e-9) {
		t.Errorf("finalize = %v, want %v", got, want)
	}
	if again := h.Finalize(); !reflect.DeepEqual(again, got) {
		t.Errorf("second finalize = %v, want %v", again, got)
	}
}

func TestHistogram_NonPositiveWeightCountsAsOne(t *testing.T) {
	t.Parallel()
	h := affect.NewHistogram()
	h.Accumulate(dist(map[string]float64{"happy": 1}), 0)
	h.Accumulate(dist(map[string]float64{"sad": 1}), -3)
	h.Accumulate(dist(map[string]float64{"sad": 1}), 1)

	if h.TotalWeight() != 3 {
		t.Fatalf("total = %v, want 3", h.TotalWeight())
	}
	got := h.Finalize()
	if math.Abs(got[emotion.Sad]-2.0/3) > 1e-9 {
		t.Errorf("sad = %v, want 2/3", got[emotion.Sad])
	}
}

func TestHistogram_NoWeightFinalizesToZero(t *testing.T) {
	t.Parallel()
	h := affect.NewHistogram()
	h.Accumulate(nil, 5)
	h.Accumulate(emotion.Distribution{}, 5)

	got := h.Finalize()
	if got.Sum() != 0 {
		t.Errorf("finalize = %v, want all-zero", got)
	}
	if len(got) != len(emotion.Keys) {
		t.Errorf("len = %d, want full key set", len(got))
	}
}

func TestHistogram_StartClearsPriorQuestion(t *testing.T) {
	t.Parallel()
	h := affect.NewHistogram()
	h.Accumulate(dist(map[string]float64{"angry": 1}), 2)
	h.Start()
	h.Accumulate(dist(map[string]float64{"happy": 1}), 1)

	got := h.Finalize()
	if got[emotion.Angry] != 0 || got[emotion.Happy] != 1 {
		t.Errorf("finalize = %v, want only happy", got)
	}
}

func TestResolver_MixesIsACopy(t *testing.T) {
	t.Parallel()
	r, err := affect.NewResolver(affect.DefaultMixes)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	got := r.Mixes()
	if !reflect.DeepEqual(got, affect.DefaultMixes) {
		t.Fatalf("Mixes = %+v, want the defaults in order", got)
	}
	got[0].Label = "changed"
	if r.Mixes()[0].Label == "changed" {
		t.Error("mutating the returned slice changed the resolver")
	}
}
