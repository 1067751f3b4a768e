package affect

import (
	"fmt"
	"math"

	"github.com/MrWong99/restquest/pkg/emotion"
)

// UnknownLabel is returned by [Resolver.PickLabel] for an empty distribution.
const UnknownLabel = "unknown"

// Mix is a blended emotion whose score is the mean of two base weights.
type Mix struct {
	Label      string
	Components [2]string
}

// DefaultMixes is the blended vocabulary used when none is configured.
var DefaultMixes = []Mix{
	{Label: "anxiety", Components: [2]string{emotion.Fear, emotion.Sad}},
	{Label: "awe", Components: [2]string{emotion.Fear, emotion.Surprise}},
	{Label: "delight", Components: [2]string{emotion.Happy, emotion.Surprise}},
	{Label: "contempt", Components: [2]string{emotion.Angry, emotion.Disgust}},
	{Label: "frustration", Components: [2]string{emotion.Angry, emotion.Sad}},
	{Label: "serenity", Components: [2]string{emotion.Happy, emotion.Neutral}},
}

// Label is the outcome of [Resolver.PickLabel].
type Label struct {
	Name    string
	Score   float64
	Derived map[string]float64
}

// Resolver derives blended scores and picks the dominant label. A Resolver
// is read-only after construction.
type Resolver struct {
	mixes []Mix
}

// NewResolver validates mixes and returns a Resolver. Every component must be
// a base key and mix labels must not collide with base keys or each other.
func NewResolver(mixes []Mix) (*Resolver, error) {
	seen := make(map[string]bool, len(mixes))
	for _, k := range emotion.Keys {
		seen[k] = true
	}
	for _, m := range mixes {
		if m.Label == "" {
			return nil, fmt.Errorf("affect: mix label must not be empty")
		}
		if seen[m.Label] {
			return nil, fmt.Errorf("affect: duplicate label %q", m.Label)
		}
		seen[m.Label] = true
		for _, c := range m.Components {
			if emotion.Canonical(c) != c {
				return nil, fmt.Errorf("affect: mix %q: %q is not a base emotion", m.Label, c)
			}
		}
	}
	out := make([]Mix, len(mixes))
	copy(out, mixes)
	return &Resolver{mixes: out}, nil
}

// Mixes returns a copy of the configured mixes in definition order.
func (r *Resolver) Mixes() []Mix {
	out := make([]Mix, len(r.mixes))
	copy(out, r.mixes)
	return out
}

// Derive computes each configured mix's score as the mean of its two base
// weights in d.
func (r *Resolver) Derive(d emotion.Distribution) map[string]float64 {
	out := make(map[string]float64, len(r.mixes))
	for _, m := range r.mixes {
		out[m.Label] = (d[m.Components[0]] + d[m.Components[1]]) / 2
	}
	return out
}

// PickLabel merges base and derived scores and returns the argmax. Candidates
// are considered in definition order (base keys, then mixes) and the first
// one defined wins a tie. An empty distribution yields [UnknownLabel] and 0.
func (r *Resolver) PickLabel(d emotion.Distribution) Label {
	if d.Empty() {
		return Label{Name: UnknownLabel, Derived: map[string]float64{}}
	}
	derived := r.Derive(d)

	best, bestScore := "", math.Inf(-1)
	for _, k := range emotion.Keys {
		if v := d[k]; v > bestScore {
			best, bestScore = k, v
		}
	}
	for _, m := range r.mixes {
		if v := derived[m.Label]; v > bestScore {
			best, bestScore = m.Label, v
		}
	}
	return Label{Name: best, Score: bestScore, Derived: derived}
}
