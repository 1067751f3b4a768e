// Package emotion defines the fixed base emotion vocabulary and the
// distribution type every classifier output is normalised onto.
//
// A [Distribution] maps each base key to a non-negative weight. Distributions
// produced by [Normalize] always carry the full key set and sum to 1. A nil
// or empty Distribution means "no signal" and is never an error.
package emotion

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Base emotion keys. The order of [Keys] is significant: it is the
// definition order used for tie-breaking when picking a dominant label.
const (
	Angry    = "angry"
	Disgust  = "disgust"
	Fear     = "fear"
	Happy    = "happy"
	Sad      = "sad"
	Surprise = "surprise"
	Neutral  = "neutral"
)

// Keys is the ordered base vocabulary.
var Keys = []string{Angry, Disgust, Fear, Happy, Sad, Surprise, Neutral}

// Tolerance is the absolute tolerance used when comparing weights.
const Tolerance = 1e-6

// aliases folds the labels emitted by common classifiers (FER+, DeepFace,
// HSEmotion, vision LLMs) onto the base vocabulary.
var aliases = map[string]string{
	"anger":     Angry,
	"angry":     Angry,
	"disgust":   Disgust,
	"disgusted": Disgust,
	"fear":      Fear,
	"fearful":   Fear,
	"scared":    Fear,
	"happy":     Happy,
	"happiness": Happy,
	"joy":       Happy,
	"sad":       Sad,
	"sadness":   Sad,
	"surprise":  Surprise,
	"surprised": Surprise,
	"neutral":   Neutral,
	"calm":      Neutral,
}

// Distribution is a mapping from base emotion key to weight.
type Distribution map[string]float64

// IsKey reports whether key (after alias folding) is part of the base
// vocabulary.
func IsKey(key string) bool {
	_, ok := aliases[foldKey(key)]
	return ok
}

// Canonical returns the base key for a classifier label, or "" when the label
// is not part of the vocabulary.
func Canonical(label string) string {
	return aliases[foldKey(label)]
}

func foldKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Zero returns a distribution with every base key set to 0.
func Zero() Distribution {
	d := make(Distribution, len(Keys))
	for _, k := range Keys {
		d[k] = 0
	}
	return d
}

// NeutralOnly returns the canonical all-neutral distribution.
func NeutralOnly() Distribution {
	d := Zero()
	d[Neutral] = 1
	return d
}

// Normalize turns an arbitrary raw score mapping into a unit-sum
// distribution over [Keys]. Unknown keys are dropped, negative and
// non-finite weights count as zero, and an input whose total is not positive
// normalises to [NeutralOnly]. Normalize is idempotent.
func Normalize(raw map[string]float64) Distribution {
	out := Zero()
	var total float64
	for label, v := range raw {
		key := Canonical(label)
		if key == "" {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			v = 0
		}
		out[key] += v
		total += v
	}
	if total <= 0 {
		return NeutralOnly()
	}
	for _, k := range Keys {
		out[k] /= total
	}
	return out
}

// Empty reports whether d carries no signal.
func (d Distribution) Empty() bool { return len(d) == 0 }

// Sum returns the total weight over the base keys.
func (d Distribution) Sum() float64 {
	var s float64
	for _, k := range Keys {
		s += d[k]
	}
	return s
}

// Clone returns an independent copy of d restricted to the base keys. A nil
// distribution clones to nil.
func (d Distribution) Clone() Distribution {
	if d == nil {
		return nil
	}
	out := make(Distribution, len(Keys))
	for _, k := range Keys {
		out[k] = d[k]
	}
	return out
}

// Dominant returns the base key with the largest weight. Ties resolve to the
// key defined first in [Keys]. An empty distribution returns ("", 0).
func (d Distribution) Dominant() (string, float64) {
	if d.Empty() {
		return "", 0
	}
	best, bestScore := "", math.Inf(-1)
	for _, k := range Keys {
		if v := d[k]; v > bestScore {
			best, bestScore = k, v
		}
	}
	return best, bestScore
}

// ApproxEqual reports whether a and b agree on every base key within tol.
func ApproxEqual(a, b Distribution, tol float64) bool {
	for _, k := range Keys {
		if math.Abs(a[k]-b[k]) > tol {
			return false
		}
	}
	return true
}

// Mean returns the element-wise equal-weight average of the non-empty
// distributions in ds. It returns nil when none carry signal.
func Mean(ds ...Distribution) Distribution {
	var n int
	out := Zero()
	for _, d := range ds {
		if d.Empty() {
			continue
		}
		n++
		for _, k := range Keys {
			out[k] += d[k]
		}
	}
	if n == 0 {
		return nil
	}
	for _, k := range Keys {
		out[k] /= float64(n)
	}
	return out
}

// Format renders the top entries of d as "happy 60%, sad 40%". Entries that
// round to 0% are skipped; when nothing remains it returns "neutral 100%".
func Format(d Distribution, top int) string {
	type entry struct {
		key   string
		value float64
	}
	entries := make([]entry, 0, len(Keys))
	for _, k := range Keys {
		entries = append(entries, entry{k, d[k]})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].value > entries[j].value })
	if top > 0 && top < len(entries) {
		entries = entries[:top]
	}

	var parts []string
	for _, e := range entries {
		pct := int(math.Round(e.value * 100))
		if pct <= 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %d%%", e.key, pct))
	}
	if len(parts) == 0 {
		return "neutral 100%"
	}
	return strings.Join(parts, ", ")
}
