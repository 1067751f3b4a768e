package affect

import "github.com/MrWong99/restquest/pkg/emotion"

// Histogram accumulates duration-weighted emotion contributions over one
// question's listening phase. Weighting by elapsed wall-clock time keeps the
// result independent of the capture frame rate.
type Histogram struct {
	sums  map[string]float64
	total float64
}

// NewHistogram returns a zeroed Histogram.
func NewHistogram() *Histogram {
	h := &Histogram{}
	h.Start()
	return h
}

// Start zeroes the running sums and total weight.
func (h *Histogram) Start() {
	h.sums = make(map[string]float64, len(emotion.Keys))
	h.total = 0
}

// Accumulate adds d weighted by weight. A weight that is not positive counts
// as 1. An empty distribution is a no-op.
func (h *Histogram) Accumulate(d emotion.Distribution, weight float64) {
	if d.Empty() {
		return
	}
	if h.sums == nil {
		h.Start()
	}
	if weight <= 0 {
		weight = 1
	}
	for _, k := range emotion.Keys {
		h.sums[k] += d[k] * weight
	}
	h.total += weight
}

// TotalWeight returns the accumulated weight.
func (h *Histogram) TotalWeight() float64 { return h.total }

// Finalize returns the weighted average of everything accumulated since the
// last Start. With no accumulated weight it returns an all-zero distribution.
// Finalize does not mutate the Histogram, so repeated calls agree.
func (h *Histogram) Finalize() emotion.Distribution {
	out := emotion.Zero()
	if h.total <= 0 {
		return out
	}
	for _, k := range emotion.Keys {
		out[k] = h.sums[k] / h.total
	}
	return out
}
