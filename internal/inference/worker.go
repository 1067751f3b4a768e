package inference

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/restquest/internal/observe"
	"github.com/MrWong99/restquest/pkg/emotion"
)

// ErrJoinTimeout is returned by [Worker.Stop] when the in-flight inference
// does not finish within the allowed time.
var ErrJoinTimeout = errors.New("inference: worker did not stop in time")

// Fuser is the part of [Engine] the worker depends on.
type Fuser interface {
	Classify(ctx context.Context, region image.Image) emotion.Distribution
}

type job struct {
	region image.Image

	// warmup holds the channels closed once this warm-up round finishes.
	// Empty for regular regions.
	warmup []chan struct{}
}

// Worker owns all fusion calls. The capture loop hands regions over with
// [Worker.Submit] and polls [Worker.Latest]; neither call blocks on
// inference.
//
// The pending slot holds at most one region. Submitting while a region is
// still pending replaces it, so the worker is never more than one inference
// behind the newest frame.
type Worker struct {
	fuser   Fuser
	metrics *observe.Metrics

	mu        sync.Mutex
	pending   *job
	latest    emotion.Distribution
	completed uint64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// WorkerOption is a functional option for [NewWorker].
type WorkerOption func(*Worker)

// WithWorkerMetrics overrides the metrics sink.
func WithWorkerMetrics(m *observe.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// NewWorker creates a stopped worker around f.
func NewWorker(f Fuser, opts ...WorkerOption) *Worker {
	w := &Worker{
		fuser: f,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// Start launches the worker goroutine. ctx is passed to every fusion call;
// stopping the worker does not cancel it. Calling Start more than once has no
// effect.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() { go w.loop(ctx) })
}

// Submit stores region as the next item to classify, replacing any region
// that has not been picked up yet. It never blocks.
func (w *Worker) Submit(region image.Image) {
	if region == nil {
		return
	}
	w.put(&job{region: region})
	w.metrics.Submissions.Add(context.Background(), 1)
}

// put fills the pending slot. A pending warm-up job is never replaced: a
// regular region is dropped, and a second warm-up waits on the pending one.
func (w *Worker) put(j *job) {
	w.mu.Lock()
	switch {
	case w.pending == nil:
		w.pending = j
	case len(w.pending.warmup) > 0 && len(j.warmup) > 0:
		w.pending.warmup = append(w.pending.warmup, j.warmup...)
	case len(w.pending.warmup) > 0:
		w.metrics.DroppedRegions.Add(context.Background(), 1)
	default:
		w.metrics.DroppedRegions.Add(context.Background(), 1)
		w.pending = j
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Latest returns the most recently completed distribution. ok is false until
// the first round with signal completes or after [Worker.Reset].
func (w *Worker) Latest() (d emotion.Distribution, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == nil {
		return nil, false
	}
	return w.latest.Clone(), true
}

// Completed returns how many rounds have produced a distribution. Callers
// compare it between polls to detect a fresh result.
func (w *Worker) Completed() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completed
}

// Reset forgets the latest result so the next question does not start from
// the previous one.
func (w *Worker) Reset() {
	w.mu.Lock()
	w.latest = nil
	w.mu.Unlock()
}

// Warmup pushes a neutral grey region of the given edge length through the
// worker and waits up to timeout for it to be processed. Its result is
// discarded. It reports whether the warm-up round finished in time.
func (w *Worker) Warmup(size int, timeout time.Duration) bool {
	if size <= 0 {
		size = 48
	}
	grey := image.NewGray(image.Rect(0, 0, size, size))
	for i := range grey.Pix {
		grey.Pix[i] = 128
	}
	done := make(chan struct{})
	w.put(&job{region: grey, warmup: []chan struct{}{done}})

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-w.wake:
		}

		w.mu.Lock()
		j := w.pending
		w.pending = nil
		w.mu.Unlock()
		if j == nil {
			continue
		}

		d := w.run(ctx, j.region)
		if len(j.warmup) > 0 {
			for _, ch := range j.warmup {
				close(ch)
			}
			continue
		}
		if d.Empty() {
			continue
		}
		w.mu.Lock()
		w.latest = d
		w.completed++
		w.mu.Unlock()
	}
}

// run calls the fuser and turns a panic into "no result this round".
func (w *Worker) run(ctx context.Context, region image.Image) (d emotion.Distribution) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("inference round panicked", "panic", r)
			d = nil
		}
	}()
	return w.fuser.Classify(ctx, region)
}

// Stop signals the worker to exit after the current round and waits up to
// timeout for it. A worker that was never started stops immediately.
func (w *Worker) Stop(timeout time.Duration) error {
	w.stopOnce.Do(func() { close(w.stop) })

	started := true
	w.startOnce.Do(func() {
		started = false
		close(w.done)
	})
	if !started {
		return nil
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.done:
		return nil
	case <-t.C:
		return ErrJoinTimeout
	}
}
