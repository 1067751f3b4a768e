// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/restquest/pkg/audio"
	"github.com/MrWong99/restquest/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Clip audio.Clip
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Texts are returned in order, one per call. Once exhausted the last
	// entry repeats.
	Texts []string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Func, if set, overrides Texts and Err.
	Func func(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error)

	// Calls records every invocation in order.
	Calls []TranscribeCall
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	p.mu.Lock()
	n := len(p.Calls)
	p.Calls = append(p.Calls, TranscribeCall{Clip: clip, Opts: opts})
	fn, err := p.Func, p.Err
	var text string
	if len(p.Texts) > 0 {
		text = p.Texts[min(n, len(p.Texts)-1)]
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, clip, opts)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text, Language: opts.Language, Duration: clip.Duration()}, nil
}

// CallCount returns the number of Transcribe invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)
