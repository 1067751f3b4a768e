// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Chunks: [][]byte{[]byte("ID3"), []byte("frame")}}
//	audio, err := tts.Synthesize(ctx, p, "Hello", tts.Voice{ID: "v1"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/restquest/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is emitted on every stream once the text channel is closed.
	Chunks [][]byte

	// Err, if non-nil, is returned by SynthesizeStream.
	Err error

	// Texts records the concatenated text of every stream, in call order.
	Texts []string

	// Voices records the voice of every call.
	Voices []tts.Voice
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	p.Voices = append(p.Voices, voice)
	if p.Err != nil {
		err := p.Err
		p.mu.Unlock()
		return nil, err
	}
	idx := len(p.Texts)
	p.Texts = append(p.Texts, "")
	chunks := append([][]byte(nil), p.Chunks...)
	p.mu.Unlock()

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for s := range text {
			p.mu.Lock()
			p.Texts[idx] += s
			p.mu.Unlock()
		}
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Spoken returns a copy of the recorded texts.
func (p *Provider) Spoken() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Texts...)
}

var _ tts.Provider = (*Provider)(nil)
