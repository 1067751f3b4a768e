// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider consumes text fragments from a channel and emits encoded audio
// chunks (for example MP3 frames) as they are synthesised, so playback
// preparation can start before the whole line is rendered.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"bytes"
	"context"
	"errors"
)

// ErrNoAudio is returned by [Synthesize] when the stream produced nothing.
var ErrNoAudio = errors.New("tts: synthesis produced no audio")

// Voice selects and tunes a provider voice.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Stability and SimilarityBoost are in [0, 1]. Zero values select the
	// provider defaults.
	Stability       float64
	SimilarityBoost float64
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text until the channel is closed and returns
	// a channel of encoded audio chunks. The audio channel is closed when
	// synthesis finishes, fails, or ctx is cancelled; callers must drain it.
	//
	// A non-nil error means the stream could not be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)
}

// Synthesize renders a single line and returns the concatenated audio.
func Synthesize(ctx context.Context, p Provider, line string, voice Voice) ([]byte, error) {
	text := make(chan string, 1)
	text <- line
	close(text)

	chunks, err := p.SynthesizeStream(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for c := range chunks {
		buf.Write(c)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, ErrNoAudio
	}
	return buf.Bytes(), nil
}
