package resilience

import (
	"context"

	"github.com/MrWong99/restquest/pkg/audio"
	"github.com/MrWong99/restquest/pkg/provider/llm"
	"github.com/MrWong99/restquest/pkg/provider/stt"
	"github.com/MrWong99/restquest/pkg/provider/tts"
)

// LLMFallback is an llm.Provider that fails over across several backends.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

// NewLLMFallback returns an LLMFallback preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Complete implements llm.Provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.FallbackGroup, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// STTFallback is an stt.Provider that fails over across several backends.
// [stt.ErrCapabilityMissing] counts as a failure, so a transcriber lacking
// permissions hands the clip to the next one.
type STTFallback struct {
	*FallbackGroup[stt.Provider]
}

// NewSTTFallback returns an STTFallback preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Transcribe implements stt.Provider.
func (f *STTFallback) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	return Call(ctx, f.FallbackGroup, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, clip, opts)
	})
}

// TTSFallback is a tts.Provider that fails over across several backends.
// Only opening the stream is covered; a stream that fails midway is not
// retried.
type TTSFallback struct {
	*FallbackGroup[tts.Provider]
}

// NewTTSFallback returns a TTSFallback preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// SynthesizeStream implements tts.Provider.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	return Call(ctx, f.FallbackGroup, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

var (
	_ llm.Provider = (*LLMFallback)(nil)
	_ stt.Provider = (*STTFallback)(nil)
	_ tts.Provider = (*TTSFallback)(nil)
)
