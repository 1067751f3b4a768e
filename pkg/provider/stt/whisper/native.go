//go:build whispercpp

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/restquest/pkg/audio"
	"github.com/MrWong99/restquest/pkg/provider/stt"
)

// NativeProvider implements stt.Provider with the whisper.cpp Go bindings.
// The model is loaded once; every Transcribe call gets its own context.
type NativeProvider struct {
	mu       sync.Mutex
	model    whisperlib.Model
	language string
}

// NewNative loads the ggml model at modelPath. The caller must call Close.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	cfg := nativeConfig{language: defaultLanguage}
	for _, o := range opts {
		o(&cfg)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &NativeProvider{model: model, language: cfg.language}, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// Transcribe implements stt.Provider.
func (p *NativeProvider) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	speech := audio.Conform(clip, audio.SpeechFormat)
	out := stt.Transcript{Language: lang, Duration: speech.Duration()}
	if speech.Empty() || computeRMS(speech.PCM) < defaultRMSThreshold {
		return out, nil
	}

	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	if model == nil {
		return stt.Transcript{}, errors.New("whisper: provider is closed")
	}

	wctx, err := model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using model default", "language", lang, "err", err)
	}
	if err := wctx.Process(pcmToFloat32(speech.PCM), nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	out.Text = strings.Join(parts, " ")
	return out, nil
}

var _ stt.Provider = (*NativeProvider)(nil)
