package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/restquest/internal/app"
	"github.com/MrWong99/restquest/internal/config"
	"github.com/MrWong99/restquest/internal/inference"
	"github.com/MrWong99/restquest/internal/observe"
	"github.com/MrWong99/restquest/internal/resilience"
	"github.com/MrWong99/restquest/pkg/audio"
	"github.com/MrWong99/restquest/pkg/audio/device"
	"github.com/MrWong99/restquest/pkg/provider/classifier"
	"github.com/MrWong99/restquest/pkg/provider/classifier/onnx"
	oaclassifier "github.com/MrWong99/restquest/pkg/provider/classifier/openai"
	remoteclassifier "github.com/MrWong99/restquest/pkg/provider/classifier/remote"
	"github.com/MrWong99/restquest/pkg/provider/classifier/synthetic"
	remotedetector "github.com/MrWong99/restquest/pkg/provider/detector/remote"
	"github.com/MrWong99/restquest/pkg/provider/llm"
	"github.com/MrWong99/restquest/pkg/provider/llm/anyllm"
	llmmock "github.com/MrWong99/restquest/pkg/provider/llm/mock"
	oallm "github.com/MrWong99/restquest/pkg/provider/llm/openai"
	"github.com/MrWong99/restquest/pkg/provider/stt"
	sttelevenlabs "github.com/MrWong99/restquest/pkg/provider/stt/elevenlabs"
	sttmock "github.com/MrWong99/restquest/pkg/provider/stt/mock"
	"github.com/MrWong99/restquest/pkg/provider/stt/whisper"
	"github.com/MrWong99/restquest/pkg/provider/tts"
	ttselevenlabs "github.com/MrWong99/restquest/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/MrWong99/restquest/pkg/provider/tts/mock"
	"github.com/MrWong99/restquest/pkg/vision"
	"github.com/MrWong99/restquest/pkg/vision/ffmpeg"
	"github.com/MrWong99/restquest/pkg/vision/imagedir"
)

// mockTranscript is what the mock transcriber hears for every answer.
const mockTranscript = "[mock transcript]"

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// gemini, anthropic, deepseek, mistral and groq share the same pattern:
	// optional APIKey + optional BaseURL.
	for _, providerName := range []string{"gemini", "anthropic", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{Responses: []string{
			"What kind of place helps you unwind the most?",
			"A slow weekend by a quiet lake sounds right for you.",
		}}, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rms, ok := optFloat(entry.Options, "silence_threshold"); ok {
			opts = append(opts, whisper.WithSilenceThreshold(rms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("elevenlabs", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttelevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, sttelevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttelevenlabs.WithBaseURL(entry.BaseURL))
		}
		if diarize, ok := entry.Options["diarize"].(bool); ok {
			opts = append(opts, sttelevenlabs.WithDiarize(diarize))
		}
		return sttelevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{Texts: []string{mockTranscript}}, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttselevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, ttselevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttselevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, ttselevenlabs.WithOutputFormat(outputFmt))
		}
		return ttselevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	// ── Classifiers ───────────────────────────────────────────────────────────
	reg.RegisterClassifier("remote", func(entry config.ProviderEntry) (classifier.Provider, error) {
		var opts []remoteclassifier.Option
		if entry.APIKey != "" {
			opts = append(opts, remoteclassifier.WithAPIKey(entry.APIKey))
		}
		if path := optString(entry.Options, "path"); path != "" {
			opts = append(opts, remoteclassifier.WithPath(path))
		}
		if q, ok := optFloat(entry.Options, "jpeg_quality"); ok {
			opts = append(opts, remoteclassifier.WithJPEGQuality(int(q)))
		}
		return remoteclassifier.New(entry.BaseURL, opts...)
	})

	reg.RegisterClassifier("openai", func(entry config.ProviderEntry) (classifier.Provider, error) {
		var opts []oaclassifier.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaclassifier.WithBaseURL(entry.BaseURL))
		}
		if q, ok := optFloat(entry.Options, "jpeg_quality"); ok {
			opts = append(opts, oaclassifier.WithJPEGQuality(int(q)))
		}
		return oaclassifier.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterClassifier("onnx", func(entry config.ProviderEntry) (classifier.Provider, error) {
		cfg := onnx.Config{
			ModelPath:   entry.Model,
			LibraryPath: optString(entry.Options, "library_path"),
			InputName:   optString(entry.Options, "input_name"),
			OutputName:  optString(entry.Options, "output_name"),
			Labels:      optStrings(entry.Options, "labels"),
		}
		if size, ok := optFloat(entry.Options, "size"); ok {
			cfg.Size = int(size)
		}
		return onnx.New(cfg)
	})

	reg.RegisterClassifier("synthetic", func(entry config.ProviderEntry) (classifier.Provider, error) {
		var opts []synthetic.Option
		if seed, ok := optFloat(entry.Options, "seed"); ok {
			opts = append(opts, synthetic.WithSeed(uint64(seed)))
		}
		if key := optString(entry.Options, "bias"); key != "" {
			tilt, _ := optFloat(entry.Options, "tilt")
			opts = append(opts, synthetic.WithBias(key, tilt))
		}
		return synthetic.New(opts...), nil
	})

	// ── Detectors ─────────────────────────────────────────────────────────────
	reg.RegisterDetector("remote", func(entry config.ProviderEntry) (vision.Detector, error) {
		var opts []remotedetector.Option
		if entry.APIKey != "" {
			opts = append(opts, remotedetector.WithAPIKey(entry.APIKey))
		}
		if s, ok := optFloat(entry.Options, "min_score"); ok {
			opts = append(opts, remotedetector.WithMinScore(s))
		}
		return remotedetector.New(entry.BaseURL, opts...)
	})

	reg.RegisterDetector("center", func(entry config.ProviderEntry) (vision.Detector, error) {
		f, _ := optFloat(entry.Options, "fraction")
		return vision.CenterCrop{Fraction: f}, nil
	})

	for _, kind := range []string{"llm", "stt", "tts", "classifier", "detector"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates everything named in cfg using the registry and
// returns it in an [app.Providers] struct, plus the closers for providers
// holding native resources.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, []func() error, error) {
	ps := &app.Providers{}
	var closers []func() error
	track := func(v any) {
		if c, ok := v.(io.Closer); ok {
			closers = append(closers, c.Close)
		}
	}

	pc := cfg.Providers
	fbCfg := resilience.FallbackConfig{CircuitBreaker: breakerConfig(cfg.Fusion.Breaker)}

	// ── LLM ───────────────────────────────────────────────────────────────────
	if pc.LLM.Configured() {
		p, err := create("llm", pc.LLM, reg.CreateLLM)
		if err != nil {
			return nil, nil, err
		}
		ps.LLM, ps.LLMName = p, pc.LLM.Name
		if pc.LLMFallback.Configured() {
			secondary, err := create("llm", pc.LLMFallback, reg.CreateLLM)
			if err != nil {
				return nil, nil, err
			}
			fb := resilience.NewLLMFallback(p, pc.LLM.Name, fbCfg)
			fb.AddFallback(pc.LLMFallback.Name, secondary)
			ps.LLM = fb
		}
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	sttEntry := pc.STT
	if cfg.Session.Mock {
		sttEntry = config.ProviderEntry{Name: "mock"}
	}
	if sttEntry.Configured() {
		p, err := create("stt", sttEntry, reg.CreateSTT)
		if err != nil {
			return nil, nil, err
		}
		track(p)
		ps.STT = p
		if pc.STTFallback.Configured() && !cfg.Session.Mock {
			secondary, err := create("stt", pc.STTFallback, reg.CreateSTT)
			if err != nil {
				return nil, nil, err
			}
			track(secondary)
			fb := resilience.NewSTTFallback(p, sttEntry.Name, fbCfg)
			fb.AddFallback(pc.STTFallback.Name, secondary)
			ps.STT = fb
		}
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	if pc.TTS.Configured() {
		p, err := create("tts", pc.TTS, reg.CreateTTS)
		if err != nil {
			return nil, nil, err
		}
		ps.TTS = p
		if pc.TTSFallback.Configured() {
			secondary, err := create("tts", pc.TTSFallback, reg.CreateTTS)
			if err != nil {
				return nil, nil, err
			}
			fb := resilience.NewTTSFallback(p, pc.TTS.Name, fbCfg)
			fb.AddFallback(pc.TTSFallback.Name, secondary)
			ps.TTS = fb
		}
	}

	// ── Detector ──────────────────────────────────────────────────────────────
	if pc.Detector.Configured() {
		d, err := create("detector", pc.Detector, reg.CreateDetector)
		if err != nil {
			return nil, nil, err
		}
		ps.Detector = d
	}

	// ── Classifiers and fusion ────────────────────────────────────────────────
	entries := pc.Classifiers
	if cfg.Session.Mock {
		entries = []config.ProviderEntry{{Name: "synthetic"}}
	}
	var classifiers []inference.Classifier
	for i, entry := range entries {
		c, err := create("classifier", entry, reg.CreateClassifier)
		if errors.Is(err, onnx.ErrNativeUnavailable) {
			slog.Warn("skipping classifier", "index", i, "name", entry.Name, "err", err)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		track(c)
		classifiers = append(classifiers, inference.Classifier{Name: classifierName(entry, i), Provider: c})
	}
	if len(classifiers) == 0 {
		return nil, nil, errors.New("no usable emotion classifier")
	}
	policy, err := inference.ParsePolicy(string(cfg.Fusion.Policy))
	if err != nil {
		return nil, nil, err
	}
	var enhancer inference.Enhancer
	if cfg.Fusion.EnhanceEnabled() {
		enhancer = inference.DefaultEnhancer()
	}
	ps.Fuser = inference.NewEngine(classifiers,
		inference.WithPolicy(policy),
		inference.WithEmptyTriggersFallback(cfg.Fusion.EmptyTriggersFallback),
		inference.WithEnhancer(enhancer),
		inference.WithMetrics(metrics),
		inference.WithCircuitBreaker(breakerConfig(cfg.Fusion.Breaker)),
	)

	// ── Devices ───────────────────────────────────────────────────────────────
	ps.Opener = videoOpener(cfg.Video)
	if cfg.Audio.RecordEnabled() {
		ps.Recorder = audioRecorder(cfg.Audio)
	}
	if cmd := cfg.Audio.PlayCommand; len(cmd) > 0 {
		ps.Player = device.NewPlayer(cmd[0], cmd[1:]...)
	}

	return ps, closers, nil
}

// create wraps a registry call with the provider kind and a creation log.
func create[T any](kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, error) {
	p, err := fn(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// classifierName is the metrics and breaker label for the i-th classifier.
func classifierName(entry config.ProviderEntry, i int) string {
	if entry.Model != "" {
		return entry.Name + "/" + entry.Model
	}
	return fmt.Sprintf("%s#%d", entry.Name, i)
}

func breakerConfig(b config.BreakerConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		HalfOpenMax:  b.HalfOpenMax,
	}
}

func videoOpener(vc config.VideoConfig) vision.Opener {
	if vc.Source == config.VideoImageDir {
		var opts []imagedir.Option
		if vc.FPS > 0 {
			opts = append(opts, imagedir.WithFPS(float64(vc.FPS)))
		}
		opts = append(opts, imagedir.WithLoop(vc.Loop))
		return imagedir.Opener(opts...)
	}
	var opts []ffmpeg.Option
	if vc.FFmpeg != "" {
		opts = append(opts, ffmpeg.WithBinary(vc.FFmpeg))
	}
	if vc.FPS > 0 {
		opts = append(opts, ffmpeg.WithFPS(vc.FPS))
	}
	if vc.Width > 0 {
		opts = append(opts, ffmpeg.WithWidth(vc.Width))
	}
	if vc.InputFormat != "" {
		opts = append(opts, ffmpeg.WithInputFormat(vc.InputFormat))
	}
	return ffmpeg.Opener(opts...)
}

func audioRecorder(ac config.AudioConfig) *device.Recorder {
	var opts []device.RecorderOption
	if ac.FFmpeg != "" {
		opts = append(opts, device.WithFFmpeg(ac.FFmpeg))
	}
	if ac.InputFormat != "" || ac.Device != "" {
		opts = append(opts, device.WithInput(ac.InputFormat, ac.Device))
	}
	if ac.SampleRate > 0 || ac.Channels > 0 {
		f := audio.SpeechFormat
		if ac.SampleRate > 0 {
			f.SampleRate = ac.SampleRate
		}
		if ac.Channels > 0 {
			f.Channels = ac.Channels
		}
		opts = append(opts, device.WithFormat(f))
	}
	return device.NewRecorder(opts...)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optStrings extracts a list of strings. Non-string items are skipped.
func optStrings(opts map[string]any, key string) []string {
	raw, _ := opts[key].([]any)
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// optFloat extracts a number from a provider Options map. YAML decodes
// integers as int and decimals as float64; both are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
