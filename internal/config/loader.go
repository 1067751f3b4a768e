package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/restquest/pkg/emotion"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "gemini", "anthropic", "ollama", "mistral", "groq", "deepseek", "mock"},
	"stt":        {"whisper", "whisper-native", "elevenlabs", "mock"},
	"tts":        {"elevenlabs", "mock"},
	"classifier": {"remote", "openai", "onnx", "synthetic"},
	"detector":   {"remote", "center"},
}

// DefaultDataDir is the directory the default journal paths live in.
const DefaultDataDir = "data"

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// against the environment, applies defaults, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given: mock
// providers, the default question, and files under [DefaultDataDir].
func Default() *Config {
	cfg := &Config{}
	cfg.Session.Mock = true
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Fusion.Policy == "" {
		cfg.Fusion.Policy = PolicyEnsemble
	}

	s := &cfg.Session
	if len(s.Questions) == 0 {
		s.Questions = []string{DefaultQuestion}
	}
	if s.FollowUps == nil {
		one := 1
		s.FollowUps = &one
	}
	if s.Language == "" {
		s.Language = "en"
	}

	if cfg.Video.Source == "" {
		cfg.Video.Source = VideoFFmpeg
	}
	if cfg.Video.Device == "" {
		cfg.Video.Device = "0"
	}

	j := &cfg.Journal
	if j.ResultsPath == "" {
		j.ResultsPath = filepath.Join(DefaultDataDir, "emotion_log.jsonl")
	}
	if j.SessionsPath == "" {
		j.SessionsPath = filepath.Join(DefaultDataDir, "sessions.jsonl")
	}
	if j.ConversationPath == "" {
		j.ConversationPath = filepath.Join(DefaultDataDir, "conversation_log.txt")
	}
	if j.AnswersPath == "" {
		j.AnswersPath = filepath.Join(DefaultDataDir, "latest_answers.json")
	}
	if j.TranscriptPath == "" {
		j.TranscriptPath = filepath.Join(DefaultDataDir, "latest_transcript.json")
	}
	if j.AudioDir == "" {
		j.AudioDir = filepath.Join(DefaultDataDir, "audio")
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	p := cfg.Providers
	validateProviderName("llm", p.LLM.Name)
	validateProviderName("llm", p.LLMFallback.Name)
	validateProviderName("stt", p.STT.Name)
	validateProviderName("stt", p.STTFallback.Name)
	validateProviderName("tts", p.TTS.Name)
	validateProviderName("tts", p.TTSFallback.Name)
	validateProviderName("detector", p.Detector.Name)
	if p.LLMFallback.Configured() && !p.LLM.Configured() {
		errs = append(errs, errors.New("providers.llm_fallback requires providers.llm"))
	}
	if p.STTFallback.Configured() && !p.STT.Configured() {
		errs = append(errs, errors.New("providers.stt_fallback requires providers.stt"))
	}
	if p.TTSFallback.Configured() && !p.TTS.Configured() {
		errs = append(errs, errors.New("providers.tts_fallback requires providers.tts"))
	}
	for i, c := range p.Classifiers {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("providers.classifiers[%d].name is required", i))
			continue
		}
		validateProviderName("classifier", c.Name)
	}
	if len(p.Classifiers) == 0 && !cfg.Session.Mock {
		errs = append(errs, errors.New("providers.classifiers needs at least one entry unless session.mock is set"))
	}
	if !p.LLM.Configured() {
		slog.Warn("no LLM provider configured; follow-up questions and recommendations use fixed fallbacks")
	}
	if !p.TTS.Configured() {
		slog.Warn("no TTS provider configured; questions will not be spoken")
	}

	// Fusion
	if cfg.Fusion.Policy != "" && !cfg.Fusion.Policy.IsValid() {
		errs = append(errs, fmt.Errorf("fusion.policy %q is invalid; valid values: ensemble, fallback", cfg.Fusion.Policy))
	}
	if b := cfg.Fusion.Breaker; b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("fusion.breaker values must not be negative"))
	}

	errs = append(errs, validateSession(&cfg.Session)...)

	// Video
	if cfg.Video.Source != "" && !cfg.Video.Source.IsValid() {
		errs = append(errs, fmt.Errorf("video.source %q is invalid; valid values: ffmpeg, imagedir", cfg.Video.Source))
	}
	if cfg.Video.FPS < 0 || cfg.Video.Width < 0 {
		errs = append(errs, errors.New("video.fps and video.width must not be negative"))
	}
	for idx, path := range cfg.Video.Clips {
		if idx < 0 {
			errs = append(errs, fmt.Errorf("video.clips key %d must not be negative", idx))
		}
		if path == "" {
			errs = append(errs, fmt.Errorf("video.clips[%d] path is empty", idx))
		}
	}

	// Audio
	if cfg.Audio.SampleRate < 0 || cfg.Audio.Channels < 0 {
		errs = append(errs, errors.New("audio.sample_rate and audio.channels must not be negative"))
	}
	if cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}

	return errors.Join(errs...)
}

func validateSession(s *SessionConfig) []error {
	var errs []error
	for i, q := range s.Questions {
		if q == "" {
			errs = append(errs, fmt.Errorf("session.questions[%d] is empty", i))
		}
	}
	if s.FollowUps != nil && *s.FollowUps < 0 {
		errs = append(errs, fmt.Errorf("session.follow_ups %d must not be negative", *s.FollowUps))
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"prompt_duration", s.PromptDuration},
		{"response_duration", s.ResponseDuration},
		{"report_duration", s.ReportDuration},
		{"frame_interval", s.FrameInterval},
		{"audio_grace", s.AudioGrace},
		{"join_timeout", s.JoinTimeout},
		{"speech_timeout", s.SpeechTimeout},
		{"llm_timeout", s.LLMTimeout},
		{"warmup.timeout", s.Warmup.Timeout},
	}
	for _, d := range durations {
		if d.d < 0 {
			errs = append(errs, fmt.Errorf("session.%s must not be negative", d.name))
		}
	}
	if s.Window < 0 {
		errs = append(errs, fmt.Errorf("session.window %d must not be negative", s.Window))
	}
	if s.Warmup.Size < 0 {
		errs = append(errs, fmt.Errorf("session.warmup.size %d must not be negative", s.Warmup.Size))
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, fmt.Errorf("session.temperature %.2f is out of range [0, 2]", s.Temperature))
	}
	if v := s.Voice; v.Stability < 0 || v.Stability > 1 || v.SimilarityBoost < 0 || v.SimilarityBoost > 1 {
		errs = append(errs, errors.New("session.voice stability and similarity_boost must be in [0, 1]"))
	}

	labels := make(map[string]int, len(s.Mixes))
	for i, m := range s.Mixes {
		prefix := fmt.Sprintf("session.mixes[%d]", i)
		if m.Label == "" {
			errs = append(errs, fmt.Errorf("%s.label is required", prefix))
		} else {
			if prev, ok := labels[m.Label]; ok {
				errs = append(errs, fmt.Errorf("%s.label %q is a duplicate of session.mixes[%d]", prefix, m.Label, prev))
			}
			labels[m.Label] = i
		}
		if len(m.Components) != 2 {
			errs = append(errs, fmt.Errorf("%s.components needs exactly 2 entries, got %d", prefix, len(m.Components)))
			continue
		}
		for _, c := range m.Components {
			if !emotion.IsKey(c) {
				errs = append(errs, fmt.Errorf("%s.components: %q is not an emotion key; valid values: %v", prefix, c, emotion.Keys))
			}
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
