// Package session runs one questionnaire from the opening question to the
// closing recommendation.
//
// A [Session] owns every per-session component: the conversation state
// machine, the response stream manager, the inference worker, the smoother,
// the histogram and the result list. Collaborators that outlive a session
// (classifiers, transcriber, speaker, LLM, journal sinks) are passed in via
// [Components].
//
// [Session.Run] drives a capture loop that reads a frame per tick, hands the
// first detected region to the inference worker and polls its latest result.
// Blocking work (audio capture, speech, transcription, LLM calls) runs in
// background tasks that the loop only polls, and every such task is joined
// with a bounded timeout when the session ends.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/restquest/internal/affect"
	"github.com/MrWong99/restquest/internal/assistant"
	"github.com/MrWong99/restquest/internal/conversation"
	"github.com/MrWong99/restquest/internal/inference"
	"github.com/MrWong99/restquest/internal/journal"
	"github.com/MrWong99/restquest/internal/observe"
	"github.com/MrWong99/restquest/internal/stream"
	"github.com/MrWong99/restquest/pkg/audio"
	"github.com/MrWong99/restquest/pkg/emotion"
	"github.com/MrWong99/restquest/pkg/provider/llm"
	"github.com/MrWong99/restquest/pkg/provider/stt"
	"github.com/MrWong99/restquest/pkg/provider/tts"
	"github.com/MrWong99/restquest/pkg/vision"
)

// ErrSourceUnavailable is returned by [Session.Run] when the live frame
// source cannot be opened. No part of the session runs in that case.
var ErrSourceUnavailable = errors.New("session: frame source unavailable")

// DefaultClosingLine is spoken after the last question.
const DefaultClosingLine = "Thanks for your responses"

// Config holds the per-session settings.
type Config struct {
	// Questions are asked in order. The first one opens the session.
	Questions []string

	// FollowUps is how many model-generated questions are appended after the
	// fixed ones. Each is generated right after the previous answer.
	FollowUps int

	// ClosingLine is spoken once every question is answered.
	ClosingLine string

	// Language is the transcription language hint (e.g. "en").
	Language string

	// Voice is used for every spoken line.
	Voice tts.Voice

	PromptDuration   time.Duration
	ResponseDuration time.Duration
	ReportDuration   time.Duration

	// FrameInterval is the capture loop tick. Defaults to 33ms.
	FrameInterval time.Duration

	// Window is the smoother window length. Defaults to 15.
	Window int

	// Mixes is the blended-emotion vocabulary. Nil selects
	// [affect.DefaultMixes].
	Mixes []affect.Mix

	// WarmupSize and WarmupTimeout control the neutral region pushed
	// through the worker during each prompt phase. A zero timeout disables
	// warm-up.
	WarmupSize    int
	WarmupTimeout time.Duration

	// AudioGrace is how long a naturally finalized question waits for the
	// recorder to deliver the full clip before capture is cancelled.
	AudioGrace time.Duration

	// JoinTimeout bounds every join on a background task at teardown.
	JoinTimeout time.Duration

	// SpeechTimeout bounds synthesis plus playback of one spoken line. A
	// line that takes longer is abandoned and the session moves on.
	SpeechTimeout time.Duration

	// LiveTarget is the live frame source target; Clips maps a 0-based
	// question index to a prerecorded substitute clip.
	LiveTarget string
	Clips      map[int]string

	// AnswersPath and TranscriptPath receive the end-of-session summary
	// files. Empty paths skip the file.
	AnswersPath    string
	TranscriptPath string
}

// DefaultConfig returns a configuration asking the given questions with the
// default timings.
func DefaultConfig(questions ...string) Config {
	return Config{
		Questions:        questions,
		ClosingLine:      DefaultClosingLine,
		Language:         "en",
		PromptDuration:   3 * time.Second,
		ResponseDuration: 8 * time.Second,
		ReportDuration:   2 * time.Second,
		FrameInterval:    33 * time.Millisecond,
		Window:           affect.DefaultWindow,
		WarmupSize:       48,
		WarmupTimeout:    2 * time.Second,
		AudioGrace:       time.Second,
		JoinTimeout:      3 * time.Second,
		SpeechTimeout:    20 * time.Second,
		LiveTarget:       "0",
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ClosingLine == "" {
		c.ClosingLine = d.ClosingLine
	}
	if c.PromptDuration <= 0 {
		c.PromptDuration = d.PromptDuration
	}
	if c.ResponseDuration <= 0 {
		c.ResponseDuration = d.ResponseDuration
	}
	if c.ReportDuration <= 0 {
		c.ReportDuration = d.ReportDuration
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = d.FrameInterval
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Mixes == nil {
		c.Mixes = affect.DefaultMixes
	}
	if c.AudioGrace < 0 {
		c.AudioGrace = 0
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.SpeechTimeout <= 0 {
		c.SpeechTimeout = d.SpeechTimeout
	}
}

// Components are the collaborators a session drives. Opener and Fuser are
// required; every other field may be nil, in which case the matching step is
// skipped.
type Components struct {
	Opener   vision.Opener
	Detector vision.Detector
	Fuser    inference.Fuser

	Assistant   *assistant.Assistant
	Transcriber stt.Provider
	Speaker     tts.Provider
	Player      audio.Player
	Recorder    audio.Recorder

	Store        journal.Store
	Conversation *journal.ConversationLog
	Archive      *journal.AudioArchive
}

// Option is a functional option for [New].
type Option func(*Session)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock replaces time.Now for state machine timing and histogram
// weights.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithID sets the session ID. Defaults to a random UUID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithResultHook registers fn to be called on the capture loop after each
// question result is recorded.
func WithResultHook(fn func(QuestionResult)) Option {
	return func(s *Session) { s.onResult = fn }
}

// Session is one questionnaire run. A Session runs once; create a new one
// for every run.
type Session struct {
	id       string
	cfg      Config
	comp     Components
	metrics  *observe.Metrics
	now      func() time.Time
	onResult func(QuestionResult)

	resolver *affect.Resolver
	smoother *affect.Smoother
	hist     *affect.Histogram
	worker   *inference.Worker

	// Set by Run; owned by the capture loop.
	machine   *conversation.Machine
	streams   *stream.Manager
	questions []string
	generated int
	history   []llm.Message
	turns     []journal.Turn
	results   []QuestionResult
	started   time.Time

	runOnce sync.Once

	mu   sync.Mutex
	live liveView
}

// New validates cfg and assembles a session. It does not touch any device.
func New(cfg Config, comp Components, opts ...Option) (*Session, error) {
	if len(cfg.Questions) == 0 {
		return nil, errors.New("session: at least one question is required")
	}
	if comp.Opener == nil {
		return nil, errors.New("session: frame opener is required")
	}
	if comp.Fuser == nil {
		return nil, errors.New("session: fuser is required")
	}
	cfg.applyDefaults()

	resolver, err := affect.NewResolver(cfg.Mixes)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if comp.Detector == nil {
		comp.Detector = vision.FullFrame{}
	}

	s := &Session{
		cfg:       cfg,
		comp:      comp,
		now:       time.Now,
		resolver:  resolver,
		smoother:  affect.NewSmoother(affect.WithWindow(cfg.Window)),
		hist:      affect.NewHistogram(),
		questions: append([]string(nil), cfg.Questions...),
	}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.worker = inference.NewWorker(comp.Fuser, inference.WithWorkerMetrics(s.metrics))
	s.live.label = affect.UnknownLabel
	return s, nil
}

// ID returns the session identifier used in persisted records.
func (s *Session) ID() string { return s.id }

// Overall returns the equal-weight mean of every question spectrum that
// carries signal. It returns nil when none does.
func Overall(results []QuestionResult) emotion.Distribution {
	spectra := make([]emotion.Distribution, 0, len(results))
	for _, r := range results {
		if r.Spectrum.Sum() > 0 {
			spectra = append(spectra, r.Spectrum)
		}
	}
	return emotion.Mean(spectra...)
}
