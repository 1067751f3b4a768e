// Package app wires all restquest subsystems into a running application.
//
// The App struct owns the full lifecycle: New assembles the journal sinks,
// the session runner and the HTTP API, Run serves until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via [Providers] and the functional options
// (WithStore, WithMetrics, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/restquest/internal/affect"
	"github.com/MrWong99/restquest/internal/assistant"
	"github.com/MrWong99/restquest/internal/config"
	"github.com/MrWong99/restquest/internal/health"
	"github.com/MrWong99/restquest/internal/inference"
	"github.com/MrWong99/restquest/internal/journal"
	"github.com/MrWong99/restquest/internal/journal/postgres"
	"github.com/MrWong99/restquest/internal/observe"
	"github.com/MrWong99/restquest/internal/resilience"
	"github.com/MrWong99/restquest/internal/session"
	"github.com/MrWong99/restquest/pkg/audio"
	"github.com/MrWong99/restquest/pkg/provider/llm"
	"github.com/MrWong99/restquest/pkg/provider/stt"
	"github.com/MrWong99/restquest/pkg/provider/tts"
	"github.com/MrWong99/restquest/pkg/vision"
)

// Providers holds the long-lived collaborators shared by every session.
// Opener and Fuser are required; nil fields skip the matching step.
// Populated by main.go via the config registry.
type Providers struct {
	Opener   vision.Opener
	Detector vision.Detector
	Fuser    inference.Fuser

	LLM     llm.Provider
	LLMName string
	STT     stt.Provider
	TTS     tts.Provider

	Recorder audio.Recorder
	Player   audio.Player
}

// App owns all subsystem lifetimes and serves the session API.
type App struct {
	mu  sync.RWMutex
	cfg *config.Config

	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store        journal.Store
	conversation *journal.ConversationLog
	archive      *journal.AudioArchive
	runner       *Runner
	watcher      *config.Watcher
	handler      http.Handler

	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	checks         []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a journal store instead of creating one from config.
func WithStore(s journal.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level at runtime.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithHealthChecks adds readiness checks on top of the built-in ones.
func WithHealthChecks(checks ...health.Checker) Option {
	return func(a *App) { a.checks = append(a.checks, checks...) }
}

// WithWatcher runs w alongside the server. Its change callback should call
// [App.Reload].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithCloser registers fn to run during Shutdown after the App's own
// closers.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates a new App from the given configuration and providers.
//
// Initialisation order:
//  1. Journal store (file sinks plus the optional PostgreSQL mirror)
//  2. Conversation log and audio archive
//  3. Readiness checks
//  4. Session runner and HTTP routes
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.Opener == nil || providers.Fuser == nil {
		return nil, errors.New("app: frame opener and fuser are required")
	}

	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	// Closers registered through options run after the App's own ones.
	extra := a.closers
	a.closers = nil
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// 1. Journal store.
	if err := a.initJournal(ctx); err != nil {
		return nil, err
	}

	// 2. Conversation log and audio archive.
	if p := cfg.Journal.ConversationPath; p != "" {
		a.conversation = journal.NewConversationLog(p)
	}
	if d := cfg.Journal.AudioDir; d != "" {
		a.archive = journal.NewAudioArchive(d)
	}

	// 3. Readiness checks.
	a.initHealth()

	// 4. Runner and routes.
	a.runner = NewRunner(a.newSession)
	a.handler = a.routes()

	a.closers = append(a.closers, extra...)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initJournal builds the file store and mirrors it to PostgreSQL when a DSN
// is configured.
func (a *App) initJournal(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	jc := a.cfg.Journal
	var stores journal.Multi
	if jc.ResultsPath != "" {
		stores = append(stores, journal.NewFileStore(jc.ResultsPath, jc.SessionsPath))
		a.checks = append(a.checks, health.Checker{
			Name:  "journal",
			Check: func(context.Context) error { return os.MkdirAll(filepath.Dir(jc.ResultsPath), 0o755) },
		})
	}
	if jc.PostgresDSN != "" {
		pg, err := postgres.NewStore(ctx, jc.PostgresDSN)
		if err != nil {
			return fmt.Errorf("app: init postgres journal: %w", err)
		}
		stores = append(stores, pg)
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		a.checks = append(a.checks, health.Checker{Name: "postgres", Check: pg.Ping})
	}
	switch len(stores) {
	case 0:
	case 1:
		a.store = stores[0]
	default:
		a.store = stores
	}
	return nil
}

// memberHealth is implemented by the resilience fallback groups.
type memberHealth interface {
	Health() []resilience.MemberHealth
}

// initHealth adds an optional check for every provider slot wrapped in a
// fallback group. The check fails while every member circuit is open.
func (a *App) initHealth() {
	slots := []struct {
		name string
		v    any
	}{
		{"llm", a.providers.LLM},
		{"stt", a.providers.STT},
		{"tts", a.providers.TTS},
	}
	for _, s := range slots {
		mh, ok := s.v.(memberHealth)
		if !ok {
			continue
		}
		a.checks = append(a.checks, health.Checker{
			Name:     s.name,
			Optional: true,
			Check:    func(context.Context) error { return groupHealthy(mh.Health()) },
		})
	}
}

func groupHealthy(members []resilience.MemberHealth) error {
	for _, m := range members {
		if m.State != resilience.StateOpen.String() {
			return nil
		}
	}
	return fmt.Errorf("all %d circuits open", len(members))
}

// ─── Sessions ────────────────────────────────────────────────────────────────

// Config returns the configuration the next session will use.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Runner returns the session runner.
func (a *App) Runner() *Runner { return a.runner }

// newSession assembles a session from the current configuration.
func (a *App) newSession() (*session.Session, error) {
	cfg := a.Config()
	p := a.providers

	comp := session.Components{
		Opener:       p.Opener,
		Detector:     p.Detector,
		Fuser:        p.Fuser,
		Assistant:    a.newAssistant(cfg.Session),
		Transcriber:  p.STT,
		Speaker:      p.TTS,
		Player:       p.Player,
		Store:        a.store,
		Conversation: a.conversation,
		Archive:      a.archive,
	}
	if cfg.Audio.RecordEnabled() {
		comp.Recorder = p.Recorder
	}
	return session.New(sessionConfig(cfg), comp, session.WithMetrics(a.metrics))
}

func (a *App) newAssistant(sc config.SessionConfig) *assistant.Assistant {
	opts := []assistant.Option{
		assistant.WithMetrics(a.metrics),
		assistant.WithProviderName(cmp.Or(a.providers.LLMName, "llm")),
	}
	if sc.SystemPrompt != "" {
		opts = append(opts, assistant.WithSystemPrompt(sc.SystemPrompt))
	}
	if sc.FallbackQuestion != "" {
		opts = append(opts, assistant.WithFallbackQuestion(sc.FallbackQuestion))
	}
	if sc.FallbackRecommendation != "" {
		opts = append(opts, assistant.WithFallbackRecommendation(sc.FallbackRecommendation))
	}
	if sc.Temperature > 0 {
		opts = append(opts, assistant.WithTemperature(sc.Temperature))
	}
	if sc.LLMTimeout > 0 {
		opts = append(opts, assistant.WithTimeout(sc.LLMTimeout))
	}
	return assistant.New(a.providers.LLM, opts...)
}

// sessionConfig converts the YAML session, video and journal sections to a
// [session.Config]. Zero values keep the session defaults.
func sessionConfig(cfg *config.Config) session.Config {
	sc := cfg.Session
	out := session.DefaultConfig(sc.Questions...)
	if sc.FollowUps != nil {
		out.FollowUps = *sc.FollowUps
	}
	out.ClosingLine = cmp.Or(sc.ClosingLine, out.ClosingLine)
	out.Language = cmp.Or(sc.Language, out.Language)
	out.Voice = tts.Voice{
		ID:              sc.Voice.ID,
		Stability:       sc.Voice.Stability,
		SimilarityBoost: sc.Voice.SimilarityBoost,
	}
	out.PromptDuration = cmp.Or(sc.PromptDuration, out.PromptDuration)
	out.ResponseDuration = cmp.Or(sc.ResponseDuration, out.ResponseDuration)
	out.ReportDuration = cmp.Or(sc.ReportDuration, out.ReportDuration)
	out.FrameInterval = cmp.Or(sc.FrameInterval, out.FrameInterval)
	out.AudioGrace = cmp.Or(sc.AudioGrace, out.AudioGrace)
	out.JoinTimeout = cmp.Or(sc.JoinTimeout, out.JoinTimeout)
	out.SpeechTimeout = cmp.Or(sc.SpeechTimeout, out.SpeechTimeout)
	out.Window = cmp.Or(sc.Window, out.Window)
	out.WarmupSize = cmp.Or(sc.Warmup.Size, out.WarmupSize)
	out.WarmupTimeout = cmp.Or(sc.Warmup.Timeout, out.WarmupTimeout)
	for _, m := range sc.Mixes {
		// Validate guarantees exactly two components.
		out.Mixes = append(out.Mixes, affect.Mix{Label: m.Label, Components: [2]string{m.Components[0], m.Components[1]}})
	}
	out.LiveTarget = cmp.Or(cfg.Video.Device, out.LiveTarget)
	out.Clips = cfg.Video.Clips
	out.AnswersPath = cfg.Journal.AnswersPath
	out.TranscriptPath = cfg.Journal.TranscriptPath
	return out
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of a changed configuration: the
// log level takes effect immediately, the session section and clips with
// the next session. Everything else is logged and needs a restart.
func (a *App) Reload(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if d.Empty() {
		return
	}

	a.mu.Lock()
	next := *a.cfg
	if d.LogLevelChanged {
		next.Server.LogLevel = d.NewLogLevel
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Slog())
		}
	}
	if d.SessionChanged {
		next.Session = updated.Session
	}
	if d.ClipsChanged {
		next.Video.Clips = updated.Video.Clips
	}
	a.cfg = &next
	a.mu.Unlock()

	if d.LogLevelChanged {
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		slog.Info("session settings reloaded, applied from the next session", "fields", d.SessionFields)
	}
	if d.RestartRequired {
		slog.Warn("config change needs a restart to take effect")
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the HTTP API wrapped in the observability middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves the HTTP API, runs the session runner and the config watcher,
// and blocks until ctx is cancelled or the listener fails. A cancelled ctx
// is a clean exit and returns nil.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", cfg.Server.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.runner.Run(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)
	if cfg.Server.AutoStart {
		if _, err := a.runner.Start(); err != nil {
			slog.Warn("auto start failed", "err", err)
		}
	}
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops any running session and tears down all subsystems in
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.runner.Stop(); err == nil {
			if err := a.runner.Wait(ctx); err != nil {
				slog.Warn("session did not stop before shutdown deadline")
				shutdownErr = err
				return
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
