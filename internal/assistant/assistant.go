// Package assistant talks to the text model that drives the questionnaire:
// it turns the conversation so far into a follow-up question or a final
// recommendation.
//
// Every call is made with the concierge system prompt plus a per-stage
// instruction. Failures never stop a session: [Assistant.FollowUp] and
// [Assistant.Recommend] substitute fixed fallback text and report that they
// did so.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/restquest/internal/observe"
	"github.com/MrWong99/restquest/pkg/emotion"
	"github.com/MrWong99/restquest/pkg/provider/llm"
)

// Answer is one question's outcome as the assistant sees it.
type Answer struct {
	Question   string
	Transcript string
	Dominant   string
	Spectrum   emotion.Distribution
}

// Assistant wraps an llm.Provider with the questionnaire prompts.
type Assistant struct {
	provider               llm.Provider
	name                   string
	systemPrompt           string
	fallbackQuestion       string
	fallbackRecommendation string
	temperature            float64
	maxTokens              int
	timeout                time.Duration
	metrics                *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Assistant)

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(p string) Option {
	return func(a *Assistant) { a.systemPrompt = p }
}

// WithFallbackQuestion replaces [DefaultFallbackQuestion].
func WithFallbackQuestion(q string) Option {
	return func(a *Assistant) { a.fallbackQuestion = q }
}

// WithFallbackRecommendation replaces [DefaultFallbackRecommendation].
func WithFallbackRecommendation(r string) Option {
	return func(a *Assistant) { a.fallbackRecommendation = r }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Assistant) { a.temperature = t }
}

// WithTimeout bounds every model call. Defaults to 20s.
func WithTimeout(d time.Duration) Option {
	return func(a *Assistant) { a.timeout = d }
}

// WithProviderName sets the label used in logs and metrics.
func WithProviderName(n string) Option {
	return func(a *Assistant) { a.name = n }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// New creates an Assistant. A nil provider is allowed: every call then fails
// and the fallbacks are used.
func New(p llm.Provider, opts ...Option) *Assistant {
	a := &Assistant{
		provider:               p,
		name:                   "llm",
		systemPrompt:           DefaultSystemPrompt,
		fallbackQuestion:       DefaultFallbackQuestion,
		fallbackRecommendation: DefaultFallbackRecommendation,
		temperature:            0.7,
		maxTokens:              256,
		timeout:                20 * time.Second,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// FallbackQuestion returns the question used when generation fails.
func (a *Assistant) FallbackQuestion() string { return a.fallbackQuestion }

// Ask sends userText with the conversation history under stage and decodes
// the answer. hint, when non-empty, is appended as sensor context. Empty
// answers are reported as [ErrEmptyReply].
func (a *Assistant) Ask(ctx context.Context, stage Stage, userText string, history []llm.Message, hint string) (_ Reply, err error) {
	if a.provider == nil {
		return Reply{}, fmt.Errorf("assistant: no provider configured")
	}
	if !stage.Valid() {
		return Reply{}, fmt.Errorf("assistant: unknown stage %q", stage)
	}

	prompt := strings.TrimSpace(userText)
	if hint != "" {
		prompt += "\n\nStress indicators: " + strings.TrimSpace(hint)
	}
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	ctx, span := observe.StartSpan(ctx, "assistant.ask", trace.WithAttributes(attribute.String("restquest.stage", string(stage))))
	defer func() { observe.EndSpan(span, err) }()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: a.systemPrompt + "\n\n" + stage.Instruction(),
		Messages:     messages,
		Temperature:  a.temperature,
		MaxTokens:    a.maxTokens,
	})
	a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordProviderRequest(ctx, a.name, "llm", "error")
		a.metrics.RecordProviderError(ctx, a.name, "llm")
		return Reply{}, fmt.Errorf("assistant: %s: %w", stage, err)
	}
	a.metrics.RecordProviderRequest(ctx, a.name, "llm", "ok")
	if resp == nil {
		return Reply{}, ErrEmptyReply
	}
	return ParseReply(resp.Content)
}

// FollowUp generates the next question from the history. On failure it
// returns the fallback question and fellBack is true.
func (a *Assistant) FollowUp(ctx context.Context, history []llm.Message) (question string, fellBack bool) {
	reply, err := a.Ask(ctx, StageFollowUp, followUpRequest, history, "")
	if err != nil {
		observe.Logger(ctx).Warn("follow-up question generation failed, using fallback", "err", err)
		return a.fallbackQuestion, true
	}
	return reply.Text, false
}

// Recommend produces the closing recommendation from the answers. On
// failure it returns the fallback recommendation and fellBack is true.
func (a *Assistant) Recommend(ctx context.Context, history []llm.Message, answers []Answer, overall emotion.Distribution) (reply Reply, fellBack bool) {
	reply, err := a.Ask(ctx, StageFinal, Summarize(answers), history, emotion.Format(overall, 3))
	if err != nil {
		observe.Logger(ctx).Warn("recommendation failed, using fallback", "err", err)
		return Reply{Kind: ReplyText, Text: a.fallbackRecommendation}, true
	}
	slog.Debug("recommendation received", "kind", reply.Kind)
	return reply, false
}

// Summarize renders answers as the plain-text brief sent with the final
// recommendation request.
func Summarize(answers []Answer) string {
	var b strings.Builder
	b.WriteString("Session summary:\n")
	for i, ans := range answers {
		transcript := ans.Transcript
		if transcript == "" {
			transcript = "[no transcript]"
		}
		fmt.Fprintf(&b, "Q%d: %s\n  Answer: %s\n  Emotions: %s (dominant: %s)\n",
			i+1, ans.Question, transcript, emotion.Format(ans.Spectrum, 3), ans.Dominant)
	}
	return strings.TrimRight(b.String(), "\n")
}
