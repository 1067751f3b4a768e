package assistant_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/restquest/internal/assistant"
	"github.com/MrWong99/restquest/internal/observe"
	"github.com/MrWong99/restquest/pkg/emotion"
	"github.com/MrWong99/restquest/pkg/provider/llm"
	"github.com/MrWong99/restquest/pkg/provider/llm/mock"
)

func newAssistant(t *testing.T, p llm.Provider, opts ...assistant.Option) *assistant.Assistant {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return assistant.New(p, append([]assistant.Option{assistant.WithMetrics(m)}, opts...)...)
}

func TestAsk_BuildsRequest(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Responses: []string{"Where do you feel most at ease?"}}
	a := newAssistant(t, p, assistant.WithSystemPrompt("persona"))

	history := []llm.Message{{Role: llm.RoleAssistant, Content: "Hi there"}}
	reply, err := a.Ask(context.Background(), assistant.StageFollowUp, "I am tired", history, "happy 0.2")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.Text != "Where do you feel most at ease?" {
		t.Errorf("text = %q", reply.Text)
	}

	req := p.LastRequest()
	if !strings.HasPrefix(req.SystemPrompt, "persona\n\n") || !strings.Contains(req.SystemPrompt, "follow-up") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(req.Messages))
	}
	last := req.Messages[1]
	if last.Role != llm.RoleUser || last.Content != "I am tired\n\nStress indicators: happy 0.2" {
		t.Errorf("user message = %+v", last)
	}
	if len(history) != 1 {
		t.Error("history was modified")
	}
}

func TestAsk_Errors(t *testing.T) {
	t.Parallel()

	t.Run("provider error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("quota")
		a := newAssistant(t, &mock.Provider{Err: boom})
		if _, err := a.Ask(context.Background(), assistant.StageFinal, "x", nil, ""); !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapped quota error", err)
		}
	})
	t.Run("empty reply", func(t *testing.T) {
		t.Parallel()
		a := newAssistant(t, &mock.Provider{Responses: []string{"  "}})
		if _, err := a.Ask(context.Background(), assistant.StageFinal, "x", nil, ""); !errors.Is(err, assistant.ErrEmptyReply) {
			t.Errorf("err = %v, want ErrEmptyReply", err)
		}
	})
	t.Run("unknown stage", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{Responses: []string{"hi"}}
		a := newAssistant(t, p)
		if _, err := a.Ask(context.Background(), assistant.Stage("chit_chat"), "x", nil, ""); err == nil {
			t.Error("expected error for unknown stage")
		}
		if p.CallCount() != 0 {
			t.Error("provider called for unknown stage")
		}
	})
	t.Run("nil provider", func(t *testing.T) {
		t.Parallel()
		a := newAssistant(t, nil)
		if _, err := a.Ask(context.Background(), assistant.StageFinal, "x", nil, ""); err == nil {
			t.Error("expected error without provider")
		}
	})
}

func TestAsk_Timeout(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Func: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	a := newAssistant(t, p, assistant.WithTimeout(20*time.Millisecond))
	if _, err := a.Ask(context.Background(), assistant.StageFinal, "x", nil, ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestFollowUp(t *testing.T) {
	t.Parallel()

	t.Run("generated", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{Responses: []string{"Sea breeze or pine trees?"}}
		q, fellBack := newAssistant(t, p).FollowUp(context.Background(), nil)
		if fellBack || q != "Sea breeze or pine trees?" {
			t.Errorf("FollowUp = %q, %v", q, fellBack)
		}
		if !strings.Contains(p.LastRequest().Messages[0].Content, "follow-up question") {
			t.Errorf("user turn = %q", p.LastRequest().Messages[0].Content)
		}
	})
	t.Run("fallback", func(t *testing.T) {
		t.Parallel()
		a := newAssistant(t, &mock.Provider{Err: errors.New("down")}, assistant.WithFallbackQuestion("Any plans?"))
		q, fellBack := a.FollowUp(context.Background(), nil)
		if !fellBack || q != "Any plans?" {
			t.Errorf("FollowUp = %q, %v", q, fellBack)
		}
	})
}

func TestRecommend(t *testing.T) {
	t.Parallel()

	answers := []assistant.Answer{
		{Question: "How are you?", Transcript: "Exhausted", Dominant: "sadness", Spectrum: emotion.Distribution{emotion.Sad: 0.8, emotion.Neutral: 0.2}},
		{Question: "Where to?", Dominant: "neutral"},
	}

	t.Run("structured", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{Responses: []string{`{"assistant_reply":"Head to the lakes.","recommendation":{"destination_type":"lake"}}`}}
		reply, fellBack := newAssistant(t, p).Recommend(context.Background(), nil, answers, emotion.Distribution{emotion.Sad: 1})
		if fellBack {
			t.Fatal("unexpected fallback")
		}
		if reply.Kind != assistant.ReplyStructured || reply.Recommendation.DestinationType != "lake" {
			t.Errorf("reply = %+v", reply)
		}
		msg := p.LastRequest().Messages[0].Content
		for _, want := range []string{"Q1: How are you?", "Exhausted", "[no transcript]", "Stress indicators:"} {
			if !strings.Contains(msg, want) {
				t.Errorf("request missing %q:\n%s", want, msg)
			}
		}
	})
	t.Run("fallback", func(t *testing.T) {
		t.Parallel()
		reply, fellBack := newAssistant(t, &mock.Provider{}).Recommend(context.Background(), nil, answers, nil)
		if !fellBack || reply.Text != assistant.DefaultFallbackRecommendation {
			t.Errorf("Recommend = %+v, %v", reply, fellBack)
		}
	})
}
