package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/restquest/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "invalid log level",
			yaml: "server:\n  log_level: bananas\nsession:\n  mock: true\n",
			want: []string{"server.log_level"},
		},
		{
			name: "tls missing key",
			yaml: "server:\n  tls:\n    cert_file: c.pem\nsession:\n  mock: true\n",
			want: []string{"server.tls"},
		},
		{
			name: "no classifiers outside mock mode",
			yaml: "providers:\n  llm:\n    name: openai\n",
			want: []string{"providers.classifiers"},
		},
		{
			name: "classifier without name",
			yaml: "providers:\n  classifiers:\n    - model: x\n",
			want: []string{"providers.classifiers[0].name"},
		},
		{
			name: "fallbacks without primaries",
			yaml: `
providers:
  llm_fallback: {name: openai}
  stt_fallback: {name: whisper}
  tts_fallback: {name: elevenlabs}
session:
  mock: true
`,
			want: []string{"providers.llm_fallback", "providers.stt_fallback", "providers.tts_fallback"},
		},
		{
			name: "invalid fusion policy",
			yaml: "fusion:\n  policy: vote\nsession:\n  mock: true\n",
			want: []string{"fusion.policy"},
		},
		{
			name: "negative breaker",
			yaml: "fusion:\n  breaker:\n    max_failures: -1\nsession:\n  mock: true\n",
			want: []string{"fusion.breaker"},
		},
		{
			name: "empty question and negative follow-ups",
			yaml: "session:\n  mock: true\n  questions: [\"\"]\n  follow_ups: -2\n",
			want: []string{"session.questions[0]", "session.follow_ups"},
		},
		{
			name: "negative durations",
			yaml: "session:\n  mock: true\n  prompt_duration: -1s\n  warmup:\n    timeout: -2s\n",
			want: []string{"session.prompt_duration", "session.warmup.timeout"},
		},
		{
			name: "temperature out of range",
			yaml: "session:\n  mock: true\n  temperature: 3\n",
			want: []string{"session.temperature"},
		},
		{
			name: "voice out of range",
			yaml: "session:\n  mock: true\n  voice:\n    stability: 1.5\n",
			want: []string{"session.voice"},
		},
		{
			name: "bad mixes",
			yaml: `
session:
  mock: true
  mixes:
    - label: wistful
      components: [sad]
    - label: wistful
      components: [sad, joy]
    - components: [happy, fear]
`,
			want: []string{
				"session.mixes[0].components needs exactly 2",
				"duplicate",
				`"joy" is not an emotion key`,
				"session.mixes[2].label is required",
			},
		},
		{
			name: "invalid video source",
			yaml: "video:\n  source: webcam\n  clips:\n    0: \"\"\nsession:\n  mock: true\n",
			want: []string{"video.source", "video.clips[0]"},
		},
		{
			name: "audio channels",
			yaml: "audio:\n  channels: 6\nsession:\n  mock: true\n",
			want: []string{"audio.channels"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
fusion:
  policy: vote
session:
  mock: true
  window: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, w := range []string{"server.log_level", "fusion.policy", "session.window"} {
		if !strings.Contains(err.Error(), w) {
			t.Errorf("joined error misses %q: %v", w, err)
		}
	}
}

func TestValidate_UnknownProviderNameOnlyWarns(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: my-private-llm
  classifiers:
    - name: homegrown
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should only warn, got: %v", err)
	}
}

func TestValidate_ValidMixes(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  mock: true
  mixes:
    - label: nostalgia
      components: [sad, happy]
    - label: dread
      components: [fear, sad]
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("valid mixes rejected: %v", err)
	}
	if len(cfg.Session.Mixes) != 2 {
		t.Errorf("mixes = %+v", cfg.Session.Mixes)
	}
}
