package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked: the log
// level takes effect immediately, the session section on the next session.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true if anything in the session section changed.
	SessionChanged bool

	// SessionFields names the changed session keys in YAML spelling.
	SessionFields []string

	// ClipsChanged is true if the substitute clip mapping changed.
	ClipsChanged bool

	// RestartRequired is true if a section that is only read at startup
	// changed: server address, providers, fusion, video source, audio,
	// journal or mock mode.
	RestartRequired bool
}

// Empty reports whether the diff carries no change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && !d.ClipsChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.SessionFields = diffSession(&old.Session, &new.Session)
	d.SessionChanged = len(d.SessionFields) > 0

	d.ClipsChanged = !reflect.DeepEqual(old.Video.Clips, new.Video.Clips)

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldServer.AutoStart, newServer.AutoStart = false, false
	oldVideo, newVideo := old.Video, new.Video
	oldVideo.Clips, newVideo.Clips = nil, nil
	d.RestartRequired = !reflect.DeepEqual(oldServer, newServer) ||
		!reflect.DeepEqual(old.Providers, new.Providers) ||
		!reflect.DeepEqual(old.Fusion, new.Fusion) ||
		!reflect.DeepEqual(oldVideo, newVideo) ||
		!reflect.DeepEqual(old.Audio, new.Audio) ||
		old.Journal != new.Journal ||
		old.Session.Mock != new.Session.Mock

	return d
}

// diffSession lists the session keys whose values differ.
func diffSession(old, new *SessionConfig) []string {
	var fields []string
	add := func(name string, changed bool) {
		if changed {
			fields = append(fields, name)
		}
	}

	add("questions", !slices.Equal(old.Questions, new.Questions))
	add("follow_ups", followUps(old) != followUps(new))
	add("fallback_question", old.FallbackQuestion != new.FallbackQuestion)
	add("fallback_recommendation", old.FallbackRecommendation != new.FallbackRecommendation)
	add("closing_line", old.ClosingLine != new.ClosingLine)
	add("system_prompt", old.SystemPrompt != new.SystemPrompt)
	add("language", old.Language != new.Language)
	add("temperature", old.Temperature != new.Temperature)
	add("llm_timeout", old.LLMTimeout != new.LLMTimeout)
	add("prompt_duration", old.PromptDuration != new.PromptDuration)
	add("response_duration", old.ResponseDuration != new.ResponseDuration)
	add("report_duration", old.ReportDuration != new.ReportDuration)
	add("frame_interval", old.FrameInterval != new.FrameInterval)
	add("audio_grace", old.AudioGrace != new.AudioGrace)
	add("join_timeout", old.JoinTimeout != new.JoinTimeout)
	add("speech_timeout", old.SpeechTimeout != new.SpeechTimeout)
	add("window", old.Window != new.Window)
	add("warmup", old.Warmup != new.Warmup)
	add("mixes", !reflect.DeepEqual(old.Mixes, new.Mixes))
	add("voice", old.Voice != new.Voice)
	add("mock", old.Mock != new.Mock)
	return fields
}

func followUps(s *SessionConfig) int {
	if s.FollowUps == nil {
		return 0
	}
	return *s.FollowUps
}
