package session

import (
	"time"

	"github.com/MrWong99/restquest/internal/assistant"
	"github.com/MrWong99/restquest/internal/conversation"
	"github.com/MrWong99/restquest/internal/journal"
	"github.com/MrWong99/restquest/pkg/emotion"
)

// QuestionResult is the finalized outcome of one question. It is not
// modified after it is recorded.
type QuestionResult struct {
	Index      int                  `json:"index"`
	Question   string               `json:"question"`
	Label      string               `json:"label"`
	Confidence float64              `json:"confidence"`
	Derived    map[string]float64   `json:"derived,omitempty"`
	Spectrum   emotion.Distribution `json:"spectrum"`

	// SmoothedLabel is what the moving average showed when the question
	// closed. It can differ from Label, which comes from the histogram.
	SmoothedLabel string `json:"smoothed_label"`

	Transcript  string    `json:"transcript"`
	Forced      bool      `json:"forced"`
	AudioPath   string    `json:"audio_path,omitempty"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// Result is everything a finished session produced.
type Result struct {
	ID         string           `json:"session_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Questions  []QuestionResult `json:"questions"`

	// Overall is the mean spectrum over all questions; see [Overall].
	Overall emotion.Distribution `json:"overall,omitempty"`

	// OverallDominant is the strongest base emotion in Overall.
	OverallDominant string `json:"overall_dominant,omitempty"`

	Recommendation         string                    `json:"recommendation,omitempty"`
	Structured             *assistant.Recommendation `json:"structured,omitempty"`
	RecommendationFellBack bool                      `json:"recommendation_fell_back"`

	AnswersPath    string `json:"answers_path,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`

	// Complete is false when the session was stopped before the last
	// question finished.
	Complete bool `json:"complete"`
}

// Answers converts the results to the assistant's view.
func (r *Result) Answers() []assistant.Answer {
	out := make([]assistant.Answer, 0, len(r.Questions))
	for _, q := range r.Questions {
		out = append(out, assistant.Answer{
			Question:   q.Question,
			Transcript: q.Transcript,
			Dominant:   q.Label,
			Spectrum:   q.Spectrum,
		})
	}
	return out
}

func (q QuestionResult) record(sessionID string) journal.Record {
	return journal.Record{
		Timestamp:  q.FinalizedAt,
		SessionID:  sessionID,
		Index:      q.Index,
		Question:   q.Question,
		Transcript: q.Transcript,
		Spectrum:   q.Spectrum,
		Dominant:   q.Label,
		Confidence: q.Confidence,
		Derived:    q.Derived,
		Forced:     q.Forced,
		AudioPath:  q.AudioPath,
	}
}

// Snapshot is a read-only view of a running session for status displays.
type Snapshot struct {
	SessionID    string                `json:"session_id"`
	Conversation conversation.Snapshot `json:"conversation"`
	Question     string                `json:"question"`
	Label        string                `json:"label"`
	Score        float64               `json:"score"`
	Average      emotion.Distribution  `json:"average,omitempty"`
	UsingClip    bool                  `json:"using_clip"`
	Answered     int                   `json:"answered"`
}

type liveView struct {
	question  string
	label     string
	score     float64
	average   emotion.Distribution
	usingClip bool
	answered  int
}

// Snapshot returns the current live state. It is safe to call from any
// goroutine, including before Run.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID: s.id,
		Question:  s.live.question,
		Label:     s.live.label,
		Score:     s.live.score,
		Average:   s.live.average.Clone(),
		UsingClip: s.live.usingClip,
		Answered:  s.live.answered,
	}
	if s.machine != nil {
		snap.Conversation = s.machine.Snapshot()
	}
	return snap
}
