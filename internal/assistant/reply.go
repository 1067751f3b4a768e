package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyReply is returned when the model answers with no text.
	ErrEmptyReply = errors.New("assistant: empty reply")

	// ErrNoVariant is returned when a JSON reply matches no known shape.
	ErrNoVariant = errors.New("assistant: reply matches no known shape")
)

// ReplyKind tags which shape a [Reply] was decoded from.
type ReplyKind int

const (
	// ReplyText is free text.
	ReplyText ReplyKind = iota

	// ReplyStructured is a JSON object carrying a spoken reply and a
	// recommendation.
	ReplyStructured
)

func (k ReplyKind) String() string {
	if k == ReplyStructured {
		return "structured"
	}
	return "text"
}

// Recommendation is the structured part of a final answer.
type Recommendation struct {
	DestinationType string `json:"destination_type"`
	WellbeingFocus  string `json:"wellbeing_focus"`
	SampleActivity  string `json:"sample_activity"`
}

// Reply is a decoded model answer. Text is always the line to speak;
// Recommendation is set only for [ReplyStructured].
type Reply struct {
	Kind           ReplyKind
	Text           string
	Recommendation *Recommendation
}

type structuredReply struct {
	AssistantReply string          `json:"assistant_reply"`
	Recommendation *Recommendation `json:"recommendation"`
}

// ParseReply decodes raw model output into exactly one [Reply] variant.
// Output that looks like a JSON object must carry "assistant_reply";
// anything else non-empty is free text.
func ParseReply(content string) (Reply, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "```json"), "```")
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	if s == "" {
		return Reply{}, ErrEmptyReply
	}

	if strings.HasPrefix(s, "{") {
		var sr structuredReply
		if err := json.Unmarshal([]byte(s), &sr); err != nil {
			return Reply{}, fmt.Errorf("%w: %v", ErrNoVariant, err)
		}
		text := strings.TrimSpace(sr.AssistantReply)
		if text == "" {
			return Reply{}, ErrNoVariant
		}
		return Reply{Kind: ReplyStructured, Text: text, Recommendation: sr.Recommendation}, nil
	}
	return Reply{Kind: ReplyText, Text: s}, nil
}
