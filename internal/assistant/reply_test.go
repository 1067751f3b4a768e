package assistant_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/restquest/internal/assistant"
)

func TestParseReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		wantKind assistant.ReplyKind
		wantText string
		wantErr  error
	}{
		{name: "plain text", in: "  What kind of place helps you unwind?  ", wantKind: assistant.ReplyText, wantText: "What kind of place helps you unwind?"},
		{name: "structured", in: `{"assistant_reply":"Try the coast.","recommendation":{"destination_type":"beach","wellbeing_focus":"rest","sample_activity":"sunrise walk"}}`, wantKind: assistant.ReplyStructured, wantText: "Try the coast."},
		{name: "fenced structured", in: "```json\n{\"assistant_reply\":\"Forest cabin.\"}\n```", wantKind: assistant.ReplyStructured, wantText: "Forest cabin."},
		{name: "empty", in: "   ", wantErr: assistant.ErrEmptyReply},
		{name: "empty fence", in: "```\n```", wantErr: assistant.ErrEmptyReply},
		{name: "json without reply", in: `{"recommendation":{}}`, wantErr: assistant.ErrNoVariant},
		{name: "broken json", in: `{"assistant_reply":`, wantErr: assistant.ErrNoVariant},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := assistant.ParseReply(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Kind != tc.wantKind || got.Text != tc.wantText {
				t.Errorf("reply = %+v, want kind %v text %q", got, tc.wantKind, tc.wantText)
			}
		})
	}
}

func TestParseReply_Recommendation(t *testing.T) {
	t.Parallel()
	got, err := assistant.ParseReply(`{"assistant_reply":"ok","recommendation":{"destination_type":"mountains","wellbeing_focus":"clarity","sample_activity":"ridge hike"}}`)
	if err != nil {
		t.Fatal(err)
	}
	if got.Recommendation == nil {
		t.Fatal("recommendation missing")
	}
	if got.Recommendation.DestinationType != "mountains" || got.Recommendation.SampleActivity != "ridge hike" {
		t.Errorf("recommendation = %+v", got.Recommendation)
	}
}

func TestStageSequence(t *testing.T) {
	t.Parallel()
	if got := assistant.StageSequence(1); len(got) != 1 || got[0] != assistant.StageFinal {
		t.Errorf("StageSequence(1) = %v", got)
	}
	got := assistant.StageSequence(3)
	want := []assistant.Stage{assistant.StageFollowUp, assistant.StageFollowUp, assistant.StageFinal}
	if len(got) != len(want) {
		t.Fatalf("StageSequence(3) = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if assistant.Stage("small_talk").Valid() {
		t.Error("unknown stage reported valid")
	}
}
