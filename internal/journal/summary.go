package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Answer is one entry of the answers summary file.
type Answer struct {
	Question        string `json:"question"`
	Transcript      string `json:"transcript"`
	DominantEmotion string `json:"dominant_emotion"`
}

// Turn is one line of a session transcript.
type Turn struct {
	Role string
	Text string
}

// WriteAnswers replaces path with a pretty-printed JSON array of answers.
// Empty transcripts are written as [NoTranscript].
func WriteAnswers(path string, answers []Answer) error {
	out := make([]Answer, len(answers))
	for i, a := range answers {
		if strings.TrimSpace(a.Transcript) == "" {
			a.Transcript = NoTranscript
		}
		out[i] = a
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshal answers: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// WriteTranscript replaces path with a readable transcript of one session:
// a "Session recorded at" header followed by "ROLE: text" lines.
func WriteTranscript(path string, started time.Time, turns []Turn) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Session recorded at %s\n\n", started.UTC().Format(time.RFC3339))
	for _, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			text = NoTranscript
		}
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(t.Role), text)
	}
	return writeFile(path, []byte(b.String()))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("journal: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("journal: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("journal: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
