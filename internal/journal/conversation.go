package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Roles written to the conversation log.
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// NoTranscript stands in for an answer that produced no text.
const NoTranscript = "[no transcript]"

// ConversationLog is the running plain-text log of everything said, one line
// per turn: "<RFC3339 timestamp> | <ROLE> | <text>".
type ConversationLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewConversationLog returns a log writing to path.
func NewConversationLog(path string) *ConversationLog {
	return &ConversationLog{path: path, now: time.Now}
}

// Path returns the file path.
func (l *ConversationLog) Path() string { return l.path }

// Reset truncates the log. Called at session start.
func (l *ConversationLog) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("journal: create dir: %w", err)
	}
	if err := os.WriteFile(l.path, nil, 0o644); err != nil {
		return fmt.Errorf("journal: reset conversation log: %w", err)
	}
	return nil
}

// Append writes one turn. Empty user text is logged as [NoTranscript].
func (l *ConversationLog) Append(role, text string) error {
	text = strings.TrimSpace(text)
	if text == "" && role == RoleUser {
		text = NoTranscript
	}
	// Keep one turn per line.
	text = strings.Join(strings.Fields(text), " ")

	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s | %s | %s\n", l.now().UTC().Format(time.RFC3339), strings.ToUpper(role), text)
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("journal: create dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open conversation log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("journal: write conversation log: %w", err)
	}
	return nil
}
