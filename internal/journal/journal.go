// Package journal persists what a questionnaire session produced: one JSON
// line per finalized question, a running plain-text conversation log, the
// raw answer audio, and end-of-session summary files.
//
// Everything is append-only except [ConversationLog.Reset] and the summary
// files, which are rewritten for every session.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/restquest/pkg/emotion"
)

// Record is one finalized question.
type Record struct {
	Timestamp  time.Time            `json:"timestamp"`
	SessionID  string               `json:"session_id"`
	Index      int                  `json:"index"`
	Question   string               `json:"question"`
	Transcript string               `json:"transcript"`
	Spectrum   emotion.Distribution `json:"spectrum"`
	Dominant   string               `json:"dominant"`
	Confidence float64              `json:"confidence"`
	Derived    map[string]float64   `json:"derived,omitempty"`
	Forced     bool                 `json:"forced"`
	AudioPath  string               `json:"audio_path,omitempty"`
}

// SessionInfo summarises a finished session.
type SessionInfo struct {
	ID             string               `json:"session_id"`
	StartedAt      time.Time            `json:"started_at"`
	FinishedAt     time.Time            `json:"finished_at"`
	Questions      int                  `json:"questions"`
	Overall        emotion.Distribution `json:"overall"`
	Recommendation string               `json:"recommendation"`
}

// Store persists results and session summaries.
type Store interface {
	AppendResult(ctx context.Context, r Record) error
	SaveSession(ctx context.Context, s SessionInfo) error
}

// JSONL appends JSON values as lines to a file. Safe for concurrent use.
type JSONL struct {
	mu   sync.Mutex
	path string
}

// NewJSONL returns a JSONL writer for path. The file and its parent
// directory are created on first write.
func NewJSONL(path string) *JSONL {
	return &JSONL{path: path}
}

// Path returns the file path.
func (j *JSONL) Path() string { return j.path }

// Append marshals v and appends it with a trailing newline.
func (j *JSONL) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("journal: create dir: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return nil
}

// FileStore is a [Store] writing results and sessions to two JSONL files.
type FileStore struct {
	Results  *JSONL
	Sessions *JSONL
}

// NewFileStore returns a FileStore. An empty sessionsPath disables session
// summaries.
func NewFileStore(resultsPath, sessionsPath string) *FileStore {
	fs := &FileStore{Results: NewJSONL(resultsPath)}
	if sessionsPath != "" {
		fs.Sessions = NewJSONL(sessionsPath)
	}
	return fs
}

// AppendResult implements Store.
func (fs *FileStore) AppendResult(_ context.Context, r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return fs.Results.Append(r)
}

// SaveSession implements Store.
func (fs *FileStore) SaveSession(_ context.Context, s SessionInfo) error {
	if fs.Sessions == nil {
		return nil
	}
	return fs.Sessions.Append(s)
}

// Multi fans every call out to all stores and joins their errors.
type Multi []Store

// AppendResult implements Store.
func (m Multi) AppendResult(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.AppendResult(ctx, r))
	}
	return errors.Join(errs...)
}

// SaveSession implements Store.
func (m Multi) SaveSession(ctx context.Context, info SessionInfo) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveSession(ctx, info))
	}
	return errors.Join(errs...)
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = Multi(nil)
)
