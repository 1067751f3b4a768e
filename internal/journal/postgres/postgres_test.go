package postgres_test

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/restquest/internal/journal"
	"github.com/MrWong99/restquest/internal/journal/postgres"
	"github.com/MrWong99/restquest/pkg/emotion"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if RESTQUEST_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("RESTQUEST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RESTQUEST_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := postgres.NewStore(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore_ResultsRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sessionID := uuid.NewString()

	if err := s.SaveSession(ctx, journal.SessionInfo{ID: sessionID, StartedAt: time.Now()}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	records := []journal.Record{
		{SessionID: sessionID, Index: 1, Question: "Where to?", Spectrum: emotion.Distribution{emotion.Sad: 0.6, emotion.Neutral: 0.4}, Dominant: emotion.Sad, Confidence: 0.6, Forced: true},
		{SessionID: sessionID, Index: 0, Question: "How are you?", Transcript: "great", Spectrum: emotion.Distribution{emotion.Happy: 1}, Dominant: emotion.Happy, Confidence: 1, Derived: map[string]float64{"joy": 0.5}},
	}
	for _, r := range records {
		if err := s.AppendResult(ctx, r); err != nil {
			t.Fatalf("AppendResult: %v", err)
		}
	}

	got, err := s.ListResults(ctx, sessionID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if got[0].Index != 0 || got[0].Dominant != emotion.Happy || got[0].Derived["joy"] != 0.5 {
		t.Errorf("first = %+v", got[0])
	}
	if !got[1].Forced || math.Abs(got[1].Spectrum[emotion.Sad]-0.6) > 1e-9 {
		t.Errorf("second = %+v", got[1])
	}

	// Re-appending an index replaces the row.
	records[1].Transcript = "actually tired"
	if err := s.AppendResult(ctx, records[1]); err != nil {
		t.Fatalf("AppendResult: %v", err)
	}
	got, _ = s.ListResults(ctx, sessionID)
	if len(got) != 2 || got[0].Transcript != "actually tired" {
		t.Errorf("after upsert = %+v", got)
	}

	if err := s.SaveSession(ctx, journal.SessionInfo{ID: sessionID, StartedAt: time.Now(), FinishedAt: time.Now(), Questions: 2, Recommendation: "lakes"}); err != nil {
		t.Fatalf("SaveSession update: %v", err)
	}
}
