package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/runledger/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// at returns baseTime plus n seconds.
func at(n int) time.Time {
	return baseTime.Add(time.Duration(n) * time.Second)
}

// createTestRun builds a started run with minimal required fields.
func createTestRun(id string, typ ir.RunType, createdAt time.Time) ir.Run {
	return ir.Run{
		ID:        id,
		Type:      typ,
		App:       "app-1",
		Status:    ir.StatusStarted,
		CreatedAt: createdAt,
	}
}

func mustInsert(t *testing.T, s *Store, r ir.Run) {
	t.Helper()
	inserted, err := s.InsertRun(context.Background(), r)
	if err != nil {
		t.Fatalf("InsertRun(%s) failed: %v", r.ID, err)
	}
	if !inserted {
		t.Fatalf("InsertRun(%s) inserted = false, want true", r.ID)
	}
}

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}
