package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/runledger/internal/ir"
	"github.com/roach88/runledger/internal/store"
	"github.com/roach88/runledger/internal/testutil"
)

const (
	threadID = "11111111-1111-4111-8111-111111111111"
	turnA    = "aaaaaaaa-aaaa-4aaa-aaaa-aaaaaaaaaaaa"
	turnB    = "bbbbbbbb-bbbb-4bbb-abbb-bbbbbbbbbbbb"
	turnC    = "cccccccc-cccc-4ccc-accc-cccccccccccc"
)

type testEngine struct {
	*Engine
	store   *store.Store
	sleeper *testutil.RecordingSleeper
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func setupTestEngine(t *testing.T, opts ...Option) *testEngine {
	t.Helper()
	s := setupTestStore(t)
	sleeper := testutil.NewRecordingSleeper()
	opts = append([]Option{
		WithSleeper(sleeper),
		WithIDGenerator(testutil.NewSequentialIDs()),
	}, opts...)
	e, err := New(s, opts...)
	require.NoError(t, err)
	return &testEngine{Engine: e, store: s, sleeper: sleeper}
}

// ingest submits a JSON array of events and requires a decodable batch.
func (te *testEngine) ingest(t *testing.T, events string) []ir.Result {
	t.Helper()
	results, err := te.IngestJSON(context.Background(), []byte(events))
	require.NoError(t, err)
	return results
}

func (te *testEngine) run(t *testing.T, id string) ir.Run {
	t.Helper()
	r, err := te.store.GetRun(context.Background(), ir.CoerceID(id))
	require.NoError(t, err)
	return r
}

func successes(results []ir.Result) []bool {
	out := make([]bool, len(results))
	for i, r := range results {
		out[i] = r.Success
	}
	return out
}

func ts(sec int) string {
	return time.Date(2024, 3, 1, 12, 0, sec, 0, time.UTC).Format(time.RFC3339Nano)
}

func tm(sec int) time.Time {
	return time.Date(2024, 3, 1, 12, 0, sec, 0, time.UTC)
}

// chatEvent renders one chat event on threadID.
func chatEvent(runID, role, content string, sec int, retry bool) string {
	msg := map[string]any{"role": role, "content": content}
	if retry {
		msg["isRetry"] = true
	}
	ev := map[string]any{
		"type":        "chat",
		"event":       "chat",
		"app":         "app-1",
		"parentRunId": threadID,
		"timestamp":   ts(sec),
		"message":     msg,
	}
	if runID != "" {
		ev["runId"] = runID
	}
	b, err := json.Marshal(ev)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func batch(events ...string) string {
	out := "["
	for i, ev := range events {
		if i > 0 {
			out += ","
		}
		out += ev
	}
	return out + "]"
}
