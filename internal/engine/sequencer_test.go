package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runledger/internal/ir"
)

func startEvent(runID string, sec int) string {
	return fmt.Sprintf(`{"type":"chain","event":"start","app":"app-1","runId":%q,"timestamp":%q}`, runID, ts(sec))
}

func TestIngest_ProcessesInTimestampOrder(t *testing.T) {
	te := setupTestEngine(t)

	results := te.ingest(t, batch(
		startEvent("r3", 3),
		startEvent("r1", 1),
		startEvent("r2", 2),
	))

	require.Len(t, results, 3)
	assert.Equal(t, "r1", results[0].ID)
	assert.Equal(t, "r2", results[1].ID)
	assert.Equal(t, "r3", results[2].ID)
	assert.Equal(t, []bool{true, true, true}, successes(results))
}

func TestIngest_ChildBeforeParentInSameBatch(t *testing.T) {
	te := setupTestEngine(t)

	child := fmt.Sprintf(`{"type":"tool","event":"start","runId":"child","parentRunId":"parent","timestamp":%q}`, ts(2))
	results := te.ingest(t, batch(child, startEvent("parent", 1)))

	assert.Equal(t, []bool{true, true}, successes(results))
	assert.Equal(t, ir.CoerceID("parent"), te.run(t, "child").ParentRun)
	assert.Zero(t, te.sleeper.Calls(), "parent from the same batch must not wait")
}

func TestIngest_PartialFailureIsolation(t *testing.T) {
	te := setupTestEngine(t)

	bad := `{"type":"chain","event":"start","runId":"r2","timestamp":"not-a-date"}`
	results := te.ingest(t, batch(startEvent("r1", 1), bad, startEvent("r3", 3)))

	require.Len(t, results, 3)
	assert.Equal(t, []bool{true, false, true}, successes(results))
	assert.Equal(t, "r2", results[1].ID)
	assert.Contains(t, results[1].Error, "VALIDATION")
	assert.Contains(t, results[1].Error, "timestamp")

	te.run(t, "r1")
	te.run(t, "r3")
}

func TestIngest_NonObjectEventFails(t *testing.T) {
	te := setupTestEngine(t)

	results := te.ingest(t, batch(`"hello"`, startEvent("r1", 1)))

	assert.Equal(t, []bool{false, true}, successes(results))
	assert.Equal(t, "", results[0].ID)
}

func TestIngestJSON_Envelope(t *testing.T) {
	te := setupTestEngine(t)

	results, err := te.IngestJSON(context.Background(), []byte(`{"events":`+startEvent("solo", 1)+`}`))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "solo", results[0].ID)

	results, err = te.IngestJSON(context.Background(), []byte(`{"events":[`+startEvent("a", 1)+`,`+startEvent("b", 2)+`]}`))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestIngestJSON_ProtocolErrors(t *testing.T) {
	te := setupTestEngine(t)

	for _, body := range []string{`{}`, `{"events":null}`, `not json`, `42`} {
		_, err := te.IngestJSON(context.Background(), []byte(body))
		assert.True(t, IsProtocolError(err), "body %s: %v", body, err)
	}
}

func TestIngest_EmptyBatch(t *testing.T) {
	te := setupTestEngine(t)
	results := te.ingest(t, `[]`)
	assert.Empty(t, results)
}

func TestIngest_CancelledContextFailsRemaining(t *testing.T) {
	te := setupTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batchItems := []any{
		map[string]any{"type": "chain", "event": "start", "runId": "r1", "timestamp": ts(1)},
	}
	results := te.Ingest(ctx, batchItems)

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "context canceled")
}

func TestIngest_LogEvent(t *testing.T) {
	te := setupTestEngine(t)

	logEv := fmt.Sprintf(`{"type":"log","event":"warn","app":"app-1","parentRunId":"r1","timestamp":%q,"message":"disk almost full","host":"web-1"}`, ts(2))
	results := te.ingest(t, batch(startEvent("r1", 1), logEv))
	assert.Equal(t, []bool{true, true}, successes(results))

	logs, err := te.store.ReadLogs(context.Background(), ir.CoerceID("r1"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "warn", logs[0].Level)
	assert.JSONEq(t, `"disk almost full"`, string(logs[0].Message))
	assert.JSONEq(t, `{"host":"web-1"}`, string(logs[0].Extra))
	assert.Equal(t, tm(2), logs[0].CreatedAt)
}

func TestIngest_LogWithoutRun(t *testing.T) {
	te := setupTestEngine(t)

	logEv := fmt.Sprintf(`{"type":"log","event":"info","timestamp":%q,"message":{"k":"v"}}`, ts(1))
	results := te.ingest(t, batch(logEv))
	assert.Equal(t, []bool{true}, successes(results))
}

func TestOrderBatch(t *testing.T) {
	items := []any{
		map[string]any{"id": "c", "timestamp": ts(3)},
		map[string]any{"id": "bad", "timestamp": "nope"},
		map[string]any{"id": "a", "timestamp": ts(1)},
		"not-an-object",
		map[string]any{"id": "b", "timestamp": ts(2)},
	}

	ordered := orderBatch(items)

	ids := make([]string, len(ordered))
	for i, item := range ordered {
		if m, ok := item.(map[string]any); ok {
			ids[i] = m["id"].(string)
		} else {
			ids[i] = item.(string)
		}
	}
	assert.Equal(t, []string{"a", "bad", "b", "not-an-object", "c"}, ids)
	assert.Equal(t, "c", items[0].(map[string]any)["id"], "input must not be reordered")
}

func TestOrderBatch_StableForEqualTimestamps(t *testing.T) {
	items := []any{
		map[string]any{"id": "first", "timestamp": ts(1)},
		map[string]any{"id": "second", "timestamp": ts(1)},
	}
	ordered := orderBatch(items)
	assert.Equal(t, "first", ordered[0].(map[string]any)["id"])
	assert.Equal(t, "second", ordered[1].(map[string]any)["id"])
}
