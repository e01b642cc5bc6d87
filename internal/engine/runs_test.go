package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runledger/internal/ir"
	"github.com/roach88/runledger/internal/store"
)

func TestRun_StartEndLifecycle(t *testing.T) {
	te := setupTestEngine(t)

	start := fmt.Sprintf(`{"type":"llm","event":"start","app":"app-1","runId":"R","timestamp":%q,
		"name":"models/gpt-x","input":"question","tags":"prod","extra":{"temperature":0.5}}`, ts(0))
	end := fmt.Sprintf(`{"type":"llm","event":"end","app":"app-1","runId":"R","timestamp":%q,
		"output":"answer","tokensUsage":{"prompt":12,"completion":34}}`, ts(5))

	results := te.ingest(t, batch(start, end))
	require.Equal(t, []bool{true, true}, successes(results))

	run := te.run(t, "R")
	assert.Equal(t, ir.CoerceID("R"), run.ID)
	assert.Equal(t, ir.RunTypeLLM, run.Type)
	assert.Equal(t, ir.StatusSuccess, run.Status)
	assert.Equal(t, "gpt-x", run.Name)
	assert.Equal(t, []string{"prod"}, run.Tags)
	assert.Equal(t, tm(0), run.CreatedAt)
	require.NotNil(t, run.EndedAt)
	assert.Equal(t, tm(5), *run.EndedAt)
	assert.JSONEq(t, `"question"`, string(run.Input))
	assert.JSONEq(t, `"answer"`, string(run.Output))
	assert.JSONEq(t, `{"temperature":0.5}`, string(run.Params))
	require.NotNil(t, run.PromptTokens)
	require.NotNil(t, run.CompletionTokens)
	assert.Equal(t, int64(12), *run.PromptTokens)
	assert.Equal(t, int64(34), *run.CompletionTokens)
}

func TestRun_EstimatesUsageAcrossStartAndEnd(t *testing.T) {
	te := setupTestEngine(t)

	start := fmt.Sprintf(`{"type":"llm","event":"start","runId":"R","timestamp":%q,
		"input":[{"role":"user","content":"What is the capital of France?"}]}`, ts(0))
	end := fmt.Sprintf(`{"type":"llm","event":"end","runId":"R","timestamp":%q,
		"output":{"role":"assistant","content":"Paris."}}`, ts(1))
	results := te.ingest(t, batch(start, end))
	require.Equal(t, []bool{true, true}, successes(results))

	run := te.run(t, "R")
	require.NotNil(t, run.PromptTokens)
	require.NotNil(t, run.CompletionTokens)
	assert.Positive(t, *run.PromptTokens)
	assert.Positive(t, *run.CompletionTokens)
}

func TestRun_EndUsageOverridesStartEstimate(t *testing.T) {
	te := setupTestEngine(t)

	start := fmt.Sprintf(`{"type":"llm","event":"start","runId":"R","timestamp":%q,"input":"hello there"}`, ts(0))
	end := fmt.Sprintf(`{"type":"llm","event":"end","runId":"R","timestamp":%q,
		"output":"hi","tokensUsage":{"prompt":40,"completion":2}}`, ts(1))
	te.ingest(t, batch(start, end))

	run := te.run(t, "R")
	require.NotNil(t, run.PromptTokens)
	assert.Equal(t, int64(40), *run.PromptTokens)
	assert.Equal(t, int64(2), *run.CompletionTokens)
}

func TestRun_ErrorEvent(t *testing.T) {
	te := setupTestEngine(t)

	fail := fmt.Sprintf(`{"type":"tool","event":"error","runId":"R","timestamp":%q,"error":{"message":"boom"}}`, ts(2))
	results := te.ingest(t, batch(startEvent("R", 1), fail))
	require.Equal(t, []bool{true, true}, successes(results))

	run := te.run(t, "R")
	assert.Equal(t, ir.StatusError, run.Status)
	assert.JSONEq(t, `{"message":"boom"}`, string(run.Error))
	require.NotNil(t, run.EndedAt)
	assert.Equal(t, tm(2), *run.EndedAt)
}

func TestRun_EndForMissingRunIsNotAnError(t *testing.T) {
	te := setupTestEngine(t)

	end := fmt.Sprintf(`{"type":"llm","event":"end","runId":"ghost","timestamp":%q}`, ts(1))
	results := te.ingest(t, batch(end))
	assert.Equal(t, []bool{true}, successes(results))

	_, err := te.store.GetRun(context.Background(), ir.CoerceID("ghost"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_StartIsIdempotent(t *testing.T) {
	te := setupTestEngine(t)

	results := te.ingest(t, batch(startEvent("R", 1)))
	require.Equal(t, []bool{true}, successes(results))
	results = te.ingest(t, batch(startEvent("R", 1), startEvent("R", 2)))
	require.Equal(t, []bool{true, true}, successes(results))

	assert.Equal(t, tm(1), te.run(t, "R").CreatedAt)
}

func TestRun_FeedbackShallowMerge(t *testing.T) {
	te := setupTestEngine(t)

	fb1 := fmt.Sprintf(`{"type":"llm","event":"feedback","runId":"R","timestamp":%q,"feedback":{"thumbs":"up","comment":"ok"}}`, ts(2))
	fb2 := fmt.Sprintf(`{"type":"llm","event":"feedback","runId":"R","timestamp":%q,"feedback":{"thumbs":"down","score":3}}`, ts(3))
	results := te.ingest(t, batch(startEvent("R", 1), fb1, fb2))
	require.Equal(t, []bool{true, true, true}, successes(results))

	assert.JSONEq(t, `{"thumbs":"down","comment":"ok","score":3}`, string(te.run(t, "R").Feedback))
}

func TestRun_FeedbackMergesExtra(t *testing.T) {
	te := setupTestEngine(t)

	fb := fmt.Sprintf(`{"type":"llm","event":"feedback","runId":"R","timestamp":%q,
		"feedback":{"thumbs":"up","source":"api"},"extra":{"source":"widget"}}`, ts(2))
	results := te.ingest(t, batch(startEvent("R", 1), fb))
	require.Equal(t, []bool{true, true}, successes(results))

	assert.JSONEq(t, `{"thumbs":"up","source":"widget"}`, string(te.run(t, "R").Feedback))
}

func TestRun_FeedbackForMissingRun(t *testing.T) {
	te := setupTestEngine(t)

	fb := fmt.Sprintf(`{"type":"llm","event":"feedback","runId":"ghost","timestamp":%q,"feedback":{"a":1}}`, ts(1))
	assert.Equal(t, []bool{true}, successes(te.ingest(t, batch(fb))))
}

func TestRun_ParentVisibleAfterRetry(t *testing.T) {
	te := setupTestEngine(t)
	parentID := ir.CoerceID("P")

	te.sleeper.OnSleep(func(ctx context.Context) {
		_, err := te.store.InsertRun(ctx, ir.Run{ID: parentID, Type: ir.RunTypeChain, App: "app-1", CreatedAt: tm(0)})
		require.NoError(t, err)
	})

	child := fmt.Sprintf(`{"type":"tool","event":"start","runId":"child","parentRunId":"P","timestamp":%q}`, ts(1))
	results := te.ingest(t, batch(child))

	require.Equal(t, []bool{true}, successes(results))
	assert.Equal(t, parentID, te.run(t, "child").ParentRun)
	assert.Equal(t, []time.Duration{DefaultParentRetryDelay}, te.sleeper.Delays())
}

func TestRun_ParentNeverVisibleDropsLink(t *testing.T) {
	te := setupTestEngine(t, WithParentRetryDelay(500*time.Millisecond))

	child := fmt.Sprintf(`{"type":"tool","event":"start","runId":"child","parentRunId":"P","timestamp":%q}`, ts(1))
	results := te.ingest(t, batch(child))

	require.Equal(t, []bool{true}, successes(results))
	assert.Empty(t, te.run(t, "child").ParentRun)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, te.sleeper.Delays())
}

func TestRun_ParentFromEarlierBatch(t *testing.T) {
	te := setupTestEngine(t)

	te.ingest(t, batch(startEvent("P", 1)))
	child := fmt.Sprintf(`{"type":"tool","event":"start","runId":"child","parentRunId":"P","timestamp":%q}`, ts(2))
	te.ingest(t, batch(child))

	assert.Equal(t, ir.CoerceID("P"), te.run(t, "child").ParentRun)
	assert.Zero(t, te.sleeper.Calls())
}

func TestRun_UserUpsertAndInheritance(t *testing.T) {
	te := setupTestEngine(t)

	parent := fmt.Sprintf(`{"type":"agent","event":"start","app":"app-1","runId":"P","timestamp":%q,
		"userId":"ext-7","userProps":{"plan":"pro"}}`, ts(1))
	child := fmt.Sprintf(`{"type":"llm","event":"start","app":"app-1","runId":"C","parentRunId":"P","timestamp":%q}`, ts(2))
	results := te.ingest(t, batch(parent, child))
	require.Equal(t, []bool{true, true}, successes(results))

	p := te.run(t, "P")
	c := te.run(t, "C")
	require.NotNil(t, p.UserID)
	require.NotNil(t, c.UserID)
	assert.Equal(t, *p.UserID, *c.UserID)

	user, err := te.store.GetAppUser(context.Background(), *p.UserID)
	require.NoError(t, err)
	assert.Equal(t, "ext-7", user.ExternalID)
	assert.Equal(t, "app-1", user.App)
	assert.Equal(t, tm(1), user.LastSeen)
	assert.JSONEq(t, `{"plan":"pro"}`, string(user.Props))
}

func TestRun_ChildKeepsOwnUser(t *testing.T) {
	te := setupTestEngine(t)

	parent := fmt.Sprintf(`{"type":"agent","event":"start","app":"app-1","runId":"P","timestamp":%q,"userId":"alice"}`, ts(1))
	child := fmt.Sprintf(`{"type":"llm","event":"start","app":"app-1","runId":"C","parentRunId":"P","timestamp":%q,"userId":"bob"}`, ts(2))
	te.ingest(t, batch(parent, child))

	p := te.run(t, "P")
	c := te.run(t, "C")
	require.NotNil(t, c.UserID)
	assert.NotEqual(t, *p.UserID, *c.UserID)
}

func TestRun_EndDoesNotTouchUsers(t *testing.T) {
	te := setupTestEngine(t)

	end := fmt.Sprintf(`{"type":"llm","event":"end","app":"app-1","runId":"R","timestamp":%q,"userId":"ext-1"}`, ts(2))
	te.ingest(t, batch(startEvent("R", 1), end))

	_, err := te.store.GetAppUser(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_ValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		event string
		want  string
	}{
		{"unknown event", `{"type":"llm","event":"bogus","runId":"R","timestamp":1700000000000}`, "unknown event"},
		{"missing event", `{"type":"llm","runId":"R","timestamp":1700000000000}`, "missing event name"},
		{"missing run id", `{"type":"llm","event":"start","timestamp":1700000000000}`, "requires runId"},
		{"numeric run id", `{"type":"llm","event":"start","runId":42,"timestamp":1700000000000}`, "invalid event"},
		{"missing type", `{"event":"start","runId":"R","timestamp":1700000000000}`, "invalid event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := setupTestEngine(t)
			results := te.ingest(t, batch(tt.event))
			require.Len(t, results, 1)
			assert.False(t, results[0].Success)
			assert.Contains(t, results[0].Error, "VALIDATION")
			assert.Contains(t, results[0].Error, tt.want)
		})
	}
}

func TestRun_RejectedEventsWriteNoUser(t *testing.T) {
	tests := []struct {
		name  string
		event string
	}{
		{"unknown event", `{"type":"llm","event":"bogus","runId":"R","userId":"ext-1","timestamp":1700000000000}`},
		{"missing run id", `{"type":"llm","event":"start","userId":"ext-1","timestamp":1700000000000}`},
		{"unknown chat role", `{"type":"chat","event":"chat","parentRunId":"T","userId":"ext-1","timestamp":1700000000000,
			"message":{"role":"narrator","content":"x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := setupTestEngine(t)
			results := te.ingest(t, batch(tt.event))
			require.Len(t, results, 1)
			require.False(t, results[0].Success)

			_, err := te.store.GetAppUser(context.Background(), 1)
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

// failingStore rejects every run insert.
type failingStore struct {
	*store.Store
}

func (failingStore) InsertRun(context.Context, ir.Run) (bool, error) {
	return false, errors.New("database is locked")
}

func TestRun_PersistenceFailureIsLocal(t *testing.T) {
	s := setupTestStore(t)
	e, err := New(failingStore{s})
	require.NoError(t, err)

	feedback := fmt.Sprintf(`{"type":"llm","event":"feedback","runId":"R","timestamp":%q,"feedback":{"a":1}}`, ts(2))
	results, err := e.IngestJSON(context.Background(), []byte(batch(startEvent("R", 1), feedback)))
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "PERSISTENCE")
	assert.Contains(t, results[0].Error, "database is locked")
	assert.True(t, results[1].Success)
}
