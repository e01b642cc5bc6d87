package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runledger/internal/ir"
)

func TestInsertRunIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	r := createTestRun("r1", ir.RunTypeLLM, at(0))
	r.Name = "gpt-4"
	r.Tags = []string{"prod", "beta"}
	r.Input = raw(`{"prompt": "hi"}`)
	r.Params = raw(`{"temperature":0.2}`)
	r.TemplateID = "tpl"
	r.Runtime = "go"

	inserted, err := s.InsertRun(ctx, r)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := r
	dup.Name = "other"
	inserted, err = s.InsertRun(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert of same id must be a no-op")

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", got.Name)
	assert.Equal(t, ir.RunTypeLLM, got.Type)
	assert.Equal(t, ir.StatusStarted, got.Status)
	assert.Equal(t, []string{"prod", "beta"}, got.Tags)
	assert.Equal(t, `{"prompt":"hi"}`, string(got.Input))
	assert.Equal(t, `{"temperature":0.2}`, string(got.Params))
	assert.Equal(t, "tpl", got.TemplateID)
	assert.Equal(t, "go", got.Runtime)
	assert.True(t, at(0).Equal(got.CreatedAt))
	assert.Nil(t, got.EndedAt)
	assert.Nil(t, got.Output)
}

func TestInsertRunParentForeignKey(t *testing.T) {
	s := createTestStore(t)

	child := createTestRun("child", ir.RunTypeTool, at(0))
	child.ParentRun = "missing-parent"
	_, err := s.InsertRun(context.Background(), child)
	assert.Error(t, err, "dangling parent_run must violate the foreign key")
}

func TestUpdateRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, createTestRun("r1", ir.RunTypeLLM, at(0)))

	status := ir.StatusSuccess
	ended := at(5)
	prompt, completion := int64(10), int64(20)
	n, err := s.UpdateRun(ctx, "r1", ir.RunPatch{
		Status:           &status,
		EndedAt:          &ended,
		Output:           raw(`"done"`),
		PromptTokens:     &prompt,
		CompletionTokens: &completion,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, ir.StatusSuccess, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.True(t, ended.Equal(*got.EndedAt))
	assert.Equal(t, `"done"`, string(got.Output))
	assert.Equal(t, int64(10), *got.PromptTokens)
	assert.Equal(t, int64(20), *got.CompletionTokens)
}

func TestUpdateRunMissingIsNotAnError(t *testing.T) {
	s := createTestStore(t)
	status := ir.StatusError
	n, err := s.UpdateRun(context.Background(), "nope", ir.RunPatch{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpdateRunEmptyPatch(t *testing.T) {
	s := createTestStore(t)
	mustInsert(t, s, createTestRun("r1", ir.RunTypeLLM, at(0)))
	n, err := s.UpdateRun(context.Background(), "r1", ir.RunPatch{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsertThread(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	thread := ir.Run{
		ID:        "t1",
		Type:      ir.RunTypeThread,
		App:       "app-1",
		Tags:      []string{"a"},
		Input:     raw(`{"role":"user","content":"hi"}`),
		CreatedAt: at(0),
	}
	got, err := s.UpsertThread(ctx, thread)
	require.NoError(t, err)
	assert.Equal(t, ir.RunTypeThread, got.Type)
	assert.Equal(t, []string{"a"}, got.Tags)

	thread.App = "app-2"
	thread.Tags = []string{"b"}
	thread.Input = raw(`{"role":"assistant","content":"hello"}`)
	thread.CreatedAt = at(10)
	got, err = s.UpsertThread(ctx, thread)
	require.NoError(t, err)

	assert.Equal(t, "app-2", got.App)
	assert.Equal(t, []string{"b"}, got.Tags)
	assert.Equal(t, `{"content":"hello","role":"assistant"}`, string(got.Input))
	assert.True(t, at(0).Equal(got.CreatedAt), "created_at is kept from the first insert")
}

func TestUpsertAppUser(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertAppUser(ctx, ir.AppUser{
		ExternalID: "u-1", App: "app-1", LastSeen: at(0), Props: raw(`{"plan":"free"}`),
	})
	require.NoError(t, err)

	id2, err := s.UpsertAppUser(ctx, ir.AppUser{ExternalID: "u-1", App: "app-1", LastSeen: at(30)})
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same (external_id, app) maps to one user")

	u, err := s.GetAppUser(ctx, id1)
	require.NoError(t, err)
	assert.True(t, at(30).Equal(u.LastSeen))
	assert.Equal(t, `{"plan":"free"}`, string(u.Props), "absent props keep the stored ones")

	other, err := s.UpsertAppUser(ctx, ir.AppUser{ExternalID: "u-1", App: "app-2", LastSeen: at(0)})
	require.NoError(t, err)
	assert.NotEqual(t, id1, other, "users are scoped per app")
}

func TestGetAppUserNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetAppUser(context.Background(), 99)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestInsertLog(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertLog(ctx, ir.LogEntry{
		RunID: "r1", App: "app-1", Level: "warn", Message: raw(`"careful"`), CreatedAt: at(0),
	}))
	require.NoError(t, s.InsertLog(ctx, ir.LogEntry{
		RunID: "r1", App: "app-1", Level: "info", Extra: raw(`{"k":1}`), CreatedAt: at(1),
	}))

	logs, err := s.ReadLogs(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "warn", logs[0].Level)
	assert.Equal(t, `"careful"`, string(logs[0].Message))
	assert.Equal(t, `{}`, string(logs[0].Extra))
	assert.Equal(t, `{"k":1}`, string(logs[1].Extra))
	assert.Nil(t, logs[1].Message)
}
