package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "One start event"
batches:
  - - type: llm
      event: start
      runId: run-1
      timestamp: "2024-03-01T12:00:00Z"
assertions:
  - type: results
    batch: 0
    success: [true]
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, "One start event", scenario.Description)
	require.Len(t, scenario.Batches, 1)
	require.Len(t, scenario.Batches[0], 1)
	assert.Equal(t, "run-1", scenario.Batches[0][0]["runId"])
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertResults, scenario.Assertions[0].Type)
	assert.Equal(t, []bool{true}, scenario.Assertions[0].Success)
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_RepositoryScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			require.NoError(t, err)
		})
	}
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nbatches: [[{type: llm}]]\nassertions: [{type: logs, run: r}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nbatches: [[{type: llm}]]\nassertions: [{type: logs, run: r}]\n",
			wantErr: "description is required",
		},
		{
			name:    "missing batches",
			yaml:    "name: n\ndescription: d\nassertions: [{type: logs, run: r}]\n",
			wantErr: "batches list is required",
		},
		{
			name:    "empty batch",
			yaml:    "name: n\ndescription: d\nbatches: [[]]\nassertions: [{type: logs, run: r}]\n",
			wantErr: "batches[0]: at least one event is required",
		},
		{
			name:    "missing assertions",
			yaml:    "name: n\ndescription: d\nbatches: [[{type: llm}]]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "assertion without type",
			yaml:    "name: n\ndescription: d\nbatches: [[{type: llm}]]\nassertions: [{run: r}]\n",
			wantErr: "assertions[0]: type is required",
		},
		{
			name:    "unknown assertion type",
			yaml:    "name: n\ndescription: d\nbatches: [[{type: llm}]]\nassertions: [{type: trace_order}]\n",
			wantErr: `unknown assertion type "trace_order"`,
		},
		{
			name:    "results batch out of range",
			yaml:    "name: n\ndescription: d\nbatches: [[{type: llm}]]\nassertions: [{type: results, batch: 1, success: [true]}]\n",
			wantErr: "batch 1 out of range",
		},
		{
			name:    "results without flags",
			yaml:    "name: n\ndescription: d\nbatches: [[{type: llm}]]\nassertions: [{type: results, batch: 0}]\n",
			wantErr: "success list is required",
		},
		{
			name:    "run without id",
			yaml:    "name: n\ndescription: d\nbatches: [[{type: llm}]]\nassertions: [{type: run, expect: {status: success}}]\n",
			wantErr: "run is required for run",
		},
		{
			name:    "run without expectation",
			yaml:    "name: n\ndescription: d\nbatches: [[{type: llm}]]\nassertions: [{type: run, run: r}]\n",
			wantErr: "expect or absent is required",
		},
		{
			name:    "thread without id",
			yaml:    "name: n\ndescription: d\nbatches: [[{type: llm}]]\nassertions: [{type: thread}]\n",
			wantErr: "thread is required",
		},
		{
			name:    "logs with negative count",
			yaml:    "name: n\ndescription: d\nbatches: [[{type: llm}]]\nassertions: [{type: logs, run: r, count: -1}]\n",
			wantErr: "count must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
